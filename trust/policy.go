// Package trust implements the federation trust policy: a framed text
// document naming which DIDs may act in which roles, who administers the
// policy, and whether it can be superseded through the graph.
package trust

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"icn.coop/mesh/keys"
)

const (
	preamble  = "-----BEGIN ICN TRUST POLICY-----"
	postamble = "-----END ICN TRUST POLICY-----"
)

// Role is a capability a trusted DID may exercise.
type Role string

const (
	RoleManifestProvider Role = "manifest_provider"
	RoleRequestor        Role = "requestor"
	RoleWorker           Role = "worker"
	RoleScheduler        Role = "scheduler"
	RoleAdmin            Role = "admin"
)

// Level is the trust level granted to a DID in the TRUST section. Every
// level except full grants exactly the role of the same name; full grants
// all roles except admin, which only the ADMINS section confers.
type Level string

const (
	LevelFull             Level = "full"
	LevelManifestProvider Level = "manifest_provider"
	LevelRequestor        Level = "requestor"
	LevelWorker           Level = "worker"
	LevelScheduler        Level = "scheduler"
)

var validLevels = map[Level]bool{
	LevelFull:             true,
	LevelManifestProvider: true,
	LevelRequestor:        true,
	LevelWorker:           true,
	LevelScheduler:        true,
}

// Entry grants one DID a trust level, optionally until Expires.
type Entry struct {
	DID     string
	Level   Level
	Expires int64 // unix seconds, 0 means never
	Notes   string
}

// Policy is a parsed trust policy document.
type Policy struct {
	FederationID    string
	Version         uint64
	AllowDAGUpdates bool
	Entries         []Entry
	Admins          []string
}

// Parse parses a framed trust policy. Input discipline matches the wire
// layer: no BOM, no CR line endings, no trailing whitespace.
func Parse(data []byte) (*Policy, error) {
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		return nil, errors.New("trust: BOM not allowed")
	}
	if bytes.Contains(data, []byte("\r")) {
		return nil, errors.New("trust: CR line endings not allowed")
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(line) > 0 && (line[len(line)-1] == ' ' || line[len(line)-1] == '\t') {
			return nil, errors.New("trust: trailing whitespace forbidden")
		}
	}
	if !bytes.HasPrefix(data, []byte(preamble)) {
		return nil, errors.New("trust: missing policy preamble")
	}
	if !bytes.HasSuffix(bytes.TrimSpace(data), []byte(postamble)) {
		return nil, errors.New("trust: missing policy postamble")
	}

	lines := strings.Split(string(data), "\n")
	sections := map[string]bool{"META": true, "TRUST": true, "ADMINS": true}
	p := &Policy{}
	seen := make(map[string]bool)
	var currSection string
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == preamble || line == postamble || line == "" {
			continue
		}
		if sections[line] {
			currSection = line
			continue
		}
		switch currSection {
		case "META":
			if kv := strings.SplitN(line, ": ", 2); len(kv) == 2 {
				if err := p.setMeta(kv[0], kv[1]); err != nil {
					return nil, err
				}
			}
		case "TRUST":
			if !strings.HasPrefix(line, "DID: ") {
				return nil, fmt.Errorf("trust: expected DID line, got %q", line)
			}
			entry, next, err := parseEntry(strings.TrimPrefix(line, "DID: "), lines, i+1)
			if err != nil {
				return nil, err
			}
			if seen[entry.DID] {
				return nil, fmt.Errorf("trust: duplicate entry for %s", entry.DID)
			}
			seen[entry.DID] = true
			p.Entries = append(p.Entries, entry)
			i = next - 1
		case "ADMINS":
			if !strings.HasPrefix(line, "DID: ") {
				return nil, fmt.Errorf("trust: expected DID line, got %q", line)
			}
			did := strings.TrimPrefix(line, "DID: ")
			if err := keys.CheckDID(did); err != nil {
				return nil, fmt.Errorf("trust: admin %q: %w", did, err)
			}
			p.Admins = append(p.Admins, did)
		}
	}

	if p.FederationID == "" {
		return nil, errors.New("trust: META missing federation_id")
	}
	return p, nil
}

func (p *Policy) setMeta(key, value string) error {
	switch key {
	case "federation_id":
		p.FederationID = value
	case "version":
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.New("trust: invalid version")
		}
		p.Version = v
	case "allow_dag_updates":
		switch value {
		case "true":
			p.AllowDAGUpdates = true
		case "false":
			p.AllowDAGUpdates = false
		default:
			return errors.New("trust: allow_dag_updates must be true or false")
		}
	}
	return nil
}

// parseEntry consumes the attribute lines that follow a DID line, starting
// at lines[start], and returns the entry plus the index of the first line
// it did not consume. Level is required; Expires (RFC 3339) and Notes are
// optional.
func parseEntry(did string, lines []string, start int) (Entry, int, error) {
	e := Entry{DID: did}
	if err := keys.CheckDID(did); err != nil {
		return e, start, fmt.Errorf("trust: entry %q: %w", did, err)
	}
	i := start
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		switch {
		case strings.HasPrefix(line, "Level: "):
			lvl := Level(strings.TrimPrefix(line, "Level: "))
			if !validLevels[lvl] {
				return e, i, fmt.Errorf("trust: unknown level %q", lvl)
			}
			e.Level = lvl
		case strings.HasPrefix(line, "Expires: "):
			ts, err := time.Parse(time.RFC3339, strings.TrimPrefix(line, "Expires: "))
			if err != nil {
				return e, i, errors.New("trust: Expires must be RFC 3339")
			}
			e.Expires = ts.Unix()
		case strings.HasPrefix(line, "Notes: "):
			e.Notes = strings.TrimPrefix(line, "Notes: ")
		default:
			if e.Level == "" {
				return e, i, fmt.Errorf("trust: entry %s missing Level", did)
			}
			return e, i, nil
		}
	}
	if e.Level == "" {
		return e, i, fmt.Errorf("trust: entry %s missing Level", did)
	}
	return e, i, nil
}

// Encode renders the policy back to framed text. Entries and admins are
// emitted sorted by DID so equal policies encode identically.
func (p *Policy) Encode() []byte {
	var b strings.Builder
	b.WriteString(preamble + "\n")
	b.WriteString("META\n")
	b.WriteString("federation_id: " + p.FederationID + "\n")
	b.WriteString("version: " + strconv.FormatUint(p.Version, 10) + "\n")
	b.WriteString("allow_dag_updates: " + strconv.FormatBool(p.AllowDAGUpdates) + "\n")

	entries := make([]Entry, len(p.Entries))
	copy(entries, p.Entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].DID < entries[j].DID })
	b.WriteString("TRUST\n")
	for _, e := range entries {
		b.WriteString("DID: " + e.DID + "\n")
		b.WriteString("Level: " + string(e.Level) + "\n")
		if e.Expires > 0 {
			b.WriteString("Expires: " + time.Unix(e.Expires, 0).UTC().Format(time.RFC3339) + "\n")
		}
		if e.Notes != "" {
			b.WriteString("Notes: " + e.Notes + "\n")
		}
	}

	admins := make([]string, len(p.Admins))
	copy(admins, p.Admins)
	sort.Strings(admins)
	b.WriteString("ADMINS\n")
	for _, did := range admins {
		b.WriteString("DID: " + did + "\n")
	}
	b.WriteString(postamble + "\n")
	return []byte(b.String())
}

// IsAdmin reports whether did appears in the ADMINS section.
func (p *Policy) IsAdmin(did string) bool {
	for _, a := range p.Admins {
		if a == did {
			return true
		}
	}
	return false
}

// IsTrustedFor reports whether did may act in role at time now. RoleAdmin
// is answered from the ADMINS section and does not expire; every other
// role requires an unexpired TRUST entry at level full or the role's own
// level.
func (p *Policy) IsTrustedFor(did string, role Role, now int64) bool {
	if role == RoleAdmin {
		return p.IsAdmin(did)
	}
	for _, e := range p.Entries {
		if e.DID != did {
			continue
		}
		if e.Expires > 0 && e.Expires <= now {
			return false
		}
		return e.Level == LevelFull || string(e.Level) == string(role)
	}
	return false
}
