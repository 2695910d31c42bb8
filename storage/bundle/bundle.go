// Package bundle implements deterministic TAR snapshots of a set of
// CID-addressed graph nodes, the offline hand-off artifact for scope state.
package bundle

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"icn.coop/mesh/cidutil"
	"icn.coop/mesh/storage"
)

// FormatVersion is the current bundle index schema version.
const FormatVersion = 1

var epoch0 = time.Unix(0, 0).UTC()

// CheckFunc validates a blob against its claimed CID. The graph layer
// supplies a check that decodes the node envelope and re-verifies the CID
// binding; a nil check accepts any bytes under any key.
type CheckFunc func(id cid.Cid, data []byte) error

type indexBlock struct {
	CID  string `json:"cid"`
	Size int    `json:"size"`
}

type indexLabel struct {
	Name string `json:"name"`
	CID  string `json:"cid"`
}

type indexJSON struct {
	Version   int          `json:"version"`
	CIDCodec  string       `json:"cidCodec"`
	Multihash string       `json:"multihash"`
	Blocks    []indexBlock `json:"blocks"`
	Labels    []indexLabel `json:"labels,omitempty"`
}

// ExportOptions controls bundle export behavior.
type ExportOptions struct {
	// Labels is optional, non-authoritative metadata mapping names
	// (for example scope tips) to CIDs.
	Labels map[string]cid.Cid
	// IncludeIndex controls whether index.json is included.
	IncludeIndex bool
}

// Export writes a deterministic TAR bundle containing the blobs for the
// given CIDs.
//
// The bundle bytes are deterministic: entry order is lexicographic and TAR
// headers are normalized to the zero epoch.
func Export(w io.Writer, store storage.Store, ids []cid.Cid, opts ExportOptions) error {
	if store == nil {
		return fmt.Errorf("bundle: nil store")
	}

	uniq := make(map[string]cid.Cid, len(ids))
	for _, id := range ids {
		if err := cidutil.Check(id); err != nil {
			return storage.ErrInvalidCID
		}
		uniq[id.String()] = id
	}

	cidStrings := make([]string, 0, len(uniq))
	for s := range uniq {
		cidStrings = append(cidStrings, s)
	}
	sort.Strings(cidStrings)

	tw := tar.NewWriter(w)

	blocks := make([]indexBlock, 0, len(cidStrings))
	for _, s := range cidStrings {
		id := uniq[s]
		b, err := store.Get(id)
		if err != nil {
			_ = tw.Close()
			return err
		}
		if err := writeFile(tw, "blocks/"+id.String(), b); err != nil {
			_ = tw.Close()
			return err
		}
		blocks = append(blocks, indexBlock{CID: id.String(), Size: len(b)})
	}

	if opts.IncludeIndex {
		idx := indexJSON{
			Version:   FormatVersion,
			CIDCodec:  "raw",
			Multihash: "sha2-256",
			Blocks:    blocks,
		}
		if len(opts.Labels) > 0 {
			names := make([]string, 0, len(opts.Labels))
			for k := range opts.Labels {
				names = append(names, k)
			}
			sort.Strings(names)

			labels := make([]indexLabel, 0, len(names))
			for _, k := range names {
				if k == "" {
					_ = tw.Close()
					return fmt.Errorf("bundle: empty label key")
				}
				v := opts.Labels[k]
				if !v.Defined() {
					_ = tw.Close()
					return storage.ErrInvalidCID
				}
				labels = append(labels, indexLabel{Name: k, CID: v.String()})
			}
			idx.Labels = labels
		}

		// indexJSON is composed only of structs + slices; encoding/json is
		// deterministic here.
		b, err := json.Marshal(idx)
		if err != nil {
			_ = tw.Close()
			return err
		}
		if err := writeFile(tw, "index.json", append(b, '\n')); err != nil {
			_ = tw.Close()
			return err
		}
	}

	return tw.Close()
}

// ImportOptions controls bundle import behavior.
type ImportOptions struct {
	// IgnoreUnknown controls whether unknown TAR entries are ignored.
	// Default (false) is fail-closed.
	IgnoreUnknown bool
	// Check validates each block before it is stored. Nil accepts all.
	Check CheckFunc
}

// Import reads a bundle from r and imports all blocks into store.
func Import(r io.Reader, store storage.Store) error {
	return ImportWithOptions(r, store, ImportOptions{})
}

// ImportWithOptions reads a bundle from r and imports all blocks into
// store, validating each entry's filename CID and running opts.Check.
func ImportWithOptions(r io.Reader, store storage.Store, opts ImportOptions) error {
	if store == nil {
		return fmt.Errorf("bundle: nil store")
	}

	tr := tar.NewReader(r)
	seen := map[string]struct{}{}

	for {
		h, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}

		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		// Non-authoritative metadata.
		if name == "index.json" {
			_, _ = io.Copy(io.Discard, tr)
			continue
		}

		if !strings.HasPrefix(name, "blocks/") {
			if opts.IgnoreUnknown {
				_, _ = io.Copy(io.Discard, tr)
				continue
			}
			return fmt.Errorf("bundle: unknown entry: %s", name)
		}

		id, derr := cidutil.Parse(strings.TrimPrefix(name, "blocks/"))
		if derr != nil {
			return storage.ErrInvalidCID
		}

		payload, rerr := io.ReadAll(tr)
		if rerr != nil {
			return rerr
		}
		if opts.Check != nil {
			if cerr := opts.Check(id, payload); cerr != nil {
				return fmt.Errorf("bundle: block %s failed validation: %w", id, cerr)
			}
		}

		key := id.String()
		if _, ok := seen[key]; ok {
			return fmt.Errorf("bundle: duplicate block entry: %s", key)
		}
		seen[key] = struct{}{}

		if perr := store.Put(id, payload); perr != nil {
			return perr
		}
	}
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}

	parts := strings.Split(name, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return ""
		}
		out = append(out, part)
	}
	return strings.Join(out, "/")
}
