// Command icn-mesh is the operator CLI: key management, node submission,
// proposals and votes, capability queries and dispatch audits against a
// running icn-meshd.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"

	"icn.coop/mesh/api"
	"icn.coop/mesh/cidutil"
	"icn.coop/mesh/dag"
	"icn.coop/mesh/keys"
	"icn.coop/mesh/trust"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "node":
		return cmdNode(args[1:], out, errOut)
	case "thread":
		return cmdThread(args[1:], out, errOut)
	case "propose":
		return cmdPropose(args[1:], out, errOut)
	case "vote":
		return cmdVote(args[1:], out, errOut)
	case "quorum":
		return cmdQuorum(args[1:], out, errOut)
	case "manifest":
		return cmdManifest(args[1:], out, errOut)
	case "task":
		return cmdTask(args[1:], out, errOut)
	case "matches":
		return cmdMatches(args[1:], out, errOut)
	case "audit":
		return cmdAudit(args[1:], out, errOut)
	case "policy":
		return cmdPolicy(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "icn-mesh: federation mesh CLI")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  icn-mesh key init --name <name> [--seed-hex <64hex>] [--force]")
	fmt.Fprintln(w, "  icn-mesh key derive --from <name> --role <role> [--force]")
	fmt.Fprintln(w, "  icn-mesh key list")
	fmt.Fprintln(w, "  icn-mesh node submit <file>")
	fmt.Fprintln(w, "  icn-mesh node get <cid>")
	fmt.Fprintln(w, "  icn-mesh node has <cid>")
	fmt.Fprintln(w, "  icn-mesh thread <scope>")
	fmt.Fprintln(w, "  icn-mesh propose --scope <id> --title <text> --duration <secs> [--threshold majority|percentage|unanimous|weighted] [--percentage <p>] [--veto] <signer flags>")
	fmt.Fprintln(w, "  icn-mesh vote --scope <id> --proposal <id> --decision approve|reject|veto <signer flags>")
	fmt.Fprintln(w, "  icn-mesh quorum <proposal-cid>")
	fmt.Fprintln(w, "  icn-mesh manifest publish --scope <id> --file <manifest.json> <signer flags>")
	fmt.Fprintln(w, "  icn-mesh task submit --scope <id> --file <task.json> <signer flags>")
	fmt.Fprintln(w, "  icn-mesh task bid --scope <id> --file <bid.json> <signer flags>")
	fmt.Fprintln(w, "  icn-mesh matches [--selector <selector.json>]")
	fmt.Fprintln(w, "  icn-mesh audit <receipt-cid>")
	fmt.Fprintln(w, "  icn-mesh policy check <file>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Signer flags: --signer <name> [--signer-role <role>] | --seed-hex <64hex>")
	fmt.Fprintln(w, "Daemon address: --addr (default 127.0.0.1:7410)")
}

// signerFlags and addrFlag are registered on every flag set that needs them.
type commonFlags struct {
	addr       string
	signer     string
	signerRole string
	seedHex    string
}

func registerCommon(fs *flag.FlagSet, cf *commonFlags, withSigner bool) {
	fs.StringVar(&cf.addr, "addr", "127.0.0.1:7410", "daemon address")
	if withSigner {
		fs.StringVar(&cf.signer, "signer", "", "keystore signer name")
		fs.StringVar(&cf.signerRole, "signer-role", "", "keystore signer role")
		fs.StringVar(&cf.seedHex, "seed-hex", "", "ed25519 seed (64 hex chars)")
	}
}

func (cf *commonFlags) dial() (*api.Client, error) {
	c, err := api.Dial(cf.addr, api.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	c.Timeout = 30 * time.Second
	return c, nil
}

func (cf *commonFlags) loadSigner() (keys.Signer, error) {
	if cf.seedHex != "" {
		seed, err := keys.ParseSeedHex(cf.seedHex)
		if err != nil {
			return nil, err
		}
		return keys.NewEd25519SignerFromSeed(seed)
	}
	if cf.signer == "" {
		return nil, errors.New("no signer: pass --signer or --seed-hex")
	}
	dir, err := keys.DefaultDirectory()
	if err != nil {
		return nil, err
	}
	ks, err := keys.OpenKeyStore(dir)
	if err != nil {
		return nil, err
	}
	return ks.Signer(cf.signer, cf.signerRole)
}

func cmdKey(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "key: expected init, derive or list")
		return 2
	}
	dir, err := keys.DefaultDirectory()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	ks, err := keys.OpenKeyStore(dir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	switch args[0] {
	case "init":
		fs := flag.NewFlagSet("key init", flag.ExitOnError)
		name := fs.String("name", "", "key name")
		seedHex := fs.String("seed-hex", "", "ed25519 seed (64 hex chars); random if omitted")
		force := fs.Bool("force", false, "overwrite existing key")
		_ = fs.Parse(args[1:])
		if *name == "" {
			fmt.Fprintln(errOut, "key init: --name required")
			return 2
		}
		var seed []byte
		if *seedHex != "" {
			seed, err = keys.ParseSeedHex(*seedHex)
			if err != nil {
				fmt.Fprintln(errOut, err)
				return 2
			}
		} else {
			seed = make([]byte, ed25519.SeedSize)
			if _, err := rand.Read(seed); err != nil {
				fmt.Fprintln(errOut, err)
				return 1
			}
		}
		did, path, err := ks.InitializeRootKey(*name, seed, *force)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		fmt.Fprintf(out, "%s\t%s\n", did, path)
		return 0
	case "derive":
		fs := flag.NewFlagSet("key derive", flag.ExitOnError)
		from := fs.String("from", "", "root key name")
		role := fs.String("role", "", "role name")
		force := fs.Bool("force", false, "overwrite existing key")
		_ = fs.Parse(args[1:])
		if *from == "" || *role == "" {
			fmt.Fprintln(errOut, "key derive: --from and --role required")
			return 2
		}
		did, path, err := ks.DeriveRoleKey(*from, *role, *force)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		fmt.Fprintf(out, "%s\t%s\n", did, path)
		return 0
	case "list":
		entries, err := ks.ListKeys()
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%s\t%v\n", e.Identifier, e.Roles)
		}
		return 0
	default:
		fmt.Fprintf(errOut, "key: unknown subcommand %s\n", args[0])
		return 2
	}
}

func cmdNode(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "node: expected submit, get or has")
		return 2
	}
	var cf commonFlags
	fs := flag.NewFlagSet("node "+args[0], flag.ExitOnError)
	registerCommon(fs, &cf, false)
	_ = fs.Parse(args[1:])
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintf(errOut, "node %s: expected one argument\n", args[0])
		return 2
	}

	client, err := cf.dial()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer client.Close()

	switch args[0] {
	case "submit":
		data, err := os.ReadFile(rest[0])
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		id, err := client.SubmitNode(data)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		fmt.Fprintln(out, id.String())
		return 0
	case "get":
		id, err := cidutil.Parse(rest[0])
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
		n, err := client.GetNode(id)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		data, err := n.Encode()
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		_, _ = out.Write(data)
		fmt.Fprintln(out)
		return 0
	case "has":
		id, err := cidutil.Parse(rest[0])
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
		ok, err := client.HasNode(id)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		fmt.Fprintln(out, ok)
		return 0
	default:
		fmt.Fprintf(errOut, "node: unknown subcommand %s\n", args[0])
		return 2
	}
}

func cmdThread(args []string, out io.Writer, errOut io.Writer) int {
	var cf commonFlags
	fs := flag.NewFlagSet("thread", flag.ExitOnError)
	registerCommon(fs, &cf, false)
	_ = fs.Parse(args)
	if len(fs.Args()) != 1 {
		fmt.Fprintln(errOut, "thread: expected one scope argument")
		return 2
	}
	client, err := cf.dial()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer client.Close()

	cids, err := client.GetThread(fs.Args()[0])
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	for _, c := range cids {
		fmt.Fprintln(out, c)
	}
	return 0
}

func cmdPropose(args []string, out io.Writer, errOut io.Writer) int {
	var cf commonFlags
	fs := flag.NewFlagSet("propose", flag.ExitOnError)
	registerCommon(fs, &cf, true)
	scopeID := fs.String("scope", "", "scope to anchor the proposal in")
	title := fs.String("title", "", "proposal title")
	duration := fs.Int64("duration", 86400, "voting window in seconds")
	threshold := fs.String("threshold", "majority", "threshold type")
	percentage := fs.Float64("percentage", 0, "approval fraction for percentage threshold")
	veto := fs.Bool("veto", false, "enable veto")
	bodyRef := fs.String("body-ref", "", "CID of the proposal body node")
	_ = fs.Parse(args)
	if *scopeID == "" || *title == "" {
		fmt.Fprintln(errOut, "propose: --scope and --title required")
		return 2
	}

	payload := &dag.Proposal{
		BodyRef:            *bodyRef,
		ID:                 uuid.NewString(),
		Scope:              *scopeID,
		Status:             dag.ProposalActive,
		Title:              *title,
		VotingDurationSecs: *duration,
		VotingThreshold: dag.ThresholdPolicy{
			Percentage:  *percentage,
			Type:        dag.ThresholdType(*threshold),
			VetoEnabled: *veto,
		},
	}
	id, err := submitSigned(&cf, *scopeID, payload)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "%s\t%s\n", payload.ID, id)
	return 0
}

func cmdVote(args []string, out io.Writer, errOut io.Writer) int {
	var cf commonFlags
	fs := flag.NewFlagSet("vote", flag.ExitOnError)
	registerCommon(fs, &cf, true)
	scopeID := fs.String("scope", "", "scope the proposal lives in")
	proposalID := fs.String("proposal", "", "proposal id")
	decision := fs.String("decision", "", "approve, reject or veto")
	_ = fs.Parse(args)
	if *scopeID == "" || *proposalID == "" || *decision == "" {
		fmt.Fprintln(errOut, "vote: --scope, --proposal and --decision required")
		return 2
	}

	signer, err := cf.loadSigner()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	payload := &dag.Vote{
		Decision:   dag.VoteDecision(*decision),
		ProposalID: *proposalID,
		Timestamp:  time.Now().Unix(),
		VoterDID:   signer.DID(),
	}
	id, err := submitSigned(&cf, *scopeID, payload)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, id)
	return 0
}

func cmdQuorum(args []string, out io.Writer, errOut io.Writer) int {
	var cf commonFlags
	fs := flag.NewFlagSet("quorum", flag.ExitOnError)
	registerCommon(fs, &cf, false)
	_ = fs.Parse(args)
	if len(fs.Args()) != 1 {
		fmt.Fprintln(errOut, "quorum: expected one proposal CID argument")
		return 2
	}
	id, err := cidutil.Parse(fs.Args()[0])
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	client, err := cf.dial()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer client.Close()

	tally, err := client.EvaluateQuorum(id)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return printJSON(out, errOut, tally)
}

func cmdManifest(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 || args[0] != "publish" {
		fmt.Fprintln(errOut, "manifest: expected publish")
		return 2
	}
	var cf commonFlags
	fs := flag.NewFlagSet("manifest publish", flag.ExitOnError)
	registerCommon(fs, &cf, true)
	scopeID := fs.String("scope", "", "scope to anchor the manifest in")
	file := fs.String("file", "", "manifest JSON file")
	_ = fs.Parse(args[1:])
	if *scopeID == "" || *file == "" {
		fmt.Fprintln(errOut, "manifest publish: --scope and --file required")
		return 2
	}

	var m dag.NodeManifest
	if err := readJSONFile(*file, &m); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if m.LastSeen == 0 {
		m.LastSeen = time.Now().Unix()
	}
	id, err := submitSigned(&cf, *scopeID, &m)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, id)
	return 0
}

func cmdTask(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 || (args[0] != "submit" && args[0] != "bid") {
		fmt.Fprintln(errOut, "task: expected submit or bid")
		return 2
	}
	var cf commonFlags
	fs := flag.NewFlagSet("task "+args[0], flag.ExitOnError)
	registerCommon(fs, &cf, true)
	scopeID := fs.String("scope", "", "scope to anchor in")
	file := fs.String("file", "", "payload JSON file")
	_ = fs.Parse(args[1:])
	if *scopeID == "" || *file == "" {
		fmt.Fprintf(errOut, "task %s: --scope and --file required\n", args[0])
		return 2
	}

	var payload dag.Payload
	switch args[0] {
	case "submit":
		var t dag.TaskRequest
		if err := readJSONFile(*file, &t); err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		payload = &t
	case "bid":
		var b dag.TaskBid
		if err := readJSONFile(*file, &b); err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		payload = &b
	}
	id, err := submitSigned(&cf, *scopeID, payload)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, id)
	return 0
}

func cmdMatches(args []string, out io.Writer, errOut io.Writer) int {
	var cf commonFlags
	fs := flag.NewFlagSet("matches", flag.ExitOnError)
	registerCommon(fs, &cf, false)
	selectorFile := fs.String("selector", "", "selector JSON file; all providers if omitted")
	_ = fs.Parse(args)

	var sel *dag.Selector
	if *selectorFile != "" {
		sel = new(dag.Selector)
		if err := readJSONFile(*selectorFile, sel); err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
	}
	client, err := cf.dial()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer client.Close()

	dids, err := client.ListMatches(sel)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	for _, did := range dids {
		fmt.Fprintln(out, did)
	}
	return 0
}

func cmdAudit(args []string, out io.Writer, errOut io.Writer) int {
	var cf commonFlags
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	registerCommon(fs, &cf, false)
	_ = fs.Parse(args)
	if len(fs.Args()) != 1 {
		fmt.Fprintln(errOut, "audit: expected one receipt CID argument")
		return 2
	}
	id, err := cidutil.Parse(fs.Args()[0])
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	client, err := cf.dial()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer client.Close()

	report, err := client.AuditDispatch(id)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if rc := printJSON(out, errOut, report); rc != 0 {
		return rc
	}
	if !report.Valid() {
		return 3
	}
	return 0
}

func cmdPolicy(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) != 2 || args[0] != "check" {
		fmt.Fprintln(errOut, "policy: expected check <file>")
		return 2
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	p, err := trust.Parse(data)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "federation: %s\nversion: %d\ndag updates: %t\nentries: %d\nadmins: %d\n",
		p.FederationID, p.Version, p.AllowDAGUpdates, len(p.Entries), len(p.Admins))
	return 0
}

// submitSigned builds a node around payload, choosing the author's next
// sequence and the scope's current thread tail as parent, signs it and
// submits it.
func submitSigned(cf *commonFlags, scopeID string, payload dag.Payload) (string, error) {
	signer, err := cf.loadSigner()
	if err != nil {
		return "", err
	}
	client, err := cf.dial()
	if err != nil {
		return "", err
	}
	defer client.Close()

	cids, err := client.GetThread(scopeID)
	if err != nil {
		return "", err
	}

	n := &dag.Node{
		Payload:   payload,
		Author:    signer.DID(),
		Scope:     scopeID,
		Timestamp: time.Now().Unix(),
	}
	for _, cs := range cids {
		node, gerr := client.GetNode(mustCID(cs))
		if gerr != nil {
			return "", gerr
		}
		if node.Author == signer.DID() && node.Sequence >= n.Sequence {
			n.Sequence = node.Sequence + 1
		}
	}
	if len(cids) > 0 {
		n.Parents = append(n.Parents, mustCID(cids[len(cids)-1]))
	}
	if err := n.Sign(signer); err != nil {
		return "", err
	}
	data, err := n.Encode()
	if err != nil {
		return "", err
	}
	id, err := client.SubmitNode(data)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func mustCID(s string) cid.Cid {
	id, err := cidutil.Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func printJSON(out io.Writer, errOut io.Writer, v interface{}) int {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	_, _ = out.Write(b)
	fmt.Fprintln(out)
	return 0
}
