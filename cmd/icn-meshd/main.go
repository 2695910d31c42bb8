// Command icn-meshd is the mesh daemon: it anchors signed nodes, serves
// the Mesh gRPC API, indexes capability manifests and audits dispatches.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"

	"icn.coop/mesh/api"
	"icn.coop/mesh/capability"
	"icn.coop/mesh/config"
	"icn.coop/mesh/dag"
	"icn.coop/mesh/graph"
	"icn.coop/mesh/keys"
	"icn.coop/mesh/quorum"
	"icn.coop/mesh/sched"
	"icn.coop/mesh/scope"
	"icn.coop/mesh/storage"
	"icn.coop/mesh/storage/localfs"
	"icn.coop/mesh/storage/storeregistry"
	"icn.coop/mesh/telemetry"
	"icn.coop/mesh/trust"

	_ "icn.coop/mesh/storage/memstore"
)

func main() {
	fs := flag.NewFlagSet("icn-meshd", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	listen := fs.String("listen", "", "gRPC listen address (overrides config)")
	backend := fs.String("backend", "", "storage backend name (overrides config)")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")

	storeregistry.RegisterFlags(fs, storeregistry.UsageDaemon)
	_ = fs.Parse(os.Args[1:])

	if *listBackends {
		for _, b := range storeregistry.List(storeregistry.UsageDaemon) {
			if b.Description == "" {
				fmt.Fprintf(os.Stdout, "%s\n", b.Name)
				continue
			}
			fmt.Fprintf(os.Stdout, "%s\t%s\n", b.Name, b.Description)
		}
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *backend != "" {
		cfg.Store.Backend = *backend
	}

	log, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	if err := run(fs, cfg, log); err != nil {
		log.Error("daemon exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(fs *flag.FlagSet, cfg *config.Config, log *zap.Logger) error {
	// Config-file store.dir feeds the backend's own flag unless the flag
	// was given explicitly.
	if cfg.Store.Backend == "localfs" && cfg.Store.Dir != "" && fs.Lookup("localfs-dir").Value.String() == "" {
		_ = fs.Set("localfs-dir", cfg.Store.Dir)
	}
	blobs, closeFn, err := storeregistry.Open(cfg.Store.Backend, storeregistry.UsageDaemon)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	blobs, err = replicatedStore(blobs, cfg.Store.Backend, cfg.Store.Replicas)
	if err != nil {
		return err
	}
	if len(cfg.Store.Replicas) > 0 {
		log.Info("store replication enabled",
			zap.String("primary", cfg.Store.Backend),
			zap.Int("replicas", len(cfg.Store.Replicas)))
	}

	scopes := scope.NewRegistry()
	store := graph.New(blobs, scopes, graph.WithLogger(log))
	for _, sc := range cfg.Scopes {
		err := store.RegisterScope(scope.Scope{
			Type:       scope.Type(sc.Type),
			ID:         sc.ID,
			Parent:     sc.Parent,
			Authorized: sc.Authorized,
		})
		if err != nil {
			return fmt.Errorf("registering scope %s: %w", sc.ID, err)
		}
	}

	index := capability.NewIndex(capability.Config{
		VerifySignatures:       cfg.Capability.VerifySignatures,
		RequireValidSignatures: cfg.Capability.RequireValidSignatures,
		TrustedDIDs:            cfg.Capability.TrustedDIDs,
	}, capability.WithLogger(log))
	go followManifests(store, index, cfg.Scopes, log)

	srv := &api.Server{
		Graph:  store,
		Quorum: quorum.NewEngine(store),
		Index:  index,
		Log:    log,
	}

	if cfg.TrustPolicyPath != "" {
		policyBytes, err := os.ReadFile(cfg.TrustPolicyPath)
		if err != nil {
			return fmt.Errorf("reading trust policy: %w", err)
		}
		policy, err := trust.Parse(policyBytes)
		if err != nil {
			return err
		}
		policies := trust.NewStore(policy, "", log)
		srv.Auditor = trust.NewAuditor(store, policies, log)
		go followPolicyUpdates(store, policies, cfg.Scopes, log)
		log.Info("trust policy loaded",
			zap.String("federation", policy.FederationID),
			zap.Uint64("version", policy.Version))
	}

	if cfg.SchedulerKeyName != "" {
		dir, err := keys.DefaultDirectory()
		if err != nil {
			return err
		}
		ks, err := keys.OpenKeyStore(dir)
		if err != nil {
			return err
		}
		signer, err := ks.Signer(cfg.SchedulerKeyName, cfg.SchedulerKeyRole)
		if err != nil {
			return fmt.Errorf("loading scheduler key: %w", err)
		}
		scheduler := sched.NewScheduler(store, index, signer, sched.WithLogger(log))
		go followTasks(store, scheduler, cfg, log)
		log.Info("scheduler enabled", zap.String("did", signer.DID()))
	}

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsListen, mux); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		log.Info("metrics listening", zap.String("addr", cfg.MetricsListen))
	}

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	defer lis.Close()

	s := grpc.NewServer()
	api.RegisterMeshServer(s, srv)
	log.Info("icn-meshd listening",
		zap.String("addr", lis.Addr().String()),
		zap.String("backend", cfg.Store.Backend))
	return s.Serve(lis)
}

// replicatedStore wraps the primary backend in a ReplicatingStore over
// one localfs replica per configured directory. With no replicas the
// primary is returned as is.
func replicatedStore(primary storage.Store, primaryName string, replicas []string) (storage.Store, error) {
	if len(replicas) == 0 {
		return primary, nil
	}
	backends := make([]storage.NamedStore, 0, len(replicas)+1)
	backends = append(backends, storage.NamedStore{Name: primaryName, Store: primary})
	for _, dir := range replicas {
		replica, err := localfs.New(dir)
		if err != nil {
			return nil, fmt.Errorf("opening replica %s: %w", dir, err)
		}
		backends = append(backends, storage.NamedStore{Name: "replica:" + dir, Store: replica})
	}
	return storage.ReplicatingStore{Backends: backends}, nil
}

// followPolicyUpdates applies DAG-anchored policy updates as they appear
// in each scope's append log.
func followPolicyUpdates(store *graph.Store, policies *trust.Store, scopes []config.ScopeConfig, log *zap.Logger) {
	cursors := make(map[string]*graph.Cursor, len(scopes))
	for _, sc := range scopes {
		c, err := store.Cursor(sc.ID)
		if err != nil {
			log.Warn("cursor unavailable", zap.String("scope", sc.ID), zap.Error(err))
			continue
		}
		cursors[sc.ID] = c
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		for id, c := range cursors {
			if err := policies.Sync(c); err != nil {
				log.Warn("policy sync failed", zap.String("scope", id), zap.Error(err))
			}
		}
	}
}

// followManifests keeps the capability index current by polling each
// scope's append log.
func followManifests(store *graph.Store, index *capability.Index, scopes []config.ScopeConfig, log *zap.Logger) {
	cursors := make(map[string]*graph.Cursor, len(scopes))
	for _, sc := range scopes {
		c, err := store.Cursor(sc.ID)
		if err != nil {
			log.Warn("cursor unavailable", zap.String("scope", sc.ID), zap.Error(err))
			continue
		}
		cursors[sc.ID] = c
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		for id, c := range cursors {
			if err := index.Sync(c); err != nil {
				log.Warn("manifest sync failed", zap.String("scope", id), zap.Error(err))
			}
		}
	}
}

// followTasks watches every configured scope for task requests and runs
// the auction once each task's bid window has elapsed.
func followTasks(store *graph.Store, scheduler *sched.Scheduler, cfg *config.Config, log *zap.Logger) {
	cursors := make(map[string]*graph.Cursor, len(cfg.Scopes))
	for _, sc := range cfg.Scopes {
		c, err := store.Cursor(sc.ID)
		if err != nil {
			log.Warn("cursor unavailable", zap.String("scope", sc.ID), zap.Error(err))
			continue
		}
		cursors[sc.ID] = c
	}
	window := cfg.SchedulerBidWindowSecs
	if window <= 0 {
		window = 10
	}
	pending := make(map[cid.Cid]time.Time)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for now := range ticker.C {
		for _, c := range cursors {
			for {
				n, ok, err := c.Next()
				if err != nil || !ok {
					break
				}
				if _, isTask := n.Payload.(*dag.TaskRequest); !isTask {
					continue
				}
				if id, err := n.CID(); err == nil {
					pending[id] = now.Add(time.Duration(window) * time.Second)
				}
			}
		}
		for id, due := range pending {
			if now.Before(due) {
				continue
			}
			if _, err := scheduler.Dispatch(id, now.Unix()); err != nil {
				switch {
				case errors.Is(err, sched.ErrNoBids):
					log.Info("no bids for task", zap.String("task", id.String()))
				case errors.Is(err, sched.ErrNoMatchingNodes):
					log.Info("no matching nodes for task", zap.String("task", id.String()))
				case errors.Is(err, sched.ErrAlreadyDispatched):
					// Another scheduler won the race; nothing to do.
				default:
					log.Warn("dispatch failed", zap.String("task", id.String()), zap.Error(err))
				}
			}
			delete(pending, id)
		}
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	switch level {
	case "", "info":
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
