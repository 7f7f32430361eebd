package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tcfs-dev/tcfs/internal/cas"
	"github.com/tcfs-dev/tcfs/internal/codec"
	"github.com/tcfs-dev/tcfs/internal/config"
	"github.com/tcfs-dev/tcfs/internal/fleet"
	"github.com/tcfs-dev/tcfs/internal/fleet/eventstream"
	"github.com/tcfs-dev/tcfs/internal/identity"
	"github.com/tcfs-dev/tcfs/internal/observability"
	"github.com/tcfs-dev/tcfs/internal/statecache"
)

func main() {
	configPath := flag.String("config", "", "Path to tcfsd YAML config")
	observAddr := flag.String("observ-addr", "127.0.0.1:8081", "Observability server address (metrics, health, pprof)")
	apiAddr := flag.String("api-addr", "127.0.0.1:8080", "Push/pull REST API address")
	eventDB := flag.String("event-db", "tcfs-events.db", "Path to the durable fleet event log")
	localDB := flag.String("local-db", "tcfs-cas.db", "Path to the embedded CAS (used when storage.endpoint is unset)")
	stateDB := flag.String("state-db", "tcfs-state", "Path to the local state cache (extension chosen by backend)")
	deviceName := flag.String("device-name", "", "Human-readable name to enroll this device under, if not already enrolled")
	flag.Parse()

	logger := observability.NewLogger("tcfsd", "0.1.0", os.Stdout)
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker("0.1.0")

	if shutdown, err := observability.InitTracing(context.Background(), "tcfsd"); err == nil {
		defer shutdown(context.Background())
	}

	logger.Info("tcfsd starting")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal(err, "failed to load config")
	}
	logger.Info(fmt.Sprintf("config loaded: prefix=%s chunk=%d/%d/%d compression=%v conflict_mode=%s",
		cfg.Storage.Prefix, cfg.Chunk.Min, cfg.Chunk.Avg, cfg.Chunk.Max, cfg.Codec.Compression, cfg.Sync.ConflictMode))

	priv, pub, err := identity.LoadOrCreate("", "")
	if err != nil {
		logger.Fatal(err, "failed to load or create device identity")
	}

	store, err := openStore(cfg, *localDB)
	if err != nil {
		logger.Fatal(err, "failed to open CAS backend")
	}
	healthChecker.RegisterCheck("cas", observability.CASReachabilityCheck(func(ctx context.Context) error {
		_, err := store.Exists(ctx, cas.DeviceRegistryKey(cfg.Storage.Prefix))
		return err
	}, cfg.Storage.Endpoint))

	deviceID, err := enroll(context.Background(), store, cfg.Storage.Prefix, pub, *deviceName)
	if err != nil {
		logger.Fatal(err, "failed to enroll device")
	}
	logger = logger.WithDevice(deviceID)
	logger.Info("device identity ready")

	codecImpl, err := codec.New(cfg.Codec.Compression)
	if err != nil {
		logger.Fatal(err, "failed to construct codec")
	}
	defer codecImpl.Close()

	stateCache, err := openStateCache(cfg, *stateDB)
	if err != nil {
		logger.Fatal(err, "failed to open state cache")
	}
	defer stateCache.Close()
	healthChecker.RegisterCheck("state_cache", observability.StateCacheCheck(func() error {
		_, err := stateCache.List(context.Background())
		return err
	}))

	retentionDays := cfg.Fleet.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 7
	}
	events, err := eventstream.OpenBoltStream(*eventDB, retentionDays)
	if err != nil {
		logger.Fatal(err, "failed to open fleet event stream")
	}
	healthChecker.RegisterCheck("event_stream", observability.EventStreamCheck(func(ctx context.Context) error {
		sub, err := events.Subscribe(ctx, "healthcheck")
		if err != nil {
			return err
		}
		return sub.Close()
	}))
	healthChecker.RegisterCheck("keystore", observability.KeystoreCheck(priv != nil))

	resolver := &fleet.Resolver{Mode: fleet.ConflictMode(cfg.Sync.ConflictMode), LocalDeviceID: deviceID}

	coordinator := &fleet.Coordinator{
		DeviceID:   deviceID,
		Prefix:     cfg.Storage.Prefix,
		Store:      store,
		Codec:      codecImpl,
		StateCache: stateCache,
		Events:     events,
		Resolver:   resolver,
		SigningKey: priv,
		Metrics:    metrics,
		Logger:     logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go startObservabilityServer(*observAddr, metrics, healthChecker, logger)
	go runCASGCLoop(ctx, store, cfg.Storage.Prefix, 1*time.Hour, logger)

	go func() {
		resolveLocalPath := func(remotePath string) string { return remotePath }
		if err := coordinator.RunAutoPull(ctx, "tcfsd-"+deviceID, resolveLocalPath, nil); err != nil {
			logger.Error(err, "auto-pull loop exited")
		}
	}()

	server := &http.Server{Addr: *apiAddr, Handler: newSyncAPI(coordinator)}
	go func() {
		logger.Info("sync API listening on " + *apiAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "sync API server error")
		}
	}()

	logger.Info("tcfsd running; press Ctrl+C to stop")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	if closer, ok := store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	logger.Info("tcfsd stopped")
}

// openStore picks S3Store when storage.endpoint/bucket are configured,
// falling back to an embedded BoltStore for single-node deployments
// (spec section 4.3: "any S3-compatible bucket, or local dev mode").
func openStore(cfg *config.Config, localDB string) (cas.Store, error) {
	if cfg.Storage.Endpoint == "" || cfg.Storage.Bucket == "" {
		return cas.OpenBoltStore(localDB)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Storage.Region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
		}
		o.UsePathStyle = true
	})
	return cas.NewS3Store(client, cfg.Storage.Bucket), nil
}

func openStateCache(cfg *config.Config, path string) (statecache.Store, error) {
	switch cfg.Sync.StateBackend {
	case "embedded-kv":
		return statecache.OpenSQLStore(path + ".db")
	default:
		return statecache.OpenJSONStore(path + ".json")
	}
}

// enroll registers pub in the fleet's device registry under name if it
// is not already present, returning the resulting device ID. Devices
// are matched by public key rather than re-enrolled on every restart.
func enroll(ctx context.Context, store cas.Store, prefix string, pub ed25519.PublicKey, name string) (string, error) {
	registry, err := identity.LoadRegistry(ctx, store, prefix)
	if err != nil {
		return "", err
	}
	for _, rec := range registry.Devices {
		if string(rec.PublicKey) == string(pub) {
			return rec.DeviceID, nil
		}
	}
	if name == "" {
		name, _ = os.Hostname()
	}
	rec := registry.Enroll(name, pub)
	if err := identity.SaveRegistry(ctx, store, prefix, registry); err != nil {
		return "", err
	}
	return rec.DeviceID, nil
}

func runCASGCLoop(ctx context.Context, store cas.Store, prefix string, interval time.Duration, logger *observability.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := cas.Sweep(ctx, store, prefix)
			if err != nil {
				logger.Error(err, "cas gc sweep failed")
				continue
			}
			logger.Info(fmt.Sprintf("cas gc swept %d chunks, deleted %d orphans (%d referenced)",
				result.ChunksScanned, result.ChunksDeleted, result.Referenced))
		}
	}
}

func startObservabilityServer(addr string, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", health.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	server := &http.Server{Addr: addr, Handler: mux}
	logger.Info("observability server listening on " + addr + " (metrics, health, pprof)")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "observability server error")
	}
}

// newSyncAPI exposes the two operations spec section 4.6 names
// (push/pull) as plain JSON-over-HTTP, so a CLI or another local
// process can drive the daemon without linking against it.
func newSyncAPI(c *fleet.Coordinator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/push", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			LocalPath  string `json:"local_path"`
			RemotePath string `json:"remote_path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m, err := c.Push(r.Context(), req.LocalPath, req.RemotePath, nil, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m)
	})

	mux.HandleFunc("/pull", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			LocalPath  string `json:"local_path"`
			RemotePath string `json:"remote_path"`
			FileHash   string `json:"file_hash"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := c.Pull(r.Context(), req.LocalPath, req.RemotePath, req.FileHash, nil); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}
