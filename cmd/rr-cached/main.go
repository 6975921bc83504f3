package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/haukened/rr-cache/internal/dns/common/clock"
	"github.com/haukened/rr-cache/internal/dns/common/log"
	"github.com/haukened/rr-cache/internal/dns/config"
	"github.com/haukened/rr-cache/internal/dns/gateways/transport"
	"github.com/haukened/rr-cache/internal/dns/gateways/upstream"
	"github.com/haukened/rr-cache/internal/dns/gateways/wire"
	"github.com/haukened/rr-cache/internal/dns/repos/recordcache"
	"github.com/haukened/rr-cache/internal/dns/repos/snapshot"
	"github.com/haukened/rr-cache/internal/dns/services/resolver"
	"github.com/haukened/rr-cache/internal/dns/services/sweeper"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-cached"

	defaultBootstrapTimeout = 5 * time.Second
)

// Application holds all the components of the caching resolver
type Application struct {
	config    *config.AppConfig
	clock     clock.Clock
	codec     wire.Codec
	store     *recordcache.Store
	snapshot  *snapshot.Store // nil when persistence is unavailable
	transport transport.ServerTransport
	resolver  *resolver.Resolver
	sweeper   *sweeper.Sweeper
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"app":        appName,
		"version":    version,
		"env":        cfg.Env,
		"log_level":  cfg.LogLevel,
		"listen":     cfg.ListenAddr(),
		"upstream":   cfg.Upstream,
		"cache_size": cfg.CacheSize,
		"cache_file": cfg.CacheFile,
	}, "Starting RR-Cache resolver")

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Server failed")
	}

	log.Info(nil, "RR-Cache resolver stopped gracefully")
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()

	codec := wire.NewUDPCodec(log.Component("wire"))

	store, snap, err := buildRepositories(cfg, codec, clk)
	if err != nil {
		return nil, fmt.Errorf("failed to build repositories: %w", err)
	}

	forwarder, err := buildUpstream(cfg)
	if err != nil {
		if snap != nil {
			_ = snap.Close()
		}
		return nil, fmt.Errorf("failed to build upstream: %w", err)
	}

	listener, err := transport.NewTransport(transport.TransportType(cfg.Transport), cfg.ListenAddr(), log.Component("transport"))
	if err != nil {
		if snap != nil {
			_ = snap.Close()
		}
		return nil, fmt.Errorf("failed to build transport: %w", err)
	}

	resolverService := resolver.NewResolver(resolver.ResolverOptions{
		Clock:    clk,
		Codec:    codec,
		Logger:   log.Component("resolver"),
		Store:    store,
		Upstream: forwarder,
	})

	sweeperService := sweeper.New(sweeper.Options{
		Store:    store,
		Clock:    clk,
		Interval: cfg.SweepInterval,
		Logger:   log.Component("sweeper"),
	})

	logger.Debug(map[string]any{"listen": cfg.ListenAddr()}, "Application wired")

	return &Application{
		config:    cfg,
		clock:     clk,
		codec:     codec,
		store:     store,
		snapshot:  snap,
		transport: listener,
		resolver:  resolverService,
		sweeper:   sweeperService,
	}, nil
}

// buildRepositories creates the record store and, when configured, warms it
// from the snapshot file. Persistence problems never fail startup.
func buildRepositories(cfg *config.AppConfig, codec wire.Codec, clk clock.Clock) (*recordcache.Store, *snapshot.Store, error) {
	cacheSize := cfg.CacheSize
	if cacheSize > uint(^uint(0)>>1) {
		return nil, nil, fmt.Errorf("cache size too large: %d (max %d)", cacheSize, ^uint(0)>>1)
	}
	store, err := recordcache.New(int(cacheSize), log.Component("cache"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create record store: %w", err)
	}
	log.Info(map[string]any{"type": "LRU", "size": cfg.CacheSize}, "Record store configured")

	if cfg.CacheFile == "" {
		log.Info(nil, "Cache persistence disabled")
		return store, nil, nil
	}

	snap, err := snapshot.Open(cfg.CacheFile, log.Component("snapshot"))
	if err != nil {
		log.Warn(map[string]any{"path": cfg.CacheFile, "error": err}, "Starting with an empty cache")
		return store, nil, nil
	}

	restored, err := snap.Restore(store, codec, clk.Now())
	if err != nil {
		log.Warn(map[string]any{"path": cfg.CacheFile, "error": err}, "Failed to restore cache")
	}
	meta := snap.Meta()
	log.Info(map[string]any{
		"path":     cfg.CacheFile,
		"restored": restored,
		"version":  meta.Version,
		"saved_at": meta.Updated,
	}, "Cache restored")
	return store, snap, nil
}

// buildUpstream resolves the configured upstream endpoint and creates the forwarder
func buildUpstream(cfg *config.AppConfig) (*upstream.Forwarder, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultBootstrapTimeout)
	defer cancel()

	endpoint, err := upstream.ResolveEndpoint(ctx, cfg.Upstream, cfg.Bootstrap, cfg.UpstreamTimeout)
	if err != nil {
		return nil, err
	}

	forwarder, err := upstream.NewForwarder(upstream.Options{
		Server:  endpoint,
		Timeout: cfg.UpstreamTimeout,
	})
	if err != nil {
		return nil, err
	}

	log.Info(map[string]any{
		"upstream": cfg.Upstream,
		"endpoint": endpoint,
		"timeout":  cfg.UpstreamTimeout,
	}, "Upstream forwarder configured")
	return forwarder, nil
}

// Run starts the resolver and blocks until ctx is cancelled, then shuts down
// and persists the cache.
func (app *Application) Run(ctx context.Context) error {
	if err := app.transport.Start(ctx, app.resolver); err != nil {
		return fmt.Errorf("failed to start %s transport: %w", app.config.Transport, err)
	}
	app.sweeper.Start(ctx)

	log.Info(map[string]any{
		"address":   app.transport.LocalAddr().String(),
		"transport": app.config.Transport,
	}, "DNS server started")

	<-ctx.Done()

	log.Info(nil, "Shutdown initiated")
	return app.shutdown()
}

// shutdown stops accepting datagrams, stops sweeping, then saves and closes
// the snapshot. Every step runs; errors are combined.
func (app *Application) shutdown() error {
	var err error
	if stopErr := app.transport.Stop(); stopErr != nil {
		log.Warn(map[string]any{"error": stopErr}, "Error during transport shutdown")
		err = multierr.Append(err, stopErr)
	}
	app.sweeper.Stop()

	if app.snapshot != nil {
		saved, saveErr := app.snapshot.Save(app.store, app.clock.Now())
		if saveErr != nil {
			log.Warn(map[string]any{"error": saveErr}, "Failed to persist cache")
		} else {
			log.Info(map[string]any{"entries": saved, "path": app.config.CacheFile}, "Cache persisted")
		}
		err = multierr.Combine(err, saveErr, app.snapshot.Close())
	}

	stats := app.store.Stats()
	log.Info(map[string]any{
		"hits":    stats.Hits,
		"misses":  stats.Misses,
		"swept":   stats.Swept,
		"evicted": stats.Evicted,
	}, "Graceful shutdown completed")
	return err
}
