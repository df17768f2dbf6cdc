package app

import (
	"context"
	"fmt"
	"os"

	"mcpmux/internal/activeset"
	"mcpmux/internal/adder"
	"mcpmux/internal/authstore"
	"mcpmux/internal/catalog"
	"mcpmux/internal/configstore"
	"mcpmux/internal/dispatcher"
	"mcpmux/internal/upstream"
	"mcpmux/pkg/logging"
)

// Application wires together every component and owns their lifecycle.
type Application struct {
	config *Config

	store         *configstore.Store
	watcher       *configstore.Watcher
	registry      *catalog.Registry
	registryWatch *catalog.Watcher
	auth          *authstore.Store
	manager       *activeset.Manager
	adder         *adder.Adder
	dispatch      *dispatcher.Dispatcher
	upstream      *upstream.Server
}

// NewApplication performs the full bootstrap sequence: load the config
// store, wire the catalog/auth/active-set/adder/dispatcher stack, perform
// initial capability discovery, and prepare (but not yet start) the
// upstream HTTP server.
func NewApplication(ctx context.Context, cfg *Config) (*Application, error) {
	logging.InitForCLI(cfg.logLevel(), os.Stderr)

	store := configstore.NewStore(cfg.ConfigPath)
	doc, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load config store: %w", err)
	}

	sibling := ResolveSiblingPaths(cfg.ConfigPath)
	registry := catalog.NewRegistry(sibling.Registry, sibling.Index)
	auth := authstore.NewStore(sibling.Auth)

	// onChange must notify the dispatcher, but the dispatcher needs the
	// manager to exist first; close over a pointer set immediately after
	// construction rather than reconstructing the manager.
	var dispatch *dispatcher.Dispatcher
	manager := activeset.NewManager(activeset.DefaultCeiling, store, activeset.DefaultConnect, func() {
		if dispatch != nil {
			dispatch.RefreshCapabilities(context.Background())
		}
	})
	manager.Bootstrap(doc)

	add := adder.New(registry, auth, manager)
	dispatch = dispatcher.New(manager, registry, add)

	if cfg.OpenAIAPIKey != "" {
		dispatch.SetEmbeddings(catalog.NewOpenAIEmbeddings(cfg.OpenAIAPIKey))
	}

	if err := manager.ReloadFromDisk(ctx, doc); err != nil {
		logging.Warn("app", "one or more backends failed to admit at startup: %v", err)
	}
	dispatch.RefreshCapabilities(ctx)

	watcher := configstore.NewWatcher(store)
	watcher.SetBaseline(doc)

	registryWatch := catalog.NewWatcher(registry)

	up := upstream.New(fmt.Sprintf(":%d", cfg.Port), dispatch, manager)
	up.KeepOpen = cfg.KeepOpen

	return &Application{
		config:        cfg,
		store:         store,
		watcher:       watcher,
		registry:      registry,
		registryWatch: registryWatch,
		auth:          auth,
		manager:       manager,
		adder:         add,
		dispatch:      dispatch,
		upstream:      up,
	}, nil
}

// Run starts the upstream HTTP server and blocks until a shutdown signal
// arrives: an OS interrupt, an unrecoverable transport error, or (when
// KeepOpen is false) an explicit DELETE /mcp session teardown.
func (a *Application) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.watcher.Start(runCtx, func(doc configstore.Document) {
		if err := a.manager.ReloadFromDisk(runCtx, doc); err != nil {
			logging.Warn("app", "reload from disk encountered errors: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}

	if err := a.registryWatch.Start(runCtx); err != nil {
		logging.Warn("app", "catalog watcher unavailable, relying on CacheTTL: %v", err)
	}

	errCh := make(chan error, 1)
	a.upstream.Start(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	logging.Info("app", "mcpmux listening on %s", a.upstream.Addr())

	select {
	case <-waitForSignal():
		logging.Info("app", "shutdown signal received")
	case err := <-errCh:
		logging.Error("app", err, "upstream transport failed")
	case <-a.upstream.Done():
		logging.Info("app", "upstream session torn down, shutting down")
	case <-ctx.Done():
	}

	_ = a.watcher.Stop()
	_ = a.registryWatch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), upstreamShutdownBudget)
	defer shutdownCancel()
	return a.upstream.Stop(shutdownCtx)
}
