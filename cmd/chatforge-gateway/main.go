package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChatForge/chatforge-gateway/internal/config"
	"github.com/ChatForge/chatforge-gateway/internal/events"
	"github.com/ChatForge/chatforge-gateway/internal/httpserver"
	"github.com/ChatForge/chatforge-gateway/internal/logging"
	"github.com/ChatForge/chatforge-gateway/internal/metrics"
	"github.com/ChatForge/chatforge-gateway/internal/plugins"
	"github.com/ChatForge/chatforge-gateway/internal/reloader"
	"github.com/ChatForge/chatforge-gateway/internal/storage"
	"github.com/ChatForge/chatforge-gateway/internal/syncbridge"
	"github.com/ChatForge/chatforge-gateway/internal/ui"
	"github.com/ChatForge/chatforge-gateway/pkg/sdk"
	"go.uber.org/zap"
)

func main() {
	cfgPath := os.Getenv("CHATFORGE_CONFIG")
	if cfgPath == "" {
		cfgPath = "/etc/chatforge/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	logger := logging.New(logging.Cfg{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.JSON,
	})
	defer logger.Sync()

	// Banner
	fmt.Println(`
   _____ _           _   ______
  / ____| |         | | |  ____|
 | |    | |__   __ _| |_| |__ ___  _ __ __ _  ___
 | |    | '_ \ / _' | __|  __/ _ \| '__/ _' |/ _ \
 | |____| | | | (_| | |_| | | (_) | | | (_| |  __/
  \_____|_| |_|\__,_|\__|_|  \___/|_|  \__, |\___|
                                        __/ |
                                       |___/
ChatForge Gateway — event bus & plugin runtime
-----------------------------------------------
Config:  ` + cfgPath + `
`)

	mc := metrics.New()
	core := events.NewCore(logger,
		events.WithMaxHistory(cfg.Bus.MaxHistory),
		events.WithObserver(mc.Observe),
	)

	// middleware: orden de registro = orden de ejecución (cebolla)
	core.Use(events.RecovererMiddleware(logger))
	core.Use(events.ValidationMiddleware(logger))
	if len(cfg.Bus.AllowedSources) > 0 || len(cfg.Bus.AllowedTypes) > 0 {
		core.Use(events.PermissionMiddleware(cfg.Bus.AllowedSources, cfg.Bus.AllowedTypes, logger))
	}
	if cfg.Bus.RateLimit.Max > 0 {
		core.Use(events.RateLimitMiddleware(cfg.Bus.RateLimit.Max, cfg.Bus.RateLimit.Window.Std(), logger))
	}
	if cfg.Bus.Dedup.Enabled {
		core.Use(events.DedupMiddleware(cfg.Bus.Dedup.TTL.Std(), logger))
	}
	core.Use(events.PerfMonitorMiddleware(cfg.Bus.SlowThreshold.Std(), logger))

	var store storage.Store
	if cfg.Storage.Driver == "sqlite" {
		db, err := storage.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			logger.Fatal("storage", zap.Error(err))
		}
		defer db.Close()
		store = db
	} else {
		store = storage.NewMemory()
	}

	uiSvc := ui.New(core, logger)
	bridge := syncbridge.New(syncbridge.Config{
		PeerURL:  cfg.Sync.PeerURL,
		Insecure: cfg.Sync.Insecure,
	}, core, logger)
	core.SetBridge(bridge)

	ctxFactory := plugins.NewContextFactory(plugins.CapabilityDeps{
		Bus:         core,
		Store:       store,
		UI:          uiSvc,
		Log:         logger,
		HTTPBase:    cfg.Plugins.HTTPBase,
		HTTPTimeout: cfg.Plugins.HTTPTimeout.Std(),
		PrivateBus:  cfg.Plugins.PrivateBus,
		NewBus: func() sdk.Bus {
			return events.NewCore(logger, events.WithMaxHistory(cfg.Bus.MaxHistory))
		},
	})
	loader := plugins.NewLoader(logger, sdk.DefaultRegistry, plugins.NewGoLoader(), ctxFactory)
	loader.AddReleaser(uiSvc.ReleasePlugin)
	loader.AddReleaser(bridge.UnregisterPlugin)

	pluginMgr := plugins.NewManager(logger, core, loader)
	pluginMgr.InstallDir(cfg.Plugins.Dir)
	for _, rec := range pluginMgr.List() {
		pluginMgr.Enable(rec.Manifest.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go bridge.Run(ctx)

	srv := httpserver.New(cfg, logger, core, pluginMgr, bridge, mc)

	// Hot reload con SIGHUP
	reloader.OnSIGHUP(func() {
		newCfg, err := config.Load(cfgPath)
		if err != nil {
			logger.Warn("config reload failed", zap.Error(err))
			return
		}
		srv.Reload(newCfg)
		pluginMgr.InstallDir(newCfg.Plugins.Dir)
		cfg = newCfg
		logger.Info("reloaded config and plugins")
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.Router(),
	}

	go func() {
		if cfg.HTTP.TLS.Enabled {
			if err := httpSrv.ListenAndServeTLS(cfg.HTTP.TLS.Cert, cfg.HTTP.TLS.Key); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("http tls", zap.Error(err))
			}
		} else {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("http", zap.Error(err))
			}
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down...")
	cancel()

	ctxTimeout, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = httpSrv.Shutdown(ctxTimeout)
	pluginMgr.Shutdown()
	logger.Info("bye")
}
