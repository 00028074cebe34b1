// Package app composes the client: config, store, push channel,
// synchronizers, and the TUI shell.
package app

import (
	"context"
	"net/url"
	"os"
	"strings"

	"github.com/pmelo/unibox/internal/backend"
	"github.com/pmelo/unibox/internal/bus"
	"github.com/pmelo/unibox/internal/config"
	"github.com/pmelo/unibox/internal/inbox"
	"github.com/pmelo/unibox/internal/lock"
	"github.com/pmelo/unibox/internal/logging"
	"github.com/pmelo/unibox/internal/presence"
	"github.com/pmelo/unibox/internal/realtime"
	"github.com/pmelo/unibox/internal/store"
	"github.com/pmelo/unibox/internal/transcript"
	"github.com/pmelo/unibox/internal/tui"
	"github.com/pmelo/unibox/internal/workspace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved startup configuration passed to the fx
// module.
type Params struct {
	Workspace string
}

// Module returns the fx module composing all providers and lifecycle
// hooks.
func Module(p Params) fx.Option {
	return fx.Module("unibox",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideBackend,
			provideStateMachine,
			provideRealtime,
			provideTracker,
			provideInbox,
			provideTranscript,
			provideTUI,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(workspace.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &config.Config{}, nil
		}
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	// The TUI owns the terminal, so logs go to the file only.
	return logging.NewFileOnly(workspace.LogPath(p.Workspace), p.Workspace)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := workspace.EnsureDir(p.Workspace); err != nil {
		return nil, err
	}
	logger.Info("acquiring workspace lock", zap.String("workspace", p.Workspace))
	l, err := lock.Acquire(workspace.Dir(p.Workspace))
	if err != nil {
		return nil, err
	}
	logger.Info("workspace lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := workspace.CacheDBPath(p.Workspace)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideBackend(cfg *config.Config) *backend.Client {
	return backend.New(cfg.APIURL, cfg.Token)
}

func provideStateMachine(b *bus.Bus) *realtime.Machine {
	return realtime.NewMachine(b)
}

func provideRealtime(cfg *config.Config, machine *realtime.Machine, logger *zap.Logger) *realtime.Client {
	return realtime.NewClient(pushURL(cfg.APIURL), machine, logger)
}

func provideTracker(rt *realtime.Client, api *backend.Client, b *bus.Bus, logger *zap.Logger, p Params) *presence.Tracker {
	return presence.NewTracker(rt, api, b, logger, p.Workspace)
}

func provideInbox(api *backend.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *inbox.Synchronizer {
	return inbox.NewSynchronizer(api, db, b, logger)
}

func provideTranscript(api *backend.Client, rt *realtime.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *transcript.Synchronizer {
	return transcript.NewSynchronizer(api, rt, db, b, logger)
}

func provideTUI(p Params, b *bus.Bus, ibx *inbox.Synchronizer, tsc *transcript.Synchronizer, track *presence.Tracker, logger *zap.Logger) *tui.App {
	return tui.NewApp(p.Workspace, b, ibx, tsc, track, logger)
}

// pushURL derives the websocket endpoint from the REST base URL.
func pushURL(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Scheme == "" {
		return apiURL
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, rt *realtime.Client, track *presence.Tracker, ibx *inbox.Synchronizer, tsc *transcript.Synchronizer, lk *lock.Lock, p Params, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			runCtx := context.Background()

			rt.Connect(runCtx, cfg.Token)
			track.Start(runCtx)
			go track.Refresh(runCtx)
			ibx.Start(runCtx, p.Workspace)

			logger.Info("client started", zap.String("workspace", p.Workspace))
			return nil
		},
		OnStop: func(_ context.Context) error {
			tsc.Close()
			ibx.Stop()
			track.Stop()
			rt.Disconnect()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing workspace lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
