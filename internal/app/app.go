package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/huddle-server/internal/auth"
	"github.com/vovakirdan/huddle-server/internal/config"
	"github.com/vovakirdan/huddle-server/internal/core"
	"github.com/vovakirdan/huddle-server/internal/store"
	"github.com/vovakirdan/huddle-server/internal/store/postgres"
	"github.com/vovakirdan/huddle-server/internal/store/redis"
	"github.com/vovakirdan/huddle-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/huddle-server/internal/transport/http"
)

// App wires together core, storage and transport layers.
type App struct {
	cfg    *config.Config
	server *stdhttp.Server
	hub    *core.Hub
	store  store.Store
	mirror *redis.PresenceMirror
	log    *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.DatabaseDriver).Msg("database initialized")

	authService := auth.NewService(&auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})

	hub := core.NewHub(logger, cfg.InactivityTimeout)

	var mirror *redis.PresenceMirror
	if cfg.RedisURL != "" {
		mirror, err = redis.New(ctx, cfg.RedisURL, cfg.InstanceID, logger)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("init presence mirror: %w", err)
		}
		hub.Observe(mirror)
		logger.Info().Str("instance", cfg.InstanceID).Msg("presence mirror enabled")
	}

	svc := transporthttp.Services{
		Hub:     hub,
		Gateway: core.NewGateway(hub, st, cfg.EventBuffer, logger),
		Dispatcher: core.NewDispatcher(hub, st, st, core.DispatcherOptions{
			HistoryLimit:     cfg.HistoryLimit,
			MaxTextLength:    cfg.MaxTextLength,
			ChannelBroadcast: core.ChannelBroadcast(cfg.ChannelBroadcast),
		}, logger),
		Auth:  authService,
		Store: st,
	}

	return &App{
		cfg:    cfg,
		server: transporthttp.NewServer(svc, cfg, logger),
		hub:    hub,
		store:  st,
		mirror: mirror,
		log:    logger,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return postgres.New(ctx, cfg.DatabaseURL)
	case "sqlite", "":
		return sqlite.New(cfg.DatabasePath)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}

// Run starts the hub, the optional presence mirror and the HTTP server, and
// blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})

	if a.mirror != nil {
		g.Go(func() error {
			return a.mirror.Run(gctx)
		})
	}

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close presence mirror")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
