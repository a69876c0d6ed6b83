package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/huddle-server/internal/app"
	"github.com/vovakirdan/huddle-server/internal/auth"
	"github.com/vovakirdan/huddle-server/internal/config"
	"github.com/vovakirdan/huddle-server/internal/core"
	"github.com/vovakirdan/huddle-server/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	root := &cobra.Command{
		Use:          "huddle-server",
		Short:        "Realtime presence and message fanout for huddle",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath, overrides)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), &cfg)
		},
	}
	flags := serveCmd.Flags()
	flags.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flags.DurationVar(&overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	flags.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&overrides.DatabaseDriver, "db-driver", "", "database driver (sqlite or postgres)")
	flags.StringVar(&overrides.DatabasePath, "db-path", "", "sqlite database path")
	flags.StringVar(&overrides.DatabaseURL, "db-url", "", "postgres connection url")
	flags.StringVar(&overrides.RedisURL, "redis-url", "", "redis url for the presence mirror")

	var (
		userID int64
		name   string
		admin  bool
	)
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed identity token for development",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath, config.Config{})
			if err != nil {
				return err
			}
			if userID <= 0 {
				return errors.New("--user-id must be positive")
			}
			identity := core.Identity{UserID: userID, UserName: name, Role: core.RoleUser}
			if admin {
				identity.Role = core.RoleAdmin
			}
			svc := auth.NewService(&auth.JWTConfig{
				Secret:   []byte(cfg.JWTSecret),
				Issuer:   cfg.JWTIssuer,
				Audience: cfg.JWTAudience,
				TTL:      cfg.JWTTTL,
			})
			signed, err := svc.IssueToken(identity)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	tokenCmd.Flags().Int64Var(&userID, "user-id", 0, "user id to embed")
	tokenCmd.Flags().StringVar(&name, "name", "", "display name to embed")
	tokenCmd.Flags().BoolVar(&admin, "admin", false, "grant the admin role")

	root.AddCommand(serveCmd, tokenCmd)
	// serve is the default when no subcommand is given
	root.RunE = serveCmd.RunE
	root.Flags().AddFlagSet(serveCmd.Flags())

	return root
}

func loadConfig(path string, overrides config.Config) (config.Config, error) {
	bootstrap := log.New("info", "console")

	cfg, resolved, err := config.Load(bootstrap, path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	cfg.UpdateFrom(overrides)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", resolved, err)
	}
	return cfg, nil
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(cfg.LogLevel, cfg.LogFormat)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize application")
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting huddle server")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
