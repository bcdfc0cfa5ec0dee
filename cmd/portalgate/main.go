package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/portalgate/internal/config"
	"github.com/dropDatabas3/portalgate/internal/http/server"
	"github.com/dropDatabas3/portalgate/internal/observability/logger"
)

// version se setea con -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// .env es opcional; las variables del sistema ganan.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "portalgate",
		Short:         "Login gate delante del catálogo de aplicativos",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", envOr("PORTALGATE_CONFIG", ""), "YAML de configuración del proceso (env PORTALGATE_CONFIG)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		logger.Init(logger.Config{
			Env:         cfg.App.Env,
			Level:       cfg.Log.Level,
			Format:      cfg.Log.Format,
			ServiceName: cfg.App.Name,
			Version:     version,
		})
		return cfg, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newValidateCmd(load),
		newAuthorizeCmd(load),
		newMintTokenCmd(load),
		&cobra.Command{
			Use:   "version",
			Short: "Imprime la versión",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

type loader func() (*config.Config, error)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP del gate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			app, err := server.Build(cfg, server.Options{Version: version})
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					logger.L().Warn("cleanup failed", logger.Err(err))
				}
			}()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, cfg, app.Handler)
		},
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
