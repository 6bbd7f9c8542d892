package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/Flarenzy/wg-ha/docs"
	"github.com/Flarenzy/wg-ha/internal/app"
	"github.com/Flarenzy/wg-ha/internal/db"
	"github.com/spf13/cobra"
)

//	@title			WireGuard HA API
//	@version		1.0
//	@description	Manages WireGuard peers and keeps the deployed configuration in line with the accepted peers.

//	@contact.name	API Support
//	@contact.url	http://www.swagger.io/support
//	@contact.email	support@swagger.io

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@host		localhost:4040
//	@BasePath	/

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization

func main() {
	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wg-ha",
		Short:         "WireGuard peer management API",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runServe,
	}
	cmd.AddCommand(serveCmd(), migrateCmd())
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API, the reconciliation loop and the task worker",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	return app.Run(ctx, cfg)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.DSN == "" {
				return fmt.Errorf("DB_CONN is required for migrate")
			}
			pool, err := db.NewPool(cmd.Context(), cfg.DSN)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			slog.Info("schema applied")
			return nil
		},
	}
}
