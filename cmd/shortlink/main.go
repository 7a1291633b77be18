package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sundayezeilo/shortlink/internal/app"
	"github.com/sundayezeilo/shortlink/internal/auth"
	"github.com/sundayezeilo/shortlink/internal/db/migrations"
	"github.com/sundayezeilo/shortlink/internal/idgen"
)

var rootCmd = &cobra.Command{
	Use:           "shortlink",
	Short:         "A URL shortener with a cached resolution path",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *migrations.Migrator) error { return m.Up() })
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *migrations.Migrator) error { return m.Down() })
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *migrations.Migrator) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a bearer token for an owner",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func init() {
	serveCmd.Flags().Bool("migrate", false, "Apply pending migrations before serving")
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	tokenCmd.Flags().String("owner", "", "Owner UUID (a new one is minted when empty)")

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := app.LoadConfig()
	if err != nil {
		return err
	}

	if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
		if err := withMigrator(func(m *migrations.Migrator) error { return m.Up() }); err != nil {
			return err
		}
	}

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Shutdown(); err != nil {
			logger.Error("shutdown finished with errors", "error", err.Error())
		}
	}()

	// blocks until shutdown
	return application.Start(ctx)
}

func withMigrator(fn func(m *migrations.Migrator) error) error {
	cfg, logger, err := app.LoadConfig()
	if err != nil {
		return err
	}

	m, err := migrations.New(cfg.Database.URL(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("failed to close migrator", "error", err.Error())
		}
	}()

	return fn(m)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, _, err := app.LoadConfig()
	if err != nil {
		return err
	}

	keys, err := auth.NewKeys([]byte(cfg.Auth.Secret))
	if err != nil {
		return err
	}

	raw, _ := cmd.Flags().GetString("owner")
	owner, err := idgen.OwnerOrNew(raw, idgen.NewV7())
	if err != nil {
		return fmt.Errorf("invalid --owner: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "owner: %s\n", owner)
	fmt.Fprintf(out, "token: %s\n", keys.Sign(owner))
	return nil
}
