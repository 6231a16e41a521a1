package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iotaledger/product-core-sub000/internal/config"
	"github.com/iotaledger/product-core-sub000/internal/migrate"
	"github.com/iotaledger/product-core-sub000/internal/obs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var timeout time.Duration

	withManager := func(fn func(ctx context.Context, mgr *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			dsn := v.GetString("pg_dsn")
			if dsn == "" {
				return fmt.Errorf("missing DSN: provide via --dsn or %s_PG_DSN", config.EnvPrefix)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, err := sql.Open("pgx", dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()
			return fn(ctx, migrate.NewManager(db))
		}
	}

	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or roll back the embedded database migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("dsn", "", "PostgreSQL DSN")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")
	_ = v.BindPFlag("pg_dsn", cmd.PersistentFlags().Lookup("dsn"))

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withManager(func(ctx context.Context, mgr *migrate.Manager) error {
			applied, err := mgr.Up(ctx)
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			obs.Logger().Info("migrations_applied", zap.Strings("names", applied))
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		RunE: withManager(func(ctx context.Context, mgr *migrate.Manager) error {
			name, err := mgr.Down(ctx)
			if errors.Is(err, migrate.ErrNothingApplied) {
				obs.Logger().Info("nothing_to_roll_back")
				return nil
			}
			if err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			obs.Logger().Info("migration_rolled_back", zap.String("name", name))
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied migrations",
		RunE: withManager(func(ctx context.Context, mgr *migrate.Manager) error {
			history, err := mgr.Status(ctx)
			if err != nil {
				return fmt.Errorf("migrate status: %w", err)
			}
			for _, item := range history {
				fmt.Println(item)
			}
			return nil
		}),
	})
	return cmd
}
