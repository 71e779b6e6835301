package main

import (
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-order-engine/internal/postgres"
)

func migrateCommands(in *instance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply or roll back the database schema",
	}
	cmd.AddCommand(migrateCommand(in, "up", migrate.Up))
	cmd.AddCommand(migrateCommand(in, "down", migrate.Down))
	return cmd
}

func migrateCommand(in *instance, use string, dir migrate.MigrationDirection) *cobra.Command {
	return &cobra.Command{
		Use:  use,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := postgres.Connect(cmd.Context(), in.cfg.PostgresDSN, postgres.PoolOptions{MaxConns: 2})
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer pool.Close()

			n, err := postgres.Migrate(pool, dir)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", use, err)
			}
			if dir == migrate.Up {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migrations!\n", n)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migrations!\n", n)
			}
			return nil
		},
	}
}
