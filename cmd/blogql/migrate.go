package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/you/blogql/internal/config"
	"github.com/you/blogql/internal/store/pgstore"
)

// databaseURLEnv is read when --database-url is not given.
const databaseURLEnv = config.EnvPrefix + "POSTGRES__URL"

// NewMigrateCmd creates the migrate subcommand and its up, down and version children.
func NewMigrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		Long: `Apply, roll back or inspect the embedded PostgreSQL migrations. The
database URL comes from --database-url or ` + databaseURLEnv + `.`,
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL")

	open := func() (*pgstore.Migrator, error) {
		url := databaseURL
		if url == "" {
			url = os.Getenv(databaseURLEnv)
		}
		if url == "" {
			return nil, oops.Code("CONFIG_INVALID").Errorf("--database-url or %s is required", databaseURLEnv)
		}
		return pgstore.NewMigrator(url)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			if err := m.Up(); err != nil {
				return err
			}
			return printVersion(cmd, m)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			if err := m.Down(); err != nil {
				return err
			}
			return printVersion(cmd, m)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()
			return printVersion(cmd, m)
		},
	})

	return cmd
}

func printVersion(cmd *cobra.Command, m *pgstore.Migrator) error {
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if dirty {
		cmd.Printf("schema version %d (dirty)\n", v)
		return nil
	}
	cmd.Printf("schema version %d\n", v)
	return nil
}
