package cli

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"carbon-scribe/ghg-reporting/internal/migrations"
)

func newMigrateCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	connect := func() (*sqlx.DB, error) {
		if !g.cfg.Database.UseDatabase() {
			return nil, errors.New("no database configured (set DATABASE_HOST or database.host)")
		}
		db, err := sqlx.Connect("postgres", g.cfg.Database.GetDatabaseURL())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return db, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := connect()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := migrations.Run(db.DB); err != nil {
				return err
			}
			version, err := migrations.Version(db.DB)
			if err != nil {
				return err
			}
			cmd.Printf("schema at version %d\n", version)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := connect()
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := migrations.Version(db.DB)
			if err != nil {
				return err
			}
			cmd.Printf("schema at version %d\n", version)
			return nil
		},
	})
	return cmd
}
