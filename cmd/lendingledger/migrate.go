package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/digilib/lendingledger/config"
	"github.com/digilib/lendingledger/docstore/postgresengine/migrations"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate {up|down|status}",
		Short:     "Apply, roll back or inspect the PostgreSQL schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{migrations.CommandUp, migrations.CommandDown, migrations.CommandStatus},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}

			if cfg.Store != config.StorePostgres {
				return errors.New("migrate needs LEDGER_STORE=postgres")
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

			db, err := config.SQLDB(cmd.Context(), cfg.PGDSN)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			return migrations.Run(cmd.Context(), db, args[0], logger)
		},
	}
}
