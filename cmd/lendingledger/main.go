// Command lendingledger runs the lending ledger HTTP service.
//
// Further subcommands manage the PostgreSQL schema and race simulated members for a book
// to check the lending invariants end to end.
//
// Configuration comes from LEDGER_* environment variables, optionally seeded from a .env file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/digilib/lendingledger/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "lendingledger",
		Short:         "Lending ledger for a digital library",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return config.LoadDotEnv(envFile)
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading LEDGER_* variables")

	root.AddCommand(newServeCommand(), newMigrateCommand(), newSimulateCommand())

	return root
}
