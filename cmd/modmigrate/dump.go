package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pthm/modmigrate/internal/cli"
	"github.com/pthm/modmigrate/pkg/dump"
	"github.com/pthm/modmigrate/pkg/orchestrator"
)

var dataDumpCmd = &cobra.Command{
	Use:   "data-dump <table> [removeExisting]",
	Short: "Snapshot a table into a migration script",
	Long: `Write a migration script into the application migrations directory that
upserts every current row of table. With removeExisting (default from
dump.remove_existing, true) the script empties the table first and its down
section empties it again.`,
	Example: `  modmigrate data-dump countries
  modmigrate data-dump settings false`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		removeExisting := cfg.Dump.RemoveExisting
		if len(args) > 1 {
			v, err := strconv.ParseBool(args[1])
			if err != nil {
				return cli.ConfigError("removeExisting must be true, false, 1 or 0", err)
			}
			removeExisting = v
		}

		a, err := newApp(cmd.Context(), orchestrator.ActionDataDump, true)
		if err != nil {
			return err
		}
		defer a.Close()

		gen := dump.New(a.db, a.fs, dump.WithLogger(logger))
		res, err := gen.Dump(cmd.Context(), args[0], removeExisting, a.runner.ActiveDir())
		if err != nil {
			return err
		}
		success("Dumped %s of %s into %s", plural(res.Rows, "row"), args[0], res.Path)
		return nil
	},
}
