package main

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pthm/modmigrate/internal/cli"
	"github.com/pthm/modmigrate/pkg/migrator"
	"github.com/pthm/modmigrate/pkg/orchestrator"
)

// limitArg parses the optional limit argument at position i.
func limitArg(args []string, i int, def migrator.Limit) (migrator.Limit, error) {
	if len(args) <= i {
		return def, nil
	}
	l, err := migrator.ParseLimit(args[i])
	if err != nil {
		return 0, cli.ConfigError("invalid limit", err)
	}
	return l, nil
}

var upCmd = &cobra.Command{
	Use:   "up [limit]",
	Short: "Apply new migrations",
	Long: `Apply new migrations from the application and every module, in
identifier order. limit is a positive number or "all" (default).`,
	Example: `  # Apply everything pending
  modmigrate up

  # Apply the next two migrations without asking
  modmigrate up 2 --yes`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := limitArg(args, 0, migrator.All)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), orchestrator.ActionUp, true)
		if err != nil {
			return err
		}
		defer a.Close()
		return runUp(cmd, a, limit)
	},
}

func runUp(cmd *cobra.Command, a *app, limit migrator.Limit) error {
	ctx := cmd.Context()
	planned, err := a.runner.PlanUp(ctx, limit)
	if err != nil {
		return err
	}
	if len(planned) == 0 {
		success("No new migrations found. Your system is up-to-date.")
		return nil
	}

	printList("Total "+plural(len(planned), "new migration")+" to be applied:", planned)
	ok, err := confirm("Apply the above migrations?")
	if err != nil || !ok {
		return err
	}

	res, err := a.runner.Up(ctx, limit)
	if res != nil && len(res.Identifiers) > 0 {
		printf("%s applied.\n", plural(len(res.Identifiers), "migration"))
	}
	if err != nil {
		return err
	}
	success("Migrated up successfully.")
	return nil
}

var downCmd = &cobra.Command{
	Use:   "down [limit]",
	Short: "Revert the most recent migrations",
	Long: `Revert the most recently applied migrations whose scripts are still
present. limit is a positive number (default 1) or "all".`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := limitArg(args, 0, 1)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), orchestrator.ActionDown, true)
		if err != nil {
			return err
		}
		defer a.Close()
		return runDown(cmd, a, limit)
	},
}

func runDown(cmd *cobra.Command, a *app, limit migrator.Limit) error {
	ctx := cmd.Context()
	planned, err := a.runner.PlanDown(ctx, limit)
	if err != nil {
		return err
	}
	if len(planned) == 0 {
		success("No migration has been done before.")
		return nil
	}

	printList("Total "+plural(len(planned), "migration")+" to be reverted:", planned)
	ok, err := confirm("Revert the above migrations?")
	if err != nil || !ok {
		return err
	}

	res, err := a.runner.Down(ctx, limit)
	if res != nil && len(res.Identifiers) > 0 {
		printf("%s reverted.\n", plural(len(res.Identifiers), "migration"))
	}
	if err != nil {
		return err
	}
	success("Migrated down successfully.")
	return nil
}

var redoCmd = &cobra.Command{
	Use:   "redo [limit]",
	Short: "Revert and re-apply the most recent migrations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := limitArg(args, 0, 1)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), orchestrator.ActionRedo, true)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		planned, err := a.runner.PlanDown(ctx, limit)
		if err != nil {
			return err
		}
		if len(planned) == 0 {
			success("No migration has been done before.")
			return nil
		}

		printList("Total "+plural(len(planned), "migration")+" to be redone:", planned)
		ok, err := confirm("Redo the above migrations?")
		if err != nil || !ok {
			return err
		}
		if _, err := a.runner.Redo(ctx, limit); err != nil {
			return err
		}
		success("%s redone.", plural(len(planned), "migration"))
		return nil
	},
}

var markCmd = &cobra.Command{
	Use:   "mark <identifier>",
	Short: "Set migration history to an identifier without running scripts",
	Long: `Record every pending migration up to and including identifier as applied,
or remove every applied migration recorded after it. Marking
` + "m000000_000000_base" + ` clears the history.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), orchestrator.ActionMark, true)
		if err != nil {
			return err
		}
		defer a.Close()

		id := args[0]
		ok, err := confirm("Set migration history at " + id + "?")
		if err != nil || !ok {
			return err
		}
		res, err := a.runner.Mark(cmd.Context(), id)
		if err != nil {
			return err
		}
		success("The migration history is set at %s (%s changed).", id, plural(len(res.Identifiers), "entry"))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [limit]",
	Short: "Show applied migrations",
	Long: `Show applied migrations that still have a script in the application or
one of its modules, most recent first. limit defaults to 10; "all" shows
everything.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := limitArg(args, 0, 10)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), orchestrator.ActionHistory, true)
		if err != nil {
			return err
		}
		defer a.Close()

		rows, err := a.runner.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			warn("No migration has been done before.")
			return nil
		}

		header := "Total " + plural(len(rows), "migration") + " applied before:"
		if !limit.IsAll() {
			header = "Showing the last " + plural(len(rows), "applied migration") + ":"
		}
		lines := make([]string, len(rows))
		for i, r := range rows {
			lines[i] = "(" + r.ApplyTime.Format(time.DateTime) + ", " + humanize.Time(r.ApplyTime) + ") " + r.Identifier
		}
		printList(header, lines)
		return nil
	},
}

var newCmd = &cobra.Command{
	Use:   "new [limit]",
	Short: "List migrations that have not been applied",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := limitArg(args, 0, 10)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), orchestrator.ActionNew, true)
		if err != nil {
			return err
		}
		defer a.Close()

		pending, err := a.runner.PendingMigrations(cmd.Context())
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			success("No new migrations found. Your system is up-to-date.")
			return nil
		}

		shown := limit.Apply(pending)
		header := "Found " + plural(len(pending), "new migration") + ":"
		if len(shown) < len(pending) {
			header = "Showing " + plural(len(shown), "new migration") + " out of " + plural(len(pending), "migration") + ":"
		}
		printList(header, shown)
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create <name> [module]",
	Short: "Create an empty migration script",
	Long: `Create an empty migration script in the application migrations directory,
or in the migrations directory of module. name may contain letters, digits
and underscores.`,
	Example: `  modmigrate create add_users_table
  modmigrate create add_invoice_index billing`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		module := ""
		if len(args) > 1 {
			module = args[1]
		}
		a, err := newApp(cmd.Context(), orchestrator.ActionCreate, false)
		if err != nil {
			return err
		}
		defer a.Close()

		created, err := a.runner.Create(args[0], module)
		if err != nil {
			return err
		}
		success("New migration created successfully: %s", created.Path)
		return nil
	},
}

var moduleUpCmd = &cobra.Command{
	Use:   "module-up <module> [limit]",
	Short: "Apply new migrations of one module",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := limitArg(args, 1, migrator.All)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), orchestrator.ActionModuleUp, true)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.runner.Scope(args[0]); err != nil {
			return err
		}
		return runUp(cmd, a, limit)
	},
}

var moduleDownCmd = &cobra.Command{
	Use:   "module-down <module> [limit]",
	Short: "Revert the most recent migrations of one module",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := limitArg(args, 1, migrator.All)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), orchestrator.ActionModuleDown, true)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.runner.Scope(args[0]); err != nil {
			return err
		}
		return runDown(cmd, a, limit)
	},
}
