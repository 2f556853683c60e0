package main

import (
	"github.com/spf13/cobra"

	"github.com/pthm/modmigrate/internal/cli"
	"github.com/pthm/modmigrate/internal/doctor"
	"github.com/pthm/modmigrate/pkg/migrator"
)

var doctorVerbose bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks",
	Long: `Check that the application and every module resolve to migration
directories, that no identifier is provided twice, and that the history table
matches the scripts on disk. Database checks are skipped when no database is
configured.`,
	Example: `  # Run health checks
  modmigrate doctor --db postgres://localhost/mydb

  # Run with verbose output
  modmigrate doctor --verbose`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := loadLayout()
		if err != nil {
			return err
		}

		var history *migrator.History
		if dsnConfigured() {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			history = migrator.NewHistory(db, cfg.HistoryTable)
		}

		printf("modmigrate doctor - Health Check\n")

		d := doctor.New(doctor.Options{
			FS:       l.fs,
			AppDir:   l.appDir,
			Registry: l.registry,
			Resolver: l.resolver,
			History:  history,
		})
		report, err := d.Run(cmd.Context())
		if err != nil {
			return cli.GeneralError("running doctor", err)
		}

		if !quiet {
			report.Print(stdout, doctorVerbose || cfg.Doctor.Verbose)
		}
		if report.HasErrors() {
			return cli.GeneralError("health checks failed", nil)
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorVerbose, "verbose", false, "show detailed output")
}
