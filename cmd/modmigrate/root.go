package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pthm/modmigrate/internal/cli"
	"github.com/pthm/modmigrate/internal/logging"
	"github.com/pthm/modmigrate/pkg/migrator"
)

var (
	// Global state set during PersistentPreRunE
	cfg        *cli.Config
	configPath string
	logger     = zerolog.Nop()

	// Persistent flags
	cfgFile       string
	verbose       int
	quiet         bool
	dbURL         string
	driver        driverFlag
	migrationsDir string
	assumeYes     bool
)

// stdout receives command output.
var stdout io.Writer = os.Stdout

var _ pflag.Value = (*driverFlag)(nil)

// driverFlag restricts --driver to the supported database drivers.
type driverFlag string

func (d *driverFlag) String() string { return string(*d) }

func (d *driverFlag) Set(v string) error {
	v = strings.ToLower(strings.TrimSpace(v))
	if _, err := migrator.SQLDriverName(v); err != nil {
		return fmt.Errorf("must be one of postgres, pgx, mysql, sqlite")
	}
	*d = driverFlag(v)
	return nil
}

func (d *driverFlag) Type() string { return "driver" }

var rootCmd = &cobra.Command{
	Use:   "modmigrate",
	Short: "Multi-source SQL migrations",
	Long: `modmigrate - Multi-source SQL migrations

modmigrate runs the migration scripts of an application and of all its
configured modules as one ordered set, tracked in a single history table.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.NewLogger(logging.Options{
			Level:  logging.LevelFromFlags(verbose, quiet),
			Pretty: true,
		})
		if err != nil {
			return cli.ConfigError("configuring logger", err)
		}

		// Skip config loading for help/completion/version commands
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		cfg, configPath, err = cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}
		logger.Debug().Str("config", configPath).Msg("configuration loaded")
		return nil
	},
	SilenceUsage:  true, // Don't show usage on errors
	SilenceErrors: true, // We handle errors ourselves
}

// Command group IDs
const (
	groupMigration = "migration"
	groupData      = "data"
	groupUtility   = "utility"
)

func init() {
	// Persistent flags (available to all commands)
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: auto-discover modmigrate.yaml)")
	pf.CountVarP(&verbose, "verbose", "v", "increase verbosity (can be repeated)")
	pf.BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	pf.StringVar(&dbURL, "db", "", "database URL or DSN (overrides database.url)")
	pf.Var(&driver, "driver", "database driver: postgres, pgx, mysql, sqlite (overrides database.driver)")
	pf.StringVar(&migrationsDir, "migrations-dir", "", "application migrations directory (overrides migrations_dir)")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupMigration, Title: "Migrations:"},
		&cobra.Group{ID: groupData, Title: "Data:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	for _, c := range []*cobra.Command{upCmd, downCmd, redoCmd, markCmd, moduleUpCmd, moduleDownCmd} {
		c.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
	}

	for _, c := range []*cobra.Command{upCmd, downCmd, redoCmd, markCmd, historyCmd, newCmd, createCmd, moduleUpCmd, moduleDownCmd} {
		c.GroupID = groupMigration
		rootCmd.AddCommand(c)
	}

	dataDumpCmd.GroupID = groupData
	rootCmd.AddCommand(dataDumpCmd)

	for _, c := range []*cobra.Command{sourcesCmd, doctorCmd, configCmd, versionCmd} {
		c.GroupID = groupUtility
		rootCmd.AddCommand(c)
	}
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		cli.ExitWithError(classify(err))
	}
}

// resolveString returns the first non-empty string from the provided values.
// Used to implement precedence: flag > config > default.
func resolveString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// printf writes command output unless --quiet is set.
func printf(format string, args ...any) {
	if quiet {
		return
	}
	_, _ = fmt.Fprintf(stdout, format, args...)
}
