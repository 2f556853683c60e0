package main

import (
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/pthm/modmigrate/internal/update"
	"github.com/pthm/modmigrate/internal/version"
)

var versionCheck bool

func init() {
	// If version wasn't set via ldflags, try to get it from Go module info.
	// This works when installed via "go install github.com/pthm/modmigrate/cmd/modmigrate@version".
	if version.Version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.Main.Version != "" && info.Main.Version != "(devel)" {
				version.Version = info.Main.Version
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision":
					if len(setting.Value) >= 7 {
						version.Commit = setting.Value[:7]
					} else {
						version.Commit = setting.Value
					}
				case "vcs.time":
					version.Date = setting.Value
				}
			}
		}
	}

	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check for a newer release")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		printf("%s\n", version.Info())
		if !versionCheck {
			return nil
		}

		checker := &update.Checker{Logger: logger}
		info, err := checker.CheckWithCache(cmd.Context())
		if err != nil {
			logger.Warn().Err(err).Msg("update check failed")
			return nil
		}
		if info.UpdateAvailable {
			warn("A newer version is available: %s (%s)", info.LatestVersion, info.ReleaseURL)
		} else {
			success("You are running the latest version.")
		}
		return nil
	},
}
