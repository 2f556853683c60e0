package main

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/pthm/modmigrate/pkg/orchestrator"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List migration sources",
	Long: `List the application and every configured module with the migrations
directory it resolves to and the number of scripts found there. Modules
without a migrations directory are listed with a dash.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), orchestrator.ActionSources, false)
		if err != nil {
			return err
		}
		defer a.Close()

		counts := make(map[string]int)
		for _, d := range a.runner.Index().Entries() {
			counts[d.Source]++
		}

		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("SOURCE", "DIRECTORY", "MIGRATIONS")
		set := a.runner.Sources()
		for _, src := range set.Sources() {
			t.Row(src.Key, src.Dir, strconv.Itoa(counts[src.Key]))
		}
		for _, name := range a.registry.Names() {
			if !set.Has(name) {
				t.Row(name, "-", "-")
			}
		}
		printf("%s\n", t.String())
		return nil
	},
}
