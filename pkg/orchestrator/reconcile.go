package orchestrator

import (
	"github.com/pthm/modmigrate/pkg/migrator"
	"github.com/pthm/modmigrate/pkg/source"
)

// Reconcile keeps the history entries whose identifier still has a script
// in idx, preserving order, then truncates to limit (limit <= 0 keeps all).
// Filtering happens before the limit so that a scoped source set still sees
// its own most recent migrations. Persisted history is never touched.
func Reconcile(history []migrator.AppliedMigration, idx *source.Index, limit int) []migrator.AppliedMigration {
	out := make([]migrator.AppliedMigration, 0, len(history))
	for _, am := range history {
		if !idx.Has(am.Identifier) {
			continue
		}
		out = append(out, am)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Orphans returns the history entries without a backing script.
func Orphans(history []migrator.AppliedMigration, idx *source.Index) []migrator.AppliedMigration {
	var out []migrator.AppliedMigration
	for _, am := range history {
		if !idx.Has(am.Identifier) {
			out = append(out, am)
		}
	}
	return out
}
