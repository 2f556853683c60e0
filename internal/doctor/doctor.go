// Package doctor provides health checks for a multi-source migration setup.
//
// The doctor command validates that the application and every configured
// module resolve to readable migration directories, that no identifier is
// provided twice, and that the recorded history still matches the scripts on
// disk.
//
// Example usage:
//
//	d := doctor.New(doctor.Options{FS: fs, AppDir: dir, Registry: reg, Resolver: res, History: h})
//	report, err := d.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/pthm/modmigrate/pkg/migrator"
	"github.com/pthm/modmigrate/pkg/modules"
	"github.com/pthm/modmigrate/pkg/orchestrator"
	"github.com/pthm/modmigrate/pkg/source"
)

// Status represents the result of a health check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical issue that will cause failures.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "⚠"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

// CheckResult represents the outcome of a single health check.
type CheckResult struct {
	// Category groups related checks (e.g., "Sources", "History").
	Category string

	// Name is a short identifier for the check.
	Name string

	// Status is the check outcome.
	Status Status

	// Message is a human-readable description of the result.
	Message string

	// Details provides additional information for verbose output.
	Details string

	// FixHint suggests how to resolve issues.
	FixHint string
}

// Report contains all health check results.
type Report struct {
	Checks []CheckResult

	// Summary counts.
	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Find returns the first check with the given name.
func (r *Report) Find(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Print writes the report to the given writer.
func (r *Report) Print(w io.Writer, verbose bool) {
	// Group checks by category
	categories := make(map[string][]CheckResult)
	var categoryOrder []string
	for _, check := range r.Checks {
		if _, exists := categories[check.Category]; !exists {
			categoryOrder = append(categoryOrder, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	for _, cat := range categoryOrder {
		_, _ = fmt.Fprintf(w, "\n%s\n", cat)
		for _, check := range categories[cat] {
			_, _ = fmt.Fprintf(w, "  %s %s\n", check.Status.Symbol(), check.Message)
			if verbose && check.Details != "" {
				for _, line := range strings.Split(check.Details, "\n") {
					_, _ = fmt.Fprintf(w, "      %s\n", line)
				}
			}
			if check.Status != StatusPass && check.FixHint != "" {
				_, _ = fmt.Fprintf(w, "      Fix: %s\n", check.FixHint)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}

// Options configures a Doctor.
type Options struct {
	FS       afero.Fs
	AppDir   string
	Registry *modules.Registry
	Resolver *modules.Resolver
	// History is nil when no database is configured; database checks are
	// then reported as skipped.
	History *migrator.History
}

// Doctor performs health checks on migration sources and history.
type Doctor struct {
	opts Options

	// Populated during Run
	sources *source.Set
	index   *source.Index
}

// New creates a new Doctor instance.
func New(opts Options) *Doctor {
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.Registry == nil {
		opts.Registry = modules.NewRegistry()
	}
	if opts.Resolver == nil {
		opts.Resolver = modules.NewResolver(opts.FS, modules.NewAliases(filepath.Dir(opts.AppDir)))
	}
	return &Doctor{opts: opts}
}

// Run executes all health checks and returns a report.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	d.checkAppDir(report)
	d.checkModules(report)
	if err := d.checkIndex(report); err != nil {
		return nil, fmt.Errorf("scanning sources: %w", err)
	}
	if err := d.checkHistory(ctx, report); err != nil {
		return nil, fmt.Errorf("checking history: %w", err)
	}

	return report, nil
}

func (d *Doctor) checkAppDir(report *Report) {
	d.sources = source.NewSet(source.Source{Key: source.AppKey, Dir: d.opts.AppDir})

	ok, err := afero.IsDir(d.opts.FS, d.opts.AppDir)
	if err != nil || !ok {
		report.AddCheck(CheckResult{
			Category: "Application",
			Name:     "app_dir",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("Migrations directory not found at %s", d.opts.AppDir),
			FixHint:  "Run 'modmigrate create <name>' to create the first migration",
		})
		return
	}

	found, _, err := source.ListDir(d.opts.FS, source.AppKey, d.opts.AppDir)
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Application",
			Name:     "app_dir",
			Status:   StatusFail,
			Message:  "Migrations directory is not readable",
			Details:  err.Error(),
		})
		return
	}
	report.AddCheck(CheckResult{
		Category: "Application",
		Name:     "app_dir",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Migrations directory %s (%d scripts)", d.opts.AppDir, len(found)),
	})
}

func (d *Doctor) checkModules(report *Report) {
	entries := d.opts.Registry.Entries()
	if len(entries) == 0 {
		report.AddCheck(CheckResult{
			Category: "Modules",
			Name:     "modules",
			Status:   StatusPass,
			Message:  "No modules configured",
		})
		return
	}

	for _, e := range entries {
		name := "module:" + e.Name
		dir, err := d.opts.Resolver.MigrationsDir(e.Config)
		if err != nil {
			report.AddCheck(CheckResult{
				Category: "Modules",
				Name:     name,
				Status:   StatusFail,
				Message:  fmt.Sprintf("Module %s cannot be resolved", e.Name),
				Details:  err.Error(),
				FixHint:  "Give the module a class with a namespace or an explicit base_path",
			})
			continue
		}
		if ok, err := afero.IsDir(d.opts.FS, dir); err != nil || !ok {
			report.AddCheck(CheckResult{
				Category: "Modules",
				Name:     name,
				Status:   StatusWarn,
				Message:  fmt.Sprintf("Module %s has no migrations directory", e.Name),
				Details:  dir,
			})
			continue
		}
		d.sources.Put(e.Name, dir)
		found, _, _ := source.ListDir(d.opts.FS, e.Name, dir)
		report.AddCheck(CheckResult{
			Category: "Modules",
			Name:     name,
			Status:   StatusPass,
			Message:  fmt.Sprintf("Module %s (%d scripts)", e.Name, len(found)),
			Details:  dir,
		})
	}
}

func (d *Doctor) checkIndex(report *Report) error {
	_, err := source.Scan(d.opts.FS, d.sources, source.CollisionError)
	switch {
	case err == nil:
		report.AddCheck(CheckResult{
			Category: "Sources",
			Name:     "duplicates",
			Status:   StatusPass,
			Message:  "No duplicate identifiers",
		})
	case errors.Is(err, source.ErrDuplicateIdentifier):
		var details []string
		var merr *multierror.Error
		if errors.As(err, &merr) {
			for _, e := range merr.Errors {
				details = append(details, e.Error())
			}
		} else {
			details = append(details, err.Error())
		}
		report.AddCheck(CheckResult{
			Category: "Sources",
			Name:     "duplicates",
			Status:   StatusFail,
			Message:  fmt.Sprintf("%d identifiers are provided by more than one source", len(details)),
			Details:  strings.Join(details, "\n"),
			FixHint:  "Rename one of the scripts or set on_duplicate to first or last",
		})
	default:
		return err
	}

	// Continue on a last-wins view so later checks still see every identifier.
	idx, err := source.Scan(d.opts.FS, d.sources, source.CollisionLastWins)
	if err != nil {
		return err
	}
	d.index = idx

	if ignored := idx.Ignored(); len(ignored) > 0 {
		report.AddCheck(CheckResult{
			Category: "Sources",
			Name:     "ignored",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d files do not follow the migration naming convention", len(ignored)),
			Details:  strings.Join(ignored, "\n"),
			FixHint:  "Name scripts m<yymmdd>_<hhmmss>_<name>.sql",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: "Sources",
			Name:     "ignored",
			Status:   StatusPass,
			Message:  fmt.Sprintf("%d migrations across %d sources", idx.Len(), d.sources.Len()),
		})
	}
	return nil
}

func (d *Doctor) checkHistory(ctx context.Context, report *Report) error {
	h := d.opts.History
	if h == nil {
		report.AddCheck(CheckResult{
			Category: "History",
			Name:     "table",
			Status:   StatusWarn,
			Message:  "No database configured, history not checked",
			FixHint:  "Set database.url or pass --db",
		})
		return nil
	}

	if !h.Exists(ctx) {
		report.AddCheck(CheckResult{
			Category: "History",
			Name:     "table",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("History table %s does not exist", h.Table()),
			Details:  "Migration tracking is not set up",
			FixHint:  "Run 'modmigrate up' to create it",
		})
		report.AddCheck(CheckResult{
			Category: "History",
			Name:     "pending",
			Status:   StatusPass,
			Message:  fmt.Sprintf("%d migrations pending", d.index.Len()),
		})
		return nil
	}
	report.AddCheck(CheckResult{
		Category: "History",
		Name:     "table",
		Status:   StatusPass,
		Message:  fmt.Sprintf("History table %s exists", h.Table()),
	})

	applied, err := h.Applied(ctx, 0)
	if err != nil {
		return err
	}

	if orphans := orchestrator.Orphans(applied, d.index); len(orphans) > 0 {
		ids := make([]string, len(orphans))
		for i, o := range orphans {
			ids[i] = o.Identifier
		}
		report.AddCheck(CheckResult{
			Category: "History",
			Name:     "orphans",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d applied migrations have no script on disk", len(orphans)),
			Details:  strings.Join(ids, "\n"),
			FixHint:  "Restore the scripts or re-enable the modules that provided them",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: "History",
			Name:     "orphans",
			Status:   StatusPass,
			Message:  "Every applied migration has a script",
		})
	}

	done := make(map[string]bool, len(applied))
	for _, a := range applied {
		done[a.Identifier] = true
	}
	var pending []string
	for _, id := range d.index.Identifiers() {
		if !done[id] {
			pending = append(pending, id)
		}
	}
	report.AddCheck(CheckResult{
		Category: "History",
		Name:     "pending",
		Status:   StatusPass,
		Message:  fmt.Sprintf("%d migrations pending", len(pending)),
		Details:  strings.Join(pending, "\n"),
	})
	return nil
}
