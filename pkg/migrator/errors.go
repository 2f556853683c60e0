package migrator

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownDialect is returned for driver names no dialect handles.
	ErrUnknownDialect = errors.New("unknown database dialect")

	// ErrNoUpSection is returned for scripts without a "-- +migrate Up" directive.
	ErrNoUpSection = errors.New("script has no up section")

	// ErrUnterminatedBlock is returned when StatementBegin has no StatementEnd.
	ErrUnterminatedBlock = errors.New("unterminated statement block")

	// ErrIrreversible is returned when reverting a script without a down section.
	ErrIrreversible = errors.New("migration cannot be reverted")

	// ErrInvalidLimit is returned by ParseLimit.
	ErrInvalidLimit = errors.New(`limit must be a positive integer or "all"`)

	// ErrMigrationNotFound is returned when an identifier is neither pending
	// nor applied.
	ErrMigrationNotFound = errors.New("migration not found")
)

// ScriptError reports a malformed migration script.
type ScriptError struct {
	Path string
	Line int
	Err  error
}

func (e *ScriptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}
