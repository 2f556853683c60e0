// Package naming implements the migration file naming convention.
//
// A migration file is named m<YYMMDD>_<HHMMSS>_<suffix>.sql. The part before
// the extension is the migration identifier. Identifiers sort lexicographically
// in creation order because of the fixed-width UTC timestamp prefix, so the
// identifier doubles as the global ordering key across every source.
package naming

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Extension is the file extension of migration scripts.
const Extension = ".sql"

// TimestampLayout formats the 12-digit timestamp prefix (yymmdd_hhmmss).
const TimestampLayout = "060102_150405"

// BaseIdentifier is the placeholder history row written when the history
// table is created. It is never backed by a file.
const BaseIdentifier = "m000000_000000_base"

var (
	fileRe       = regexp.MustCompile(`^(m(\d{6}_\d{6})_.+?)\.sql$`)
	identifierRe = regexp.MustCompile(`^m(\d{6}_\d{6})_.+$`)
	nameRe       = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// ErrInvalidName is returned when a migration name contains characters other
// than letters, digits and underscores.
var ErrInvalidName = errors.New("migration name should contain letters, digits and/or underscores only")

// Parse returns the identifier encoded in filename. It reports false when the
// name does not follow the convention; such files are ignored by discovery.
// Parse only looks at the name. Callers that scan a directory are responsible
// for checking that the entry is a regular file.
func Parse(filename string) (string, bool) {
	m := fileRe.FindStringSubmatch(filename)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsIdentifier reports whether id is a well-formed migration identifier.
func IsIdentifier(id string) bool {
	return identifierRe.MatchString(id)
}

// Timestamp returns the 12-digit timestamp portion of an identifier.
func Timestamp(id string) (string, bool) {
	m := identifierRe.FindStringSubmatch(id)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FileName returns the script file name for an identifier.
func FileName(id string) string {
	return id + Extension
}

// NewIdentifier builds an identifier for a migration created at t.
// The timestamp is always rendered in UTC.
func NewIdentifier(t time.Time, suffix string) string {
	return "m" + t.UTC().Format(TimestampLayout) + "_" + suffix
}

// ValidateName checks a user supplied migration name.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// DumpSuffix is the identifier suffix used for table snapshot migrations.
func DumpSuffix(table string) string {
	return strings.ReplaceAll(table, ".", "_") + "_dump"
}
