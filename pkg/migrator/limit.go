package migrator

import (
	"strconv"
	"strings"
)

// Limit bounds how many migrations an action processes. The zero value
// means all of them.
type Limit int

// All processes every eligible migration.
const All Limit = 0

// ParseLimit accepts "all" or a positive integer.
func ParseLimit(s string) (Limit, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "all") {
		return All, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return All, ErrInvalidLimit
	}
	return Limit(n), nil
}

// IsAll reports whether the limit is unbounded.
func (l Limit) IsAll() bool {
	return l <= 0
}

// Apply truncates ids to the limit.
func (l Limit) Apply(ids []string) []string {
	if l.IsAll() || int(l) >= len(ids) {
		return ids
	}
	return ids[:l]
}

func (l Limit) String() string {
	if l.IsAll() {
		return "all"
	}
	return strconv.Itoa(int(l))
}
