package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/pthm/modmigrate/pkg/naming"
)

// ErrDuplicateIdentifier is matched by errors reporting the same migration
// identifier in more than one source.
var ErrDuplicateIdentifier = errors.New("duplicate migration identifier across sources")

// DuplicateError describes one identifier provided by several files.
type DuplicateError struct {
	Identifier string
	Paths      []string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %s provided by %s", ErrDuplicateIdentifier, e.Identifier, strings.Join(e.Paths, ", "))
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicateIdentifier
}

// CollisionPolicy decides what happens when two sources provide the same
// identifier.
type CollisionPolicy int

const (
	// CollisionError rejects the scan with a DuplicateError per identifier.
	CollisionError CollisionPolicy = iota
	// CollisionLastWins keeps the file from the later source.
	CollisionLastWins
	// CollisionFirstWins keeps the file from the earlier source.
	CollisionFirstWins
)

// ParseCollisionPolicy parses "error", "last" or "first".
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "error":
		return CollisionError, nil
	case "last":
		return CollisionLastWins, nil
	case "first":
		return CollisionFirstWins, nil
	default:
		return CollisionError, fmt.Errorf("unknown duplicate policy %q (want error, last or first)", s)
	}
}

func (p CollisionPolicy) String() string {
	switch p {
	case CollisionLastWins:
		return "last"
	case CollisionFirstWins:
		return "first"
	default:
		return "error"
	}
}

// Discovered is one migration script found on disk.
type Discovered struct {
	Source     string
	FilePath   string
	Identifier string
}

// Index maps script files to identifiers and back. It is rebuilt from
// scratch for every action and never updated incrementally.
type Index struct {
	byPath  map[string]string
	byID    map[string]Discovered
	ignored []string
}

func newIndex() *Index {
	return &Index{
		byPath: make(map[string]string),
		byID:   make(map[string]Discovered),
	}
}

// Lookup returns the script backing identifier.
func (i *Index) Lookup(identifier string) (Discovered, bool) {
	d, ok := i.byID[identifier]
	return d, ok
}

// Has reports whether identifier has a backing file.
func (i *Index) Has(identifier string) bool {
	_, ok := i.byID[identifier]
	return ok
}

// Identifier returns the identifier provided by filePath.
func (i *Index) Identifier(filePath string) (string, bool) {
	id, ok := i.byPath[filePath]
	return id, ok
}

// Identifiers returns all identifiers in ascending order.
func (i *Index) Identifiers() []string {
	ids := make([]string, 0, len(i.byID))
	for id := range i.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entries returns the resolved scripts ordered by identifier.
func (i *Index) Entries() []Discovered {
	out := make([]Discovered, 0, len(i.byID))
	for _, id := range i.Identifiers() {
		out = append(out, i.byID[id])
	}
	return out
}

// Len returns the number of distinct identifiers.
func (i *Index) Len() int {
	return len(i.byID)
}

// Ignored returns entries of source directories that do not follow the
// naming convention or are not regular files.
func (i *Index) Ignored() []string {
	out := make([]string, len(i.ignored))
	copy(out, i.ignored)
	return out
}

// ListDir returns the migrations of a single directory sorted by identifier,
// plus the entries it ignored. A missing path or a path that is not a
// directory yields no migrations and no error.
func ListDir(fs afero.Fs, key, dir string) ([]Discovered, []string, error) {
	if ok, err := afero.IsDir(fs, dir); err != nil || !ok {
		return nil, nil, nil
	}
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var found []Discovered
	var ignored []string
	for _, entry := range entries {
		p := filepath.Join(dir, entry.Name())
		id, ok := naming.Parse(entry.Name())
		if !ok || !entry.Mode().IsRegular() {
			ignored = append(ignored, p)
			continue
		}
		found = append(found, Discovered{Source: key, FilePath: p, Identifier: id})
	}
	sort.Slice(found, func(a, b int) bool { return found[a].Identifier < found[b].Identifier })
	return found, ignored, nil
}

// Scan builds an Index over every source of set, in set order.
func Scan(fs afero.Fs, set *Set, policy CollisionPolicy) (*Index, error) {
	idx := newIndex()
	dupes := make(map[string]*DuplicateError)
	var dupeOrder []string

	for _, src := range set.Sources() {
		found, ignored, err := ListDir(fs, src.Key, src.Dir)
		if err != nil {
			return nil, err
		}
		idx.ignored = append(idx.ignored, ignored...)

		for _, d := range found {
			if _, seen := idx.byPath[d.FilePath]; seen {
				// the same directory registered under two keys
				continue
			}
			idx.byPath[d.FilePath] = d.Identifier

			prev, exists := idx.byID[d.Identifier]
			if !exists {
				idx.byID[d.Identifier] = d
				continue
			}
			switch policy {
			case CollisionLastWins:
				idx.byID[d.Identifier] = d
			case CollisionFirstWins:
			default:
				de, ok := dupes[d.Identifier]
				if !ok {
					de = &DuplicateError{Identifier: d.Identifier, Paths: []string{prev.FilePath}}
					dupes[d.Identifier] = de
					dupeOrder = append(dupeOrder, d.Identifier)
				}
				de.Paths = append(de.Paths, d.FilePath)
			}
		}
	}

	if len(dupeOrder) > 0 {
		var result *multierror.Error
		for _, id := range dupeOrder {
			result = multierror.Append(result, dupes[id])
		}
		return nil, result.ErrorOrNil()
	}
	return idx, nil
}
