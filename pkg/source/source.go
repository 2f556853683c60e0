// Package source discovers migration scripts across several directories.
//
// A Source is one directory contributing migrations, tagged by its owner:
// "app" for the application or a module name. A Set keeps sources in
// registration order and an Index maps every discovered script file to the
// identifier it provides.
package source

// AppKey is the key of the application's own migration source.
const AppKey = "app"

// Source is one migration directory.
type Source struct {
	Key string
	Dir string
}

// Set is an ordered mapping of source key to directory. Keys are unique;
// setting an existing key replaces its directory in place.
type Set struct {
	items []Source
	index map[string]int
}

// NewSet creates a set from the given sources.
func NewSet(sources ...Source) *Set {
	s := &Set{index: make(map[string]int)}
	for _, src := range sources {
		s.Put(src.Key, src.Dir)
	}
	return s
}

// Put adds or replaces a source.
func (s *Set) Put(key, dir string) {
	if i, ok := s.index[key]; ok {
		s.items[i].Dir = dir
		return
	}
	s.index[key] = len(s.items)
	s.items = append(s.items, Source{Key: key, Dir: dir})
}

// Get returns the directory registered for key.
func (s *Set) Get(key string) (string, bool) {
	i, ok := s.index[key]
	if !ok {
		return "", false
	}
	return s.items[i].Dir, true
}

// Has reports whether key is registered.
func (s *Set) Has(key string) bool {
	_, ok := s.index[key]
	return ok
}

// Sources returns a copy of the sources in order.
func (s *Set) Sources() []Source {
	out := make([]Source, len(s.items))
	copy(out, s.items)
	return out
}

// Keys returns the source keys in order.
func (s *Set) Keys() []string {
	keys := make([]string, len(s.items))
	for i, src := range s.items {
		keys[i] = src.Key
	}
	return keys
}

// Len returns the number of sources.
func (s *Set) Len() int {
	return len(s.items)
}
