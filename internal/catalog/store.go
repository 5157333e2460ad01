package catalog

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/orbitwatch/internal/tle"
)

// Store provides thread-safe access to the live catalog. Readers load the
// current pointer without locking; writers are serialized and always publish
// a complete new Catalog.
type Store struct {
	current atomic.Pointer[Catalog]

	mu       sync.Mutex
	version  uint64
	base     []tle.ElementSet
	source   string
	loadedAt time.Time
	users    []tle.ElementSet
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Current returns the live catalog, or nil before the first load.
func (s *Store) Current() *Catalog {
	return s.current.Load()
}

// Replace publishes sets as the new catalog. User-added objects from the
// session are carried over. When two sets share an identity the first wins
// and the rest are reported as parse errors.
func (s *Store) Replace(source string, loadedAt time.Time, sets []tle.ElementSet) (*Catalog, []*tle.ParseError) {
	seen := make(map[string]bool, len(sets))
	base := make([]tle.ElementSet, 0, len(sets))
	var dups []*tle.ParseError
	for _, set := range sets {
		if seen[set.ID] {
			dups = append(dups, &tle.ParseError{
				Field: "catalog_number",
				Name:  set.Name,
				Err:   fmt.Errorf("%w: %s", ErrDuplicateObject, set.ID),
			})
			continue
		}
		seen[set.ID] = true
		base = append(base, set)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.base = base
	s.source = source
	s.loadedAt = loadedAt
	return s.publishLocked(), dups
}

// AddUserObject parses a user-entered element pair and merges it into the
// live catalog without a reload.
func (s *Store) AddUserObject(name, line1, line2 string) (tle.ElementSet, *Catalog, error) {
	set, err := tle.ParseRecord(name, line1, line2, tle.ClassUserAdded)
	if err != nil {
		return tle.ElementSet{}, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ID == set.ID {
			return tle.ElementSet{}, nil, fmt.Errorf("%w: %s", ErrDuplicateObject, set.ID)
		}
	}
	s.users = append(s.users, set)
	return set, s.publishLocked(), nil
}

// publishLocked builds and swaps in a new catalog. Callers hold s.mu.
func (s *Store) publishLocked() *Catalog {
	s.version++
	all := make([]tle.ElementSet, 0, len(s.base)+len(s.users))
	all = append(all, s.base...)
	all = append(all, s.users...)

	loadedAt := s.loadedAt
	source := s.source
	if source == "" {
		source = "user"
	}
	c := newCatalog(s.version, source, loadedAt, all)
	s.current.Store(c)
	return c
}

// AgeSeconds returns seconds since the catalog was loaded, or -1 when none is.
func (s *Store) AgeSeconds(now time.Time) float64 {
	c := s.current.Load()
	if c == nil || c.LoadedAt.IsZero() {
		return -1
	}
	return now.Sub(c.LoadedAt).Seconds()
}
