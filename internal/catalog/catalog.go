// Package catalog holds the live set of orbital element records. A Catalog is
// immutable once published; every change produces a new Catalog with a higher
// Version, swapped in atomically by the Store.
package catalog

import (
	"errors"
	"sort"
	"time"

	"github.com/star/orbitwatch/internal/tle"
)

var (
	// ErrUnavailable reports that the Catalog Source could not supply data.
	// It is surfaced to the caller and never retried here.
	ErrUnavailable = errors.New("catalog unavailable")

	ErrDuplicateObject = errors.New("duplicate object identity")
	ErrNoCatalog       = errors.New("no catalog loaded")
)

// Catalog maps object identity to element set for one load.
type Catalog struct {
	Version  uint64
	Source   string
	LoadedAt time.Time

	entries []tle.ElementSet // sorted by ID
	index   map[string]int
	epochs  tle.EpochRange
	users   int
}

func newCatalog(version uint64, source string, loadedAt time.Time, sets []tle.ElementSet) *Catalog {
	entries := make([]tle.ElementSet, len(sets))
	copy(entries, sets)
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	c := &Catalog{
		Version:  version,
		Source:   source,
		LoadedAt: loadedAt,
		entries:  entries,
		index:    make(map[string]int, len(entries)),
		epochs:   tle.RangeOf(entries),
	}
	for i, e := range entries {
		c.index[e.ID] = i
		if e.Class == tle.ClassUserAdded {
			c.users++
		}
	}
	return c
}

// Len returns the number of objects in the catalog.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Get looks up an object by identity.
func (c *Catalog) Get(id string) (tle.ElementSet, bool) {
	if c == nil {
		return tle.ElementSet{}, false
	}
	i, ok := c.index[id]
	if !ok {
		return tle.ElementSet{}, false
	}
	return c.entries[i], true
}

// Entries returns the element sets in identity order. The slice is shared and
// must not be modified.
func (c *Catalog) Entries() []tle.ElementSet {
	if c == nil {
		return nil
	}
	return c.entries
}

// IDs returns object identities in sorted order.
func (c *Catalog) IDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, len(c.entries))
	for i, e := range c.entries {
		ids[i] = e.ID
	}
	return ids
}

func (c *Catalog) EpochRange() tle.EpochRange {
	if c == nil {
		return tle.EpochRange{}
	}
	return c.epochs
}

// UserObjects returns how many entries were added through user intake.
func (c *Catalog) UserObjects() int {
	if c == nil {
		return 0
	}
	return c.users
}
