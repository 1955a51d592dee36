package reconcile

import (
	"sort"

	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/valueobjects"
)

// Entry is one displayed row. Pending entries are optimistic and not yet confirmed by the
// remote store; for an optimistic insert the record id is the provisional handle id.
type Entry struct {
	Record  entities.Record `json:"record"`
	Pending bool            `json:"pending"`
	Handle  string          `json:"handle,omitempty"`
}

// ListState is a read-only snapshot of a store's list.
type ListState struct {
	Direction valueobjects.OrderDirection `json:"-"`
	Entries   []Entry                     `json:"entries"`
}

// Len returns the number of entries, pending ones included.
func (s ListState) Len() int {
	return len(s.Entries)
}

// IDs returns entry ids in display order.
func (s ListState) IDs() []string {
	ids := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		ids[i] = e.Record.ID
	}
	return ids
}

// Records returns the records in display order.
func (s ListState) Records() []entities.Record {
	recs := make([]entities.Record, len(s.Entries))
	for i, e := range s.Entries {
		recs[i] = e.Record
	}
	return recs
}

// Get returns the entry with the given id.
func (s ListState) Get(id string) (Entry, bool) {
	for _, e := range s.Entries {
		if e.Record.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Contains reports whether an entry with the id is displayed.
func (s ListState) Contains(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// orderedList keeps entries sorted by creation time in the configured direction.
// Ties keep arrival order: a new entry goes after every entry with an equal key.
type orderedList struct {
	dir     valueobjects.OrderDirection
	entries []Entry
}

func newOrderedList(dir valueobjects.OrderDirection) orderedList {
	return orderedList{dir: dir}
}

func (l *orderedList) len() int {
	return len(l.entries)
}

func (l *orderedList) indexOf(id string) int {
	for i, e := range l.entries {
		if e.Record.ID == id {
			return i
		}
	}
	return -1
}

func (l *orderedList) contains(id string) bool {
	return l.indexOf(id) >= 0
}

func (l *orderedList) get(id string) (Entry, bool) {
	if i := l.indexOf(id); i >= 0 {
		return l.entries[i], true
	}
	return Entry{}, false
}

// insertPos is the first index whose entry must come after the new key.
func (l *orderedList) insertPos(e Entry) int {
	key := e.Record.CreatedAt
	return sort.Search(len(l.entries), func(i int) bool {
		return l.dir.Before(key, l.entries[i].Record.CreatedAt)
	})
}

func (l *orderedList) insert(e Entry) int {
	return l.insertAt(l.insertPos(e), e)
}

func (l *orderedList) insertAt(i int, e Entry) int {
	l.entries = append(l.entries, Entry{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = e
	return i
}

// insertNear puts e back at index i when that keeps the order, otherwise at its ordered
// position. Used by rollbacks so an undone delete reappears where it was.
func (l *orderedList) insertNear(i int, e Entry) int {
	if i < 0 || i > len(l.entries) {
		return l.insert(e)
	}
	key := e.Record.CreatedAt
	if i > 0 && !l.dir.InOrder(l.entries[i-1].Record.CreatedAt, key) {
		return l.insert(e)
	}
	if i < len(l.entries) && !l.dir.InOrder(key, l.entries[i].Record.CreatedAt) {
		return l.insert(e)
	}
	return l.insertAt(i, e)
}

func (l *orderedList) remove(id string) (Entry, int, bool) {
	i := l.indexOf(id)
	if i < 0 {
		return Entry{}, -1, false
	}
	e := l.entries[i]
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	return e, i, true
}

// replace swaps the entry with the given id. The ordering key is immutable, so the position
// only moves when the replacement carries a different key (a provisional entry being
// confirmed, or a zero key being filled in).
func (l *orderedList) replace(id string, e Entry) bool {
	i := l.indexOf(id)
	if i < 0 {
		return false
	}
	if l.entries[i].Record.CreatedAt.Equal(e.Record.CreatedAt) {
		l.entries[i] = e
		return true
	}
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	l.insert(e)
	return true
}

func (l *orderedList) reset(entries []Entry) {
	l.entries = entries
}

func (l *orderedList) snapshot() ListState {
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = Entry{Record: e.Record.Clone(), Pending: e.Pending, Handle: e.Handle}
	}
	return ListState{Direction: l.dir, Entries: out}
}

// sortRecords orders fetched rows for display, keeping server order for ties, and drops
// repeated ids keeping the first occurrence.
func sortRecords(dir valueobjects.OrderDirection, recs []entities.Record) []Entry {
	seen := make(map[string]struct{}, len(recs))
	entries := make([]Entry, 0, len(recs))
	for _, r := range recs {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		entries = append(entries, Entry{Record: r})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return dir.Before(entries[i].Record.CreatedAt, entries[j].Record.CreatedAt)
	})
	return entries
}
