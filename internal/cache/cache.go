// Package cache holds the canonical in-memory view of the local identity's
// notes plus the derived tag index.
//
// The cache and its index are one unit of shared state guarded by a single
// reader-writer lock: writers are sync merges, watch-loop upserts, and local
// note creation; readers are the bridge's synchronous snapshot queries.
// Critical sections are short, so queries are safe from any thread,
// including a UI thread.
package cache

import (
	"sort"
	"strings"
	"sync"

	"github.com/futurepaul/dialog-final-v2/internal/note"
)

// Cache is the queryable, order-stable view of all notes.
type Cache struct {
	mu    sync.RWMutex
	notes map[string]note.Note
	index tagIndex
}

// tagIndex is derived from the note set and recomputed on any structural
// change. It is never patched incrementally, so it cannot drift.
type tagIndex struct {
	counts map[string]uint32
	ids    map[string][]string // tag -> note ids, sorted by created_at asc
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		notes: make(map[string]note.Note),
		index: newTagIndex(nil),
	}
}

// Upsert inserts or replaces a note by id and recomputes the tag index.
// It reports whether this was an insert (true) or an update (false), which
// callers use to classify the resulting change notification.
func (c *Cache) Upsert(n note.Note) (inserted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.notes[n.ID]
	c.notes[n.ID] = n
	c.index = newTagIndex(c.notes)
	return !exists
}

// Delete removes a note by id and recomputes the tag index.
// It reports whether the note existed.
func (c *Cache) Delete(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.notes[id]; !exists {
		return false
	}
	delete(c.notes, id)
	c.index = newTagIndex(c.notes)
	return true
}

// ReplaceAll swaps in a full snapshot, used after a reload from the local
// store or a reconciliation pass.
func (c *Cache) ReplaceAll(notes []note.Note) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.notes = make(map[string]note.Note, len(notes))
	for _, n := range notes {
		c.notes[n.ID] = n
	}
	c.index = newTagIndex(c.notes)
}

// Get returns a note by id.
func (c *Cache) Get(id string) (note.Note, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, ok := c.notes[id]
	return n, ok
}

// Contains reports whether a note with the given id is cached.
func (c *Cache) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.notes[id]
	return ok
}

// Len returns the number of cached notes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.notes)
}

// List returns notes sorted by created_at ascending (oldest first), filtered
// by tag membership if tag is non-empty, truncated to the most recent limit
// entries when more exist. limit <= 0 means no truncation.
func (c *Cache) List(limit int, tag string) []note.Note {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []note.Note
	if tag != "" {
		// The index already holds this tag's ids in list order.
		ids := c.index.ids[tag]
		result = make([]note.Note, 0, len(ids))
		for _, id := range ids {
			result = append(result, c.notes[id])
		}
	} else {
		result = make([]note.Note, 0, len(c.notes))
		for _, n := range c.notes {
			result = append(result, n)
		}
		sort.SliceStable(result, func(i, j int) bool {
			if result[i].CreatedAt != result[j].CreatedAt {
				return result[i].CreatedAt < result[j].CreatedAt
			}
			return result[i].ID < result[j].ID
		})
	}

	// Keep the tail: the most recent limit notes, still oldest-first.
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result
}

// Search returns notes whose text contains the query, case-insensitively,
// sorted oldest first.
func (c *Cache) Search(query string) []note.Note {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q := strings.ToLower(query)
	var result []note.Note
	for _, n := range c.notes {
		if strings.Contains(strings.ToLower(n.Text), q) {
			result = append(result, n)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt < result[j].CreatedAt
	})
	return result
}

// AllTags returns the sorted, de-duplicated tag list.
func (c *Cache) AllTags() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tags := make([]string, 0, len(c.index.counts))
	for tag := range c.index.counts {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// TagCounts returns a snapshot of the tag index counts. The snapshot is
// global: it is unaffected by any UI-side tag filter.
func (c *Cache) TagCounts() map[string]uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[string]uint32, len(c.index.counts))
	for tag, count := range c.index.counts {
		counts[tag] = count
	}
	return counts
}

// UnreadCount returns the number of unread notes, optionally restricted to
// one tag.
func (c *Cache) UnreadCount(tag string) uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var count uint32
	for _, n := range c.notes {
		if n.IsRead {
			continue
		}
		if tag != "" && !n.HasTag(tag) {
			continue
		}
		count++
	}
	return count
}

// SetRead updates the read flag on a cached note, returning the updated copy.
func (c *Cache) SetRead(id string) (note.Note, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.notes[id]
	if !ok {
		return note.Note{}, false
	}
	n.IsRead = true
	c.notes[id] = n
	return n, true
}

// SetSynced updates the synced flag on a cached note, returning the updated
// copy.
func (c *Cache) SetSynced(id string) (note.Note, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.notes[id]
	if !ok {
		return note.Note{}, false
	}
	n.IsSynced = true
	c.notes[id] = n
	return n, true
}

// newTagIndex rebuilds the full index from the note set.
func newTagIndex(notes map[string]note.Note) tagIndex {
	idx := tagIndex{
		counts: make(map[string]uint32),
		ids:    make(map[string][]string),
	}
	if len(notes) == 0 {
		return idx
	}

	ordered := make([]note.Note, 0, len(notes))
	for _, n := range notes {
		ordered = append(ordered, n)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt != ordered[j].CreatedAt {
			return ordered[i].CreatedAt < ordered[j].CreatedAt
		}
		return ordered[i].ID < ordered[j].ID
	})

	for _, n := range ordered {
		for _, tag := range n.Tags {
			idx.counts[tag]++
			idx.ids[tag] = append(idx.ids[tag], n.ID)
		}
	}
	return idx
}
