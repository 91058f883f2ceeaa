// Package note defines the domain model for dialog: decrypted notes, the
// signed wire events they travel as, and the filters used to query them.
//
// A Note is the user-visible record. An Event is the encrypted, signed
// envelope that is stored locally and exchanged with relays. Filters select
// events by author, kind, id, hashtag, and time; they are the only query
// shape that ever crosses the network.
package note

import (
	"strings"
)

// KindNote is the event kind used for self-encrypted notes.
const KindNote = 1059

// Note is a decrypted, user-visible record.
//
// IsRead and IsSynced are local-only overlay flags. They are populated from
// the overlay store when a Note is assembled for the caller and are never
// part of the wire representation (Event has no corresponding fields).
type Note struct {
	// ID is the hex event id, content-derived and immutable.
	ID string `json:"id"`

	// Text is the decrypted UTF-8 body.
	Text string `json:"text"`

	// Tags holds lowercase topic strings, duplicates removed.
	Tags []string `json:"tags"`

	// CreatedAt is author-supplied seconds since epoch, used for ordering.
	CreatedAt int64 `json:"created_at"`

	// IsRead reports whether the local user has read this note.
	IsRead bool `json:"is_read"`

	// IsSynced reports whether a relay has acknowledged or echoed this note.
	IsSynced bool `json:"is_synced"`
}

// HasTag reports whether the note carries the given (lowercase) tag.
func (n *Note) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ParseHashtags extracts hashtags from note text.
//
// Any whitespace-delimited token beginning with '#' and having at least one
// following character yields a tag: the '#' is stripped, the remainder
// lowercased, and duplicates collapsed. Order of first occurrence is kept.
func ParseHashtags(text string) []string {
	var tags []string
	seen := make(map[string]bool)

	for _, word := range strings.Fields(text) {
		if !strings.HasPrefix(word, "#") || len(word) < 2 {
			continue
		}
		tag := strings.ToLower(word[1:])
		if seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	return tags
}
