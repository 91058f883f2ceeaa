package note

// Filter selects events by author, kind, id, hashtag, and time.
//
// This is the only query shape that crosses the network, and it is also what
// the local store's event queries accept. It structurally cannot express
// overlay state (read/synced flags): those live in a separate storage
// namespace that no Filter can reach.
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Tags    []string `json:"#t,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// SelfNotes returns the filter scoped to the local identity's note kind.
// Every outbound sync, fetch, and subscription starts from this shape.
func SelfNotes(pubkey string) Filter {
	return Filter{
		Authors: []string{pubkey},
		Kinds:   []int{KindNote},
	}
}

// Matches reports whether the event satisfies every constraint in the
// filter. Empty constraint slices match everything.
func (f *Filter) Matches(e *Event) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, e.Kind) {
		return false
	}
	if f.Since > 0 && e.CreatedAt < f.Since {
		return false
	}
	if len(f.Tags) > 0 {
		hashtags := e.HashtagValues()
		matched := false
		for _, want := range f.Tags {
			if containsString(hashtags, want) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsInt(haystack []int, needle int) bool {
	for _, n := range haystack {
		if n == needle {
			return true
		}
	}
	return false
}
