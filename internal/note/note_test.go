package note

import (
	"crypto/ed25519"
	"encoding/hex"
	"reflect"
	"testing"
)

func TestParseHashtags(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"none", "just a plain note", nil},
		{"single", "buy milk #groceries", []string{"groceries"}},
		{"multiple", "#Test #Multiple #TAGS", []string{"test", "multiple", "tags"}},
		{"lowercased", "meeting notes #Work", []string{"work"}},
		{"deduplicated", "#go and more #go and #GO", []string{"go"}},
		{"bare hash ignored", "just a # symbol", nil},
		{"mid-sentence", "read #books before bed #books #sleep", []string{"books", "sleep"}},
		{"insertion order", "#zeta then #alpha", []string{"zeta", "alpha"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseHashtags(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseHashtags(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestNoteHasTag(t *testing.T) {
	n := Note{Tags: []string{"work", "ideas"}}
	if !n.HasTag("work") {
		t.Error("expected HasTag(work) to be true")
	}
	if n.HasTag("play") {
		t.Error("expected HasTag(play) to be false")
	}
}

func signedEvent(t *testing.T) (Event, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	ev := BuildNoteEvent(hex.EncodeToString(pub), "ciphertext", []string{"work"}, 1700000000)
	if err := ev.Sign(priv); err != nil {
		t.Fatalf("failed to sign event: %v", err)
	}
	return ev, priv
}

func TestEventSignAndVerify(t *testing.T) {
	ev, _ := signedEvent(t)

	if ev.ID == "" || ev.Sig == "" {
		t.Fatal("Sign should fill in ID and Sig")
	}
	if err := ev.Verify(); err != nil {
		t.Fatalf("Verify failed on freshly signed event: %v", err)
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("Validate failed on signed event: %v", err)
	}
}

func TestEventVerifyRejectsTampering(t *testing.T) {
	tamper := []struct {
		name   string
		mutate func(*Event)
	}{
		{"content changed", func(e *Event) { e.Content = "other" }},
		{"timestamp changed", func(e *Event) { e.CreatedAt++ }},
		{"id swapped", func(e *Event) { e.ID = "00" + e.ID[2:] }},
		{"sig garbled", func(e *Event) { e.Sig = "00" + e.Sig[2:] }},
	}

	for _, tt := range tamper {
		t.Run(tt.name, func(t *testing.T) {
			ev, _ := signedEvent(t)
			tt.mutate(&ev)
			if err := ev.Verify(); err == nil {
				t.Error("expected Verify to fail after tampering")
			}
		})
	}
}

func TestComputeIDDeterministic(t *testing.T) {
	ev, _ := signedEvent(t)
	id1, err := ev.ComputeID()
	if err != nil {
		t.Fatal(err)
	}
	id2, err := ev.ComputeID()
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("ComputeID not deterministic: %s != %s", id1, id2)
	}
	if len(id1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(id1))
	}
}

func TestEventHashtagValues(t *testing.T) {
	ev := BuildNoteEvent("pubkey", "ct", []string{"a", "b"}, 1)
	got := ev.HashtagValues()
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("HashtagValues = %v, want [a b]", got)
	}
}

func TestFilterMatches(t *testing.T) {
	ev, _ := signedEvent(t)

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter matches", Filter{}, true},
		{"self filter matches", SelfNotes(ev.PubKey), true},
		{"wrong author", Filter{Authors: []string{"deadbeef"}}, false},
		{"wrong kind", Filter{Kinds: []int{1}}, false},
		{"id match", Filter{IDs: []string{ev.ID}}, true},
		{"tag match", Filter{Tags: []string{"work"}}, true},
		{"tag miss", Filter{Tags: []string{"play"}}, false},
		{"since before", Filter{Since: ev.CreatedAt - 10}, true},
		{"since after", Filter{Since: ev.CreatedAt + 10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(&ev); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

// The filter type must not be able to express overlay state: read/synced
// flags are local-only and may never shape wire queries.
func TestFilterHasNoOverlayFields(t *testing.T) {
	ft := reflect.TypeOf(Filter{})
	for i := 0; i < ft.NumField(); i++ {
		name := ft.Field(i).Name
		if name == "IsRead" || name == "IsSynced" || name == "Read" || name == "Synced" {
			t.Errorf("Filter exposes overlay field %s", name)
		}
	}
}
