package note

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Event is the signed wire envelope for a note.
//
// Content is ciphertext (the note body encrypted to self); the plaintext
// never appears on the wire or in local storage. Tags carry the extracted
// hashtags as ["t", value] pairs plus a ["p", pubkey] self-reference.
//
// There are deliberately no overlay fields here: read/synced state is local
// metadata and must never be transmitted.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// ComputeID returns the hex sha256 of the event's canonical serialization:
// the JSON array [0, pubkey, created_at, kind, tags, content].
func (e *Event) ComputeID() (string, error) {
	canonical, err := json.Marshal([]any{0, e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content})
	if err != nil {
		return "", fmt.Errorf("failed to serialize event: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Sign computes the event id and signs it with the given private key,
// filling in ID, PubKey, and Sig.
func (e *Event) Sign(priv ed25519.PrivateKey) error {
	e.PubKey = hex.EncodeToString(priv.Public().(ed25519.PublicKey))

	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	e.ID = id

	digest, err := hex.DecodeString(id)
	if err != nil {
		return fmt.Errorf("failed to decode event id: %w", err)
	}
	e.Sig = hex.EncodeToString(ed25519.Sign(priv, digest))
	return nil
}

// Verify checks that the event id matches its content and that the
// signature is valid for the embedded pubkey.
func (e *Event) Verify() error {
	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	if id != e.ID {
		return fmt.Errorf("event id mismatch: computed %s, got %s", id, e.ID)
	}

	pub, err := hex.DecodeString(e.PubKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid pubkey %q", e.PubKey)
	}
	sig, err := hex.DecodeString(e.Sig)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	digest, err := hex.DecodeString(e.ID)
	if err != nil {
		return fmt.Errorf("invalid event id encoding: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), digest, sig) {
		return fmt.Errorf("signature verification failed for event %s", e.ID)
	}
	return nil
}

// Validate checks structural requirements before storing or publishing.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.PubKey == "" {
		return fmt.Errorf("pubkey is required")
	}
	if e.CreatedAt <= 0 {
		return fmt.Errorf("created_at is required")
	}
	if e.Kind == 0 {
		return fmt.Errorf("kind is required")
	}
	return nil
}

// HashtagValues returns the values of all ["t", value] tags, in order.
func (e *Event) HashtagValues() []string {
	var tags []string
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == "t" {
			tags = append(tags, tag[1])
		}
	}
	return tags
}

// BuildNoteEvent assembles an unsigned note event from ciphertext and tags.
//
// The hashtags become ["t", tag] entries and the author pubkey is added as a
// ["p", pubkey] self-reference, matching the self-DM convention.
func BuildNoteEvent(pubkey, ciphertext string, hashtags []string, createdAt int64) Event {
	tags := make([][]string, 0, len(hashtags)+1)
	for _, t := range hashtags {
		tags = append(tags, []string{"t", t})
	}
	tags = append(tags, []string{"p", pubkey})

	return Event{
		PubKey:    pubkey,
		CreatedAt: createdAt,
		Kind:      KindNote,
		Tags:      tags,
		Content:   ciphertext,
	}
}
