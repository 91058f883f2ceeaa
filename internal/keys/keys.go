// Package keys manages the local identity: an ed25519 keypair derived from a
// 32-byte seed. Secrets are rendered as nsec strings and public keys as npub
// strings; raw hex is accepted everywhere an nsec/npub is.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	nsecPrefix = "nsec1"
	npubPrefix = "npub1"

	// SeedSize is the identity seed length in bytes.
	SeedSize = 32
)

// Keys holds the local identity keypair.
type Keys struct {
	seed []byte
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// Parse decodes an nsec string (or raw 64-char hex seed) into a keypair.
func Parse(nsec string) (*Keys, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(nsec), nsecPrefix)
	seed, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key encoding: %w", err)
	}
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keys{
		seed: seed,
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// Generate creates a new random identity.
func Generate() (*Keys, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate secret key: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keys{
		seed: seed,
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// Validate reports whether the given nsec parses to a usable identity.
func Validate(nsec string) bool {
	_, err := Parse(nsec)
	return err == nil
}

// DerivePub returns the npub for an nsec, or an empty string if the nsec is
// invalid.
func DerivePub(nsec string) string {
	k, err := Parse(nsec)
	if err != nil {
		return ""
	}
	return k.Npub()
}

// Seed returns the raw 32-byte secret seed.
func (k *Keys) Seed() []byte {
	return k.seed
}

// Private returns the ed25519 private key for signing.
func (k *Keys) Private() ed25519.PrivateKey {
	return k.priv
}

// PublicHex returns the hex-encoded public key as used in events and filters.
func (k *Keys) PublicHex() string {
	return hex.EncodeToString(k.pub)
}

// Nsec renders the secret key in nsec form.
func (k *Keys) Nsec() string {
	return nsecPrefix + hex.EncodeToString(k.seed)
}

// Npub renders the public key in npub form.
func (k *Keys) Npub() string {
	return npubPrefix + hex.EncodeToString(k.pub)
}
