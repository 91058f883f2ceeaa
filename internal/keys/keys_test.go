package keys

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateAndRoundTrip(t *testing.T) {
	k, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	parsed, err := Parse(k.Nsec())
	if err != nil {
		t.Fatalf("Parse(Nsec) failed: %v", err)
	}
	if parsed.PublicHex() != k.PublicHex() {
		t.Error("parsed identity has a different public key")
	}
	if !strings.HasPrefix(k.Nsec(), "nsec1") {
		t.Errorf("Nsec missing prefix: %s", k.Nsec())
	}
	if !strings.HasPrefix(k.Npub(), "npub1") {
		t.Errorf("Npub missing prefix: %s", k.Npub())
	}
}

func TestParseAcceptsRawHex(t *testing.T) {
	k, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	raw := strings.TrimPrefix(k.Nsec(), "nsec1")

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse(raw hex) failed: %v", err)
	}
	if parsed.PublicHex() != k.PublicHex() {
		t.Error("raw hex parse yielded a different identity")
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"not hex", "nsec1zzzz"},
		{"short seed", "nsec1abcd"},
		{"long seed", "nsec1" + strings.Repeat("ab", 33)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.in); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.in)
			}
			if Validate(tt.in) {
				t.Errorf("Validate(%q) = true, want false", tt.in)
			}
		})
	}
}

func TestDerivePub(t *testing.T) {
	k, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	if got := DerivePub(k.Nsec()); got != k.Npub() {
		t.Errorf("DerivePub = %s, want %s", got, k.Npub())
	}
	if got := DerivePub("garbage"); got != "" {
		t.Errorf("DerivePub(garbage) = %q, want empty", got)
	}
}

func TestResolvePrecedence(t *testing.T) {
	dir := t.TempDir()

	fileKeys, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteIdentity(filepath.Join(dir, "identity"), fileKeys.Nsec()); err != nil {
		t.Fatalf("WriteIdentity failed: %v", err)
	}

	t.Run("file identity", func(t *testing.T) {
		t.Setenv(EnvSecret, "")
		k, err := Resolve(dir)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if k.PublicHex() != fileKeys.PublicHex() {
			t.Error("Resolve did not return the stored identity")
		}
	})

	t.Run("env overrides file", func(t *testing.T) {
		envKeys, err := Generate()
		if err != nil {
			t.Fatal(err)
		}
		t.Setenv(EnvSecret, envKeys.Nsec())
		k, err := Resolve(dir)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if k.PublicHex() != envKeys.PublicHex() {
			t.Error("environment identity should take precedence")
		}
	})

	t.Run("missing everywhere", func(t *testing.T) {
		t.Setenv(EnvSecret, "")
		if _, err := Resolve(t.TempDir()); err == nil {
			t.Error("expected error when no identity exists")
		}
	})
}
