package keys

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvSecret is the environment variable consulted for the identity key.
const EnvSecret = "DIALOG_NSEC"

// SecretStore resolves the identity secret from wherever the platform keeps
// it. The OS keychain implementation lives with the embedding application;
// the core ships environment and file-backed stores.
type SecretStore interface {
	// IdentityKey returns the nsec for the local identity.
	IdentityKey() (string, error)
}

// EnvStore reads the identity key from the DIALOG_NSEC environment variable.
type EnvStore struct{}

// IdentityKey implements SecretStore.
func (EnvStore) IdentityKey() (string, error) {
	nsec := os.Getenv(EnvSecret)
	if nsec == "" {
		return "", fmt.Errorf("%s environment variable not set", EnvSecret)
	}
	return nsec, nil
}

// FileStore reads the identity key from a file (one nsec on the first line).
type FileStore struct {
	// Path is the identity file location, typically <data_dir>/identity.
	Path string
}

// IdentityKey implements SecretStore.
func (f FileStore) IdentityKey() (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read identity file: %w", err)
	}
	nsec := strings.TrimSpace(string(data))
	if nsec == "" {
		return "", fmt.Errorf("identity file %s is empty", f.Path)
	}
	return nsec, nil
}

// WriteIdentity persists an nsec to the identity file with owner-only
// permissions, creating parent directories as needed.
func WriteIdentity(path, nsec string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(nsec+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	return nil
}

// Resolve finds the identity key by trying the environment first, then the
// identity file under dataDir. Returns the parsed keypair.
func Resolve(dataDir string) (*Keys, error) {
	stores := []SecretStore{
		EnvStore{},
		FileStore{Path: filepath.Join(dataDir, "identity")},
	}

	var lastErr error
	for _, s := range stores {
		nsec, err := s.IdentityKey()
		if err != nil {
			lastErr = err
			continue
		}
		return Parse(nsec)
	}
	return nil, fmt.Errorf("no identity key found: %w", lastErr)
}
