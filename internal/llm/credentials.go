package llm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name for keyring storage
	KeyringService = "deepcrawl"
	// FallbackDir holds API keys when no keyring is available (CI, containers).
	FallbackDir = ".deepcrawl/credentials"
)

// ErrNoCredentials means no API key was found for a provider that needs one.
var ErrNoCredentials = errors.New("no llm api key")

// KeyStore persists provider API keys in the OS keyring, or in 0600 files
// under the user's home when the keyring is unusable.
type KeyStore struct {
	dir      string
	fileOnly bool
}

// NewKeyStore probes the keyring once and picks a backend.
func NewKeyStore() (*KeyStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	ks := &KeyStore{dir: filepath.Join(home, FallbackDir)}

	if os.Getenv("CODESPACES") != "" || os.Getenv("CI") != "" {
		ks.fileOnly = true
		return ks, nil
	}

	testKey := "_test_keyring_access_"
	if err := keyring.Set(KeyringService, testKey, "test"); err != nil {
		log.Debug().Err(err).Msg("Keyring unavailable, using file credentials")
		ks.fileOnly = true
	} else {
		keyring.Delete(KeyringService, testKey)
	}
	return ks, nil
}

// NewFileKeyStore stores keys under dir only.
func NewFileKeyStore(dir string) *KeyStore {
	return &KeyStore{dir: dir, fileOnly: true}
}

func (ks *KeyStore) path(provider string) (string, error) {
	if err := os.MkdirAll(ks.dir, 0700); err != nil {
		return "", err
	}
	return filepath.Join(ks.dir, provider+".key"), nil
}

func validProvider(provider string) error {
	if provider == "" || strings.ContainsAny(provider, `/\`) {
		return fmt.Errorf("invalid provider name %q", provider)
	}
	return nil
}

// Save stores key for provider.
func (ks *KeyStore) Save(provider, key string) error {
	if err := validProvider(provider); err != nil {
		return err
	}
	if key == "" {
		return errors.New("api key cannot be empty")
	}

	if ks.fileOnly {
		path, err := ks.path(provider)
		if err != nil {
			return fmt.Errorf("failed to get credentials path: %w", err)
		}
		if err := os.WriteFile(path, []byte(key), 0600); err != nil {
			return fmt.Errorf("failed to save credentials file: %w", err)
		}
		return nil
	}

	if err := keyring.Set(KeyringService, provider, key); err != nil {
		return fmt.Errorf("failed to save to keyring: %w", err)
	}
	return nil
}

// Load returns the stored key for provider.
func (ks *KeyStore) Load(provider string) (string, error) {
	if err := validProvider(provider); err != nil {
		return "", err
	}

	if ks.fileOnly {
		path, err := ks.path(provider)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoCredentials
		}
		if err != nil {
			return "", fmt.Errorf("failed to load credentials file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	key, err := keyring.Get(KeyringService, provider)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoCredentials
	}
	if err != nil {
		return "", fmt.Errorf("failed to load from keyring: %w", err)
	}
	return key, nil
}

// Delete removes the stored key for provider.
func (ks *KeyStore) Delete(provider string) error {
	if err := validProvider(provider); err != nil {
		return err
	}

	if ks.fileOnly {
		path, err := ks.path(provider)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete credentials file: %w", err)
		}
		return nil
	}

	if err := keyring.Delete(KeyringService, provider); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}

// List returns the providers with stored keys. The keyring cannot be
// enumerated, so only known providers are probed there.
func (ks *KeyStore) List() ([]string, error) {
	var names []string
	if ks.fileOnly {
		entries, err := os.ReadDir(ks.dir)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if name, ok := strings.CutSuffix(e.Name(), ".key"); ok && !e.IsDir() {
				names = append(names, name)
			}
		}
		return names, nil
	}

	for name := range knownProviders {
		if _, err := keyring.Get(KeyringService, name); err == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ResolveAPIKey returns the first key found: the explicit token, the key
// store, then the <PROVIDER>_API_KEY environment variable.
func ResolveAPIKey(p Provider, token string, store *KeyStore) (string, error) {
	if token != "" {
		return token, nil
	}
	if store != nil {
		key, err := store.Load(p.Name)
		if err == nil && key != "" {
			return key, nil
		}
		if err != nil && !errors.Is(err, ErrNoCredentials) {
			log.Debug().Err(err).Str("provider", p.Name).Msg("Key store lookup failed")
		}
	}
	if key := os.Getenv(p.EnvKey()); key != "" {
		return key, nil
	}
	if !p.KeyRequired {
		return "", nil
	}
	return "", fmt.Errorf("%w for %s: pass --llm-api-token, run 'deepcrawl credentials set %s', or set %s",
		ErrNoCredentials, p.Name, p.Name, p.EnvKey())
}
