// Package keychain stores database passwords in the OS credential store so
// they never have to appear in a config file or a connection URL.
package keychain

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/99designs/keyring"
)

// ServiceName identifies our keychain/credential store namespace.
const ServiceName = "gosqlmcp"

// ErrNotFound is returned when no secret is stored under a key.
var ErrNotFound = errors.New("keychain: no secret stored under this key")

// Manager provides thread-safe access to one keyring.
type Manager struct {
	mu   sync.RWMutex
	ring keyring.Keyring
}

// NewManager opens the native OS keyring.
func NewManager() (*Manager, error) {
	ring, err := openRing()
	if err != nil {
		return nil, err
	}
	return &Manager{ring: ring}, nil
}

// NewManagerWithRing wraps an already opened keyring.
func NewManagerWithRing(ring keyring.Keyring) *Manager {
	return &Manager{ring: ring}
}

// openRing opens the OS keyring using native platform backends only.
// There is no encrypted-file fallback: it would need its own passphrase.
func openRing() (keyring.Keyring, error) {
	var allowed []keyring.BackendType
	switch runtime.GOOS {
	case "darwin":
		allowed = []keyring.BackendType{keyring.KeychainBackend, keyring.PassBackend}
	case "windows":
		allowed = []keyring.BackendType{keyring.WinCredBackend}
	default:
		allowed = []keyring.BackendType{keyring.SecretServiceBackend, keyring.KWalletBackend, keyring.PassBackend}
	}

	cfg := keyring.Config{
		ServiceName:     ServiceName,
		AllowedBackends: allowed,
		PassPrefix:      ServiceName,
		WinCredPrefix:   ServiceName,
	}
	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("keychain: no usable OS credential store: %w", err)
	}
	return ring, nil
}

// Get returns the secret stored under key.
func (m *Manager) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, err := m.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keychain: read %q: %w", key, err)
	}
	if len(it.Data) == 0 {
		return "", ErrNotFound
	}
	return string(it.Data), nil
}

// Set stores secret under key, replacing any previous value.
func (m *Manager) Set(key, secret string) error {
	if key == "" {
		return errors.New("keychain: key must be non-empty")
	}
	if secret == "" {
		return errors.New("keychain: refusing to store an empty secret")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(secret),
		Label:       ServiceName + " " + key,
		Description: "database password",
	})
	if err != nil {
		return fmt.Errorf("keychain: store %q: %w", key, err)
	}
	return nil
}

// Delete removes the secret stored under key.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("keychain: delete %q: %w", key, err)
	}
	return nil
}
