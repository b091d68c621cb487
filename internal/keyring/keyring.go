// Package keyring stores the Discord bot token in the OS credential
// store, so the credential never sits in a config file.
package keyring

import (
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

const (
	serviceName = "rbxmon"

	// DiscordTokenKey is the item under which the bot token lives.
	DiscordTokenKey = "discord-token"
)

var (
	ring     keyring.Keyring
	ringOnce sync.Once
	ringErr  error
)

// initKeyring initializes the keyring with fallback options
func initKeyring() (keyring.Keyring, error) {
	ringOnce.Do(func() {
		ring, ringErr = keyring.Open(keyring.Config{
			ServiceName: serviceName,
			// Allow multiple backends with priority order
			AllowedBackends: []keyring.BackendType{
				keyring.KeychainBackend,      // macOS Keychain
				keyring.SecretServiceBackend, // Linux Secret Service (GNOME Keyring, KWallet)
				keyring.WinCredBackend,       // Windows Credential Manager
				keyring.PassBackend,          // Pass (password-store.org)
			},
		})
	})
	return ring, ringErr
}

// SetSecret stores a secret under the given key.
func SetSecret(key, secret string) error {
	kr, err := initKeyring()
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	return kr.Set(keyring.Item{
		Key:  key,
		Data: []byte(secret),
	})
}

// GetSecret retrieves a secret. Returns empty string when nothing is
// stored under the key.
func GetSecret(key string) (string, error) {
	kr, err := initKeyring()
	if err != nil {
		return "", fmt.Errorf("failed to open keyring: %w", err)
	}

	item, err := kr.Get(key)
	if err == keyring.ErrKeyNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to retrieve secret: %w", err)
	}
	return string(item.Data), nil
}

// DeleteSecret removes a stored secret.
func DeleteSecret(key string) error {
	kr, err := initKeyring()
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	err = kr.Remove(key)
	if err == keyring.ErrKeyNotFound {
		return fmt.Errorf("no secret stored for '%s'", key)
	}
	return err
}

// HasSecret checks whether a secret is stored under the key.
func HasSecret(key string) bool {
	kr, err := initKeyring()
	if err != nil {
		return false
	}

	_, err = kr.Get(key)
	return err == nil
}
