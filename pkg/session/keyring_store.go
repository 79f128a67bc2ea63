package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "storyrelay"
	sessionPrefix  = "session_"
	passwordPrefix = "password_"
)

// KeyringStore keeps the session in the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a keychain-backed store
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

// Load reads the session from the keychain
func (k *KeyringStore) Load(username string) (*Session, error) {
	data, err := keyring.Get(keyringService, sessionPrefix+username)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session from keyring: %w", err)
	}
	return decodeSession([]byte(data), username)
}

// Save writes the session to the keychain
func (k *KeyringStore) Save(s *Session) error {
	if err := validate(s); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := keyring.Set(keyringService, sessionPrefix+s.Username, string(data)); err != nil {
		return fmt.Errorf("failed to store session in keyring: %w", err)
	}
	return nil
}

// Delete removes the session from the keychain
func (k *KeyringStore) Delete(username string) error {
	if err := keyring.Delete(keyringService, sessionPrefix+username); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete session from keyring: %w", err)
	}
	return nil
}

// SavePassword stores the account password in the system keychain
func SavePassword(username, password string) error {
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	if err := keyring.Set(keyringService, passwordPrefix+username, password); err != nil {
		return fmt.Errorf("failed to store password in keyring: %w", err)
	}
	return nil
}

// LookupPassword returns the keychain password for username. Its signature
// matches config.SecretSource.
func LookupPassword(username string) (string, error) {
	password, err := keyring.Get(keyringService, passwordPrefix+username)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read password from keyring: %w", err)
	}
	return password, nil
}

// DeletePassword removes the keychain password for username
func DeletePassword(username string) error {
	if err := keyring.Delete(keyringService, passwordPrefix+username); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete password from keyring: %w", err)
	}
	return nil
}
