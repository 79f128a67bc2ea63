package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"storyrelay/pkg/config"
)

// Session is an authenticated Instagram API session together with the
// device identity it was created with. It is serialized as an opaque JSON
// blob by the stores in this package.
type Session struct {
	Username      string            `json:"username"`
	UserID        string            `json:"user_id,omitempty"`
	Authorization string            `json:"authorization,omitempty"`
	Cookies       map[string]string `json:"cookies,omitempty"`
	DeviceID      string            `json:"device_id"`
	UUID          string            `json:"uuid"`
	PhoneID       string            `json:"phone_id"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Errors
var (
	ErrNotFound       = errors.New("session not found")
	ErrInvalidSession = errors.New("invalid session")
)

// NewDevice returns an unauthenticated session with fresh device identifiers
func NewDevice(username string) *Session {
	return &Session{
		Username: username,
		DeviceID: "android-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		UUID:     uuid.NewString(),
		PhoneID:  uuid.NewString(),
		Cookies:  map[string]string{},
	}
}

// Authenticated reports whether the session carries credentials
func (s *Session) Authenticated() bool {
	if s == nil {
		return false
	}
	return s.Authorization != "" || s.Cookies["sessionid"] != ""
}

// Clone returns a deep copy
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Cookies = make(map[string]string, len(s.Cookies))
	for k, v := range s.Cookies {
		c.Cookies[k] = v
	}
	return &c
}

// Store persists one session per username
type Store interface {
	// Load returns ErrNotFound when no session is stored for username
	Load(username string) (*Session, error)
	Save(s *Session) error
	Delete(username string) error
}

// NewStore builds the store selected by the configured backend
func NewStore(cfg config.InstagramConfig) (Store, error) {
	switch cfg.SessionBackend {
	case config.SessionBackendFile, "":
		return NewFileStore(cfg.SessionFile), nil
	case config.SessionBackendEncrypted:
		return NewEncryptedFileStore(cfg.SessionFile, cfg.SessionPassphrase)
	case config.SessionBackendKeyring:
		return NewKeyringStore(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}

func validate(s *Session) error {
	if s == nil || s.Username == "" {
		return ErrInvalidSession
	}
	return nil
}
