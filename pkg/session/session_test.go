package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"storyrelay/pkg/config"
)

func sampleSession() *Session {
	s := NewDevice("relaybot")
	s.UserID = "1234567"
	s.Authorization = "Bearer IGT:2:abc"
	s.Cookies["sessionid"] = "sid"
	s.CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return s
}

func TestNewDevice(t *testing.T) {
	a := NewDevice("relaybot")
	b := NewDevice("relaybot")

	assert.True(t, strings.HasPrefix(a.DeviceID, "android-"))
	assert.Len(t, a.DeviceID, len("android-")+16)
	assert.NotEqual(t, a.DeviceID, b.DeviceID)
	assert.NotEqual(t, a.UUID, a.PhoneID)
	assert.False(t, a.Authenticated())
}

func TestAuthenticated(t *testing.T) {
	var nilSession *Session
	assert.False(t, nilSession.Authenticated())

	s := NewDevice("u")
	s.Cookies["sessionid"] = "x"
	assert.True(t, s.Authenticated())

	s = NewDevice("u")
	s.Authorization = "Bearer token"
	assert.True(t, s.Authenticated())
}

func TestClone(t *testing.T) {
	s := sampleSession()
	c := s.Clone()
	c.Cookies["sessionid"] = "changed"
	assert.Equal(t, "sid", s.Cookies["sessionid"])
}

func testStoreRoundTrip(t *testing.T, store Store) {
	t.Helper()

	_, err := store.Load("relaybot")
	assert.ErrorIs(t, err, ErrNotFound)

	original := sampleSession()
	require.NoError(t, store.Save(original))

	loaded, err := store.Load("relaybot")
	require.NoError(t, err)
	assert.Equal(t, original, loaded)

	// Sessions for another account are not returned
	_, err = store.Load("someone-else")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete("relaybot"))
	_, err = store.Load("relaybot")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete("relaybot"), ErrNotFound)

	assert.ErrorIs(t, store.Save(&Session{}), ErrInvalidSession)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	testStoreRoundTrip(t, NewFileStore(path))
}

func TestFileStorePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, NewFileStore(path).Save(sampleSession()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

	_, err := NewFileStore(path).Load("relaybot")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestEncryptedFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.enc")
	store, err := NewEncryptedFileStore(path, "correct horse")
	require.NoError(t, err)
	testStoreRoundTrip(t, store)
}

func TestEncryptedFileStoreHidesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.enc")
	store, err := NewEncryptedFileStore(path, "correct horse")
	require.NoError(t, err)
	require.NoError(t, store.Save(sampleSession()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "IGT:2:abc")

	wrong, err := NewEncryptedFileStore(path, "battery staple")
	require.NoError(t, err)
	_, err = wrong.Load("relaybot")
	assert.Error(t, err)

	_, err = NewEncryptedFileStore(path, "")
	assert.Error(t, err)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	testStoreRoundTrip(t, NewKeyringStore())
}

func TestKeyringPassword(t *testing.T) {
	keyring.MockInit()

	_, err := LookupPassword("relaybot")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, SavePassword("relaybot", "s3cret"))
	password, err := LookupPassword("relaybot")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", password)

	require.NoError(t, DeletePassword("relaybot"))
	assert.ErrorIs(t, DeletePassword("relaybot"), ErrNotFound)
	assert.Error(t, SavePassword("relaybot", ""))
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(config.InstagramConfig{SessionBackend: config.SessionBackendFile, SessionFile: filepath.Join(dir, "s.json")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	store, err = NewStore(config.InstagramConfig{SessionBackend: config.SessionBackendEncrypted, SessionFile: filepath.Join(dir, "s.enc"), SessionPassphrase: "pw"})
	require.NoError(t, err)
	assert.IsType(t, &EncryptedFileStore{}, store)

	store, err = NewStore(config.InstagramConfig{SessionBackend: config.SessionBackendKeyring})
	require.NoError(t, err)
	assert.IsType(t, &KeyringStore{}, store)

	_, err = NewStore(config.InstagramConfig{SessionBackend: "vault"})
	assert.Error(t, err)
}
