package feed

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "storyrelay/pkg/errors"
	"storyrelay/pkg/instagram"
	"storyrelay/pkg/logger"
	"storyrelay/pkg/session"
)

// fakeAPI accepts only the token it last issued
type fakeAPI struct {
	password     string
	validToken   string
	logins       int
	probes       int
	lookups      int
	loginErr     error
	probeErr     error
	lookupErrs   []error
	stories      []instagram.Story
	storiesErr   error
	downloadBody string
	downloadErr  error
	lastDevice   *session.Session
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{password: "hunter22", validToken: "token-0"}
}

func (f *fakeAPI) Login(ctx context.Context, device *session.Session, password string) (*session.Session, error) {
	f.logins++
	f.lastDevice = device.Clone()
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	if password != f.password {
		return nil, errs.New(errs.ErrorTypeAuth, 400, "bad password")
	}
	f.validToken = "token-" + string(rune('0'+f.logins))
	s := device.Clone()
	s.UserID = "42"
	s.Authorization = f.validToken
	return s, nil
}

func (f *fakeAPI) CurrentUser(ctx context.Context, sess *session.Session) (string, error) {
	f.probes++
	if f.probeErr != nil {
		return "", f.probeErr
	}
	if sess.Authorization != f.validToken {
		return "", errs.LoginRequired(403, "login_required")
	}
	return "42", nil
}

func (f *fakeAPI) UserIDByUsername(ctx context.Context, sess *session.Session, username string) (string, error) {
	f.lookups++
	if len(f.lookupErrs) > 0 {
		err := f.lookupErrs[0]
		f.lookupErrs = f.lookupErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if sess.Authorization != f.validToken {
		return "", errs.LoginRequired(403, "login_required")
	}
	return "777", nil
}

func (f *fakeAPI) UserStories(ctx context.Context, sess *session.Session, userID string) ([]instagram.Story, error) {
	if f.storiesErr != nil {
		return nil, f.storiesErr
	}
	return f.stories, nil
}

func (f *fakeAPI) Download(ctx context.Context, mediaURL string) (io.ReadCloser, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return io.NopCloser(strings.NewReader(f.downloadBody)), nil
}

func newAdapter(t *testing.T, api *fakeAPI) (*Adapter, session.Store) {
	t.Helper()
	store := session.NewFileStore(filepath.Join(t.TempDir(), "session.json"))
	return New(api, store, Credentials{Username: "relaybot", Password: "hunter22"}, logger.NewNopLogger(), nil), store
}

func TestEnsureSessionLogsInWithoutStoredSession(t *testing.T) {
	api := newFakeAPI()
	adapter, store := newAdapter(t, api)
	assert.Equal(t, NoSession, adapter.State())

	require.NoError(t, adapter.EnsureSession(context.Background(), false))
	assert.Equal(t, Valid, adapter.State())
	assert.Equal(t, 1, api.logins)
	assert.Equal(t, 0, api.probes)

	stored, err := store.Load("relaybot")
	require.NoError(t, err)
	assert.Equal(t, api.validToken, stored.Authorization)

	// Already valid: no further calls
	require.NoError(t, adapter.EnsureSession(context.Background(), false))
	assert.Equal(t, 1, api.logins)
}

func TestEnsureSessionReusesValidStoredSession(t *testing.T) {
	api := newFakeAPI()
	adapter, store := newAdapter(t, api)

	stored := session.NewDevice("relaybot")
	stored.Authorization = api.validToken
	require.NoError(t, store.Save(stored))

	require.NoError(t, adapter.EnsureSession(context.Background(), false))
	assert.Equal(t, Valid, adapter.State())
	assert.Equal(t, 1, api.probes)
	assert.Equal(t, 0, api.logins)
}

func TestEnsureSessionReplacesRejectedStoredSession(t *testing.T) {
	api := newFakeAPI()
	adapter, store := newAdapter(t, api)

	stored := session.NewDevice("relaybot")
	stored.Authorization = "stale"
	require.NoError(t, store.Save(stored))

	require.NoError(t, adapter.EnsureSession(context.Background(), false))
	assert.Equal(t, Valid, adapter.State())
	assert.Equal(t, 1, api.logins)
	// The device identity survives the re-login
	assert.Equal(t, stored.DeviceID, api.lastDevice.DeviceID)
	assert.Empty(t, api.lastDevice.Authorization)

	reloaded, err := store.Load("relaybot")
	require.NoError(t, err)
	assert.Equal(t, api.validToken, reloaded.Authorization)
}

func TestEnsureSessionProbeNetworkErrorIsReturned(t *testing.T) {
	api := newFakeAPI()
	api.probeErr = errs.New(errs.ErrorTypeNetwork, 0, "offline")
	adapter, store := newAdapter(t, api)

	stored := session.NewDevice("relaybot")
	stored.Authorization = api.validToken
	require.NoError(t, store.Save(stored))

	err := adapter.EnsureSession(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeNetwork, errs.TypeOf(err))
	assert.Equal(t, 0, api.logins)
}

func TestEnsureSessionLoginFailure(t *testing.T) {
	api := newFakeAPI()
	api.password = "changed"
	adapter, _ := newAdapter(t, api)

	err := adapter.EnsureSession(context.Background(), false)
	require.Error(t, err)
	assert.True(t, errs.IsAuth(err))
	assert.Equal(t, NoSession, adapter.State())
}

func TestEnsureSessionForceRefresh(t *testing.T) {
	api := newFakeAPI()
	adapter, _ := newAdapter(t, api)

	require.NoError(t, adapter.EnsureSession(context.Background(), false))
	require.NoError(t, adapter.EnsureSession(context.Background(), true))
	assert.Equal(t, 2, api.logins)
	assert.Equal(t, Valid, adapter.State())
}

func TestResolveAccountID(t *testing.T) {
	api := newFakeAPI()
	adapter, _ := newAdapter(t, api)

	id, err := adapter.ResolveAccountID(context.Background(), "@target.account")
	require.NoError(t, err)
	assert.Equal(t, "777", id)
	assert.Equal(t, 1, api.logins)
}

func TestResolveAccountIDRetriesOnceAfterExpiry(t *testing.T) {
	api := newFakeAPI()
	adapter, _ := newAdapter(t, api)
	require.NoError(t, adapter.EnsureSession(context.Background(), false))

	// Server side expiry
	api.validToken = "rotated"

	id, err := adapter.ResolveAccountID(context.Background(), "target.account")
	require.NoError(t, err)
	assert.Equal(t, "777", id)
	assert.Equal(t, 2, api.logins)
	assert.Equal(t, 2, api.lookups)
}

func TestResolveAccountIDSecondFailurePropagates(t *testing.T) {
	api := newFakeAPI()
	adapter, _ := newAdapter(t, api)
	require.NoError(t, adapter.EnsureSession(context.Background(), false))

	expired := errs.LoginRequired(403, "login_required")
	api.lookupErrs = []error{expired, expired}

	_, err := adapter.ResolveAccountID(context.Background(), "target.account")
	require.Error(t, err)
	assert.True(t, errs.IsLoginRequired(err))
	assert.Equal(t, 2, api.logins, "exactly one forced re-authentication")
	assert.Equal(t, 2, api.lookups)
	assert.Equal(t, Invalid, adapter.State())
}

func TestResolveAccountIDReloginFailure(t *testing.T) {
	api := newFakeAPI()
	adapter, _ := newAdapter(t, api)
	require.NoError(t, adapter.EnsureSession(context.Background(), false))

	api.lookupErrs = []error{errs.LoginRequired(403, "login_required")}
	api.loginErr = errs.New(errs.ErrorTypeAuth, 400, "challenge_required")

	_, err := adapter.ResolveAccountID(context.Background(), "target.account")
	require.Error(t, err)
	assert.True(t, errs.IsAuth(err))
	assert.Equal(t, 1, api.lookups)
	assert.Equal(t, Invalid, adapter.State())
}

func TestResolveAccountIDNonAuthErrorIsNotRetried(t *testing.T) {
	api := newFakeAPI()
	adapter, _ := newAdapter(t, api)
	api.lookupErrs = []error{errs.New(errs.ErrorTypeNetwork, 0, "reset")}

	_, err := adapter.ResolveAccountID(context.Background(), "target.account")
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeNetwork, errs.TypeOf(err))
	assert.Equal(t, 1, api.lookups)
	assert.Equal(t, 1, api.logins)
}

func TestResolveAccountIDRejectsInvalidUsername(t *testing.T) {
	api := newFakeAPI()
	adapter, _ := newAdapter(t, api)

	_, err := adapter.ResolveAccountID(context.Background(), "not a user")
	require.Error(t, err)
	assert.Equal(t, 0, api.lookups)
}

func TestListActiveStories(t *testing.T) {
	api := newFakeAPI()
	api.stories = []instagram.Story{{ID: "1"}, {ID: "2"}}
	adapter, _ := newAdapter(t, api)

	stories, err := adapter.ListActiveStories(context.Background(), "777")
	require.NoError(t, err)
	assert.Len(t, stories, 2)

	api.storiesErr = errs.LoginRequired(403, "login_required")
	_, err = adapter.ListActiveStories(context.Background(), "777")
	assert.True(t, errs.IsLoginRequired(err))
	assert.Equal(t, Invalid, adapter.State())
}

func TestDownload(t *testing.T) {
	api := newFakeAPI()
	api.downloadBody = "jpeg"
	adapter, _ := newAdapter(t, api)
	dest := filepath.Join(t.TempDir(), "stories", "1.jpg")

	require.NoError(t, adapter.Download(context.Background(), "https://cdn/1.jpg", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	api.downloadErr = errs.New(errs.ErrorTypeNotFound, 404, "gone")
	err = adapter.Download(context.Background(), "https://cdn/2.jpg", filepath.Join(filepath.Dir(dest), "2.jpg"))
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "2.jpg"))

	assert.Error(t, adapter.Download(context.Background(), "", dest))
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		NoSession:      "no_session",
		SessionLoaded:  "session_loaded",
		Valid:          "valid",
		Invalid:        "invalid",
		Authenticating: "authenticating",
		State(99):      "unknown",
	} {
		assert.Equal(t, want, state.String())
	}
}
