// Package feed owns the Instagram session lifecycle and exposes the few
// story operations the relay needs.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"storyrelay/internal/fsutil"
	errs "storyrelay/pkg/errors"
	"storyrelay/pkg/instagram"
	"storyrelay/pkg/logger"
	"storyrelay/pkg/metrics"
	"storyrelay/pkg/session"
)

// State is the session lifecycle state
type State int

const (
	NoSession State = iota
	SessionLoaded
	Valid
	Invalid
	Authenticating
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case SessionLoaded:
		return "session_loaded"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case Authenticating:
		return "authenticating"
	default:
		return "unknown"
	}
}

// API is the subset of instagram.Client the adapter drives
type API interface {
	Login(ctx context.Context, device *session.Session, password string) (*session.Session, error)
	CurrentUser(ctx context.Context, sess *session.Session) (string, error)
	UserIDByUsername(ctx context.Context, sess *session.Session, username string) (string, error)
	UserStories(ctx context.Context, sess *session.Session, userID string) ([]instagram.Story, error)
	Download(ctx context.Context, mediaURL string) (io.ReadCloser, error)
}

// Credentials identify the account the relay logs in with
type Credentials struct {
	Username string
	Password string
}

// Adapter holds the current session and re-authenticates when it expires
type Adapter struct {
	api     API
	store   session.Store
	creds   Credentials
	logger  logger.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	sess  *session.Session
	state State
}

// New creates an adapter; m may be nil
func New(api API, store session.Store, creds Credentials, log logger.Logger, m *metrics.Metrics) *Adapter {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Adapter{
		api:     api,
		store:   store,
		creds:   creds,
		logger:  log.WithField("component", "feed"),
		metrics: m,
		state:   NoSession,
	}
}

// State returns the current session state
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Session returns a copy of the current session, or nil
func (a *Adapter) Session() *session.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sess.Clone()
}

// EnsureSession makes sure a validated session is available. The persisted
// session is reused when the API accepts it; otherwise, or when forceRefresh
// is set, the adapter logs in with the credentials and persists the result.
func (a *Adapter) EnsureSession(ctx context.Context, forceRefresh bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !forceRefresh {
		if a.sess == nil {
			a.loadStored()
		}

		switch a.state {
		case Valid:
			return nil
		case SessionLoaded:
			if _, err := a.api.CurrentUser(ctx, a.sess); err != nil {
				if !errs.IsAuth(err) {
					return fmt.Errorf("validate session: %w", err)
				}
				a.logger.WithError(err).Warn("Stored session rejected, logging in again")
				a.state = Invalid
			} else {
				a.state = Valid
				a.logger.Info("Reusing stored session")
				return nil
			}
		}
	}

	return a.login(ctx)
}

// loadStored reads the persisted session; callers hold a.mu
func (a *Adapter) loadStored() {
	stored, err := a.store.Load(a.creds.Username)
	switch {
	case err == nil && stored.Authenticated():
		a.sess = stored
		a.state = SessionLoaded
	case err == nil, errors.Is(err, session.ErrNotFound):
		a.state = NoSession
	default:
		a.logger.WithError(err).Warn("Stored session unreadable, ignoring it")
		a.state = NoSession
	}
}

// login authenticates with the password; callers hold a.mu
func (a *Adapter) login(ctx context.Context) error {
	previous := a.state
	a.state = Authenticating

	device := session.NewDevice(a.creds.Username)
	if a.sess != nil && a.sess.Username == a.creds.Username {
		// Keep the device identity across logins
		device = a.sess.Clone()
		device.UserID = ""
		device.Authorization = ""
		device.Cookies = map[string]string{}
	}

	fresh, err := a.api.Login(ctx, device, a.creds.Password)
	if err != nil {
		if previous == NoSession {
			a.state = NoSession
		} else {
			a.state = Invalid
		}
		return fmt.Errorf("login as %s: %w", a.creds.Username, err)
	}

	a.sess = fresh
	a.state = Valid

	if err := a.store.Save(fresh); err != nil {
		a.logger.WithError(err).Error("Failed to persist session, it will not survive a restart")
	}
	return nil
}

// ready returns a session, logging in first when none is valid
func (a *Adapter) ready(ctx context.Context) (*session.Session, error) {
	if a.State() != Valid {
		if err := a.EnsureSession(ctx, false); err != nil {
			return nil, err
		}
	}
	return a.Session(), nil
}

func (a *Adapter) invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Valid {
		a.state = Invalid
	}
}

// ResolveAccountID maps a username to its account id. A login-required
// answer triggers exactly one forced re-authentication and one retry.
func (a *Adapter) ResolveAccountID(ctx context.Context, username string) (string, error) {
	username = instagram.SanitizeUsername(username)
	if !instagram.IsValidUsername(username) {
		return "", errs.New(errs.ErrorTypeNotFound, 0, "invalid username %q", username)
	}

	sess, err := a.ready(ctx)
	if err != nil {
		return "", err
	}

	id, err := a.api.UserIDByUsername(ctx, sess, username)
	if err == nil || !errs.IsLoginRequired(err) {
		return id, err
	}

	a.logger.WithError(err).Warn("Session expired, re-authenticating")
	a.metrics.IncRelogin()
	if err := a.EnsureSession(ctx, true); err != nil {
		return "", err
	}

	id, err = a.api.UserIDByUsername(ctx, a.Session(), username)
	if errs.IsLoginRequired(err) {
		a.invalidate()
	}
	return id, err
}

// ListActiveStories returns the account's current stories in feed order
func (a *Adapter) ListActiveStories(ctx context.Context, accountID string) ([]instagram.Story, error) {
	sess, err := a.ready(ctx)
	if err != nil {
		return nil, err
	}

	stories, err := a.api.UserStories(ctx, sess, accountID)
	if errs.IsLoginRequired(err) {
		a.invalidate()
	}
	return stories, err
}

// Download stores the media at imageURL in destination. It does not retry.
func (a *Adapter) Download(ctx context.Context, imageURL, destination string) error {
	if imageURL == "" {
		return errs.New(errs.ErrorTypeNotFound, 0, "story has no image")
	}

	body, err := a.api.Download(ctx, imageURL)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := fsutil.WriteReaderAtomic(destination, body, 0644); err != nil {
		return errs.New(errs.ErrorTypeNetwork, 0, "save %s: %v", destination, err)
	}
	return nil
}
