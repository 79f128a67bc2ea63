package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	errs "storyrelay/pkg/errors"
	"storyrelay/pkg/logger"
	"storyrelay/pkg/ratelimit"
	"storyrelay/pkg/session"
)

// maxBodyPreview bounds response bodies copied into errors and logs
const maxBodyPreview = 200

// Observer receives one call per API request; status is 0 on network errors
type Observer func(endpoint string, status int, duration time.Duration)

// Client talks to the Instagram private API
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    ratelimit.Limiter
	observe    Observer
	logger     logger.Logger
	now        func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at another API root, e.g. a test server
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// WithUserAgent overrides the default Android user agent
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLimiter throttles API requests
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithObserver reports every request, e.g. to metrics
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observe = o }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a new Instagram API client
func NewClient(timeout time.Duration, log logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    DefaultBaseURL,
		userAgent:  DefaultUserAgent,
		limiter:    ratelimit.Unlimited{},
		logger:     log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login authenticates with username and password on the device identity of
// device and returns the new authenticated session
func (c *Client) Login(ctx context.Context, device *session.Session, password string) (*session.Session, error) {
	if device == nil || device.Username == "" {
		return nil, errs.New(errs.ErrorTypeAuth, 0, "username is required")
	}

	signed, err := json.Marshal(map[string]string{
		"jazoest":             jazoest(device.PhoneID),
		"country_codes":       `[{"country_code":"1","source":["default"]}]`,
		"phone_id":            device.PhoneID,
		"enc_password":        fmt.Sprintf("#PWD_INSTAGRAM:0:%d:%s", c.now().Unix(), password),
		"username":            device.Username,
		"adid":                device.UUID,
		"guid":                device.UUID,
		"device_id":           device.DeviceID,
		"google_tokens":       "[]",
		"login_attempt_count": "0",
	})
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, 0, "failed to encode login: %v", err)
	}
	form := url.Values{"signed_body": {"SIGNATURE." + string(signed)}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(c.baseURL, LoginEndpoint, nil), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, 0, "failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	var out loginResponse
	resp, err := c.do(ctx, req, device, LoginEndpoint, &out)
	if err != nil {
		var apiErr *errs.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusBadRequest || apiErr.Type == errs.ErrorTypeAuth) {
			// Bad password, two factor and challenges come back as 400 or 403
			return nil, errs.New(errs.ErrorTypeAuth, apiErr.Code, "login rejected: %s", apiErr.Message)
		}
		return nil, err
	}
	if out.TwoFactorRequired {
		return nil, errs.New(errs.ErrorTypeAuth, resp.StatusCode, "two factor authentication is not supported")
	}
	if out.LoggedInUser.PK == "" {
		return nil, errs.New(errs.ErrorTypeAuth, resp.StatusCode, "login response carried no user")
	}

	authed := device.Clone()
	authed.UserID = out.LoggedInUser.PK.String()
	authed.Authorization = resp.Header.Get("ig-set-authorization")
	if authed.Cookies == nil {
		authed.Cookies = map[string]string{}
	}
	for _, cookie := range resp.Cookies() {
		authed.Cookies[cookie.Name] = cookie.Value
	}
	authed.CreatedAt = c.now().UTC()

	if !authed.Authenticated() {
		return nil, errs.New(errs.ErrorTypeAuth, resp.StatusCode, "login response carried no credentials")
	}

	c.logger.InfoWithFields("Logged in to Instagram", map[string]interface{}{
		"username": authed.Username,
		"user_id":  authed.UserID,
	})
	return authed, nil
}

// CurrentUser probes the session and returns the logged in user's id
func (c *Client) CurrentUser(ctx context.Context, sess *session.Session) (string, error) {
	var out userResponse
	if err := c.getJSON(ctx, sess, CurrentUserEndpoint, CurrentUserEndpoint, url.Values{"edit": {"true"}}, &out); err != nil {
		return "", err
	}
	if out.User.PK == "" {
		return "", errs.New(errs.ErrorTypeParsing, http.StatusOK, "current user response carried no user")
	}
	return out.User.PK.String(), nil
}

// UserIDByUsername resolves a username to its numeric account id
func (c *Client) UserIDByUsername(ctx context.Context, sess *session.Session, username string) (string, error) {
	var out userResponse
	if err := c.getJSON(ctx, sess, UsernameInfoEndpoint, UsernameInfoPath(username), nil, &out); err != nil {
		return "", err
	}
	if out.User.PK == "" {
		return "", errs.New(errs.ErrorTypeNotFound, http.StatusOK, "user %s not found", username)
	}
	return out.User.PK.String(), nil
}

// UserStories returns the active stories of userID in feed order. A user
// without stories yields an empty slice.
func (c *Client) UserStories(ctx context.Context, sess *session.Session, userID string) ([]Story, error) {
	var out storyFeedResponse
	if err := c.getJSON(ctx, sess, UserStoryEndpoint, UserStoryPath(userID), nil, &out); err != nil {
		return nil, err
	}
	if out.Reel == nil {
		return []Story{}, nil
	}

	stories := make([]Story, 0, len(out.Reel.Items))
	for _, item := range out.Reel.Items {
		stories = append(stories, item.story())
	}
	return stories, nil
}

// Download fetches a media URL. The caller must close the returned body.
func (c *Client) Download(ctx context.Context, mediaURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, 0, "failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.report(http.MethodGet, "download", 0, time.Since(start))
		return nil, errs.New(errs.ErrorTypeNetwork, 0, "download failed: %v", err)
	}
	c.report(http.MethodGet, "download", resp.StatusCode, time.Since(start))

	if apiErr := errs.FromStatus(resp.StatusCode, "download failed"); apiErr != nil {
		resp.Body.Close()
		return nil, apiErr
	}
	return resp.Body, nil
}

// getJSON issues a GET; endpoint is the unexpanded path used in logs and metrics
func (c *Client) getJSON(ctx context.Context, sess *session.Session, endpoint, path string, query url.Values, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(c.baseURL, path, query), nil)
	if err != nil {
		return errs.New(errs.ErrorTypeUnknown, 0, "failed to create request: %v", err)
	}
	_, err = c.do(ctx, req, sess, endpoint, target)
	return err
}

// do sends req with the session's identity and decodes a JSON body into
// target. Non-2xx responses and "fail" envelopes become typed errors.
func (c *Client) do(ctx context.Context, req *http.Request, sess *session.Session, endpoint string, target interface{}) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	c.setHeaders(req, sess)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.report(req.Method, endpoint, 0, duration)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.New(errs.ErrorTypeNetwork, 0, "network error: %v", err)
	}
	defer resp.Body.Close()
	c.report(req.Method, endpoint, resp.StatusCode, duration)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read response body: %v", err)
	}

	var status apiStatus
	_ = json.Unmarshal(body, &status)

	if loginRequired(resp.StatusCode, status) {
		return nil, errs.LoginRequired(resp.StatusCode, firstNonEmpty(status.Message, "login_required"))
	}
	if apiErr := errs.FromStatus(resp.StatusCode, firstNonEmpty(status.Message, preview(body))); apiErr != nil {
		if apiErr.Type == errs.ErrorTypeRateLimit {
			c.logger.WarnWithFields("Instagram rate limit reached", map[string]interface{}{
				"endpoint": endpoint,
			})
		}
		return nil, apiErr
	}
	if status.Status == "fail" {
		return nil, errs.New(errs.ErrorTypeUnknown, resp.StatusCode, "%s", firstNonEmpty(status.Message, "request failed"))
	}

	if target != nil {
		if err := json.Unmarshal(body, target); err != nil {
			c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
				"endpoint":     endpoint,
				"status":       resp.StatusCode,
				"body_preview": preview(body),
			})
			return nil, errs.New(errs.ErrorTypeParsing, resp.StatusCode, "failed to parse JSON: %v", err)
		}
	}
	return resp, nil
}

func (c *Client) setHeaders(req *http.Request, sess *session.Session) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "en-US")
	req.Header.Set("X-IG-App-ID", AppID)
	req.Header.Set("X-IG-Capabilities", "3brTvwE=")
	req.Header.Set("X-IG-Connection-Type", "WIFI")
	if sess == nil {
		return
	}
	if sess.UUID != "" {
		req.Header.Set("X-IG-Device-ID", sess.UUID)
	}
	if sess.DeviceID != "" {
		req.Header.Set("X-IG-Android-ID", sess.DeviceID)
	}
	if sess.Authorization != "" {
		req.Header.Set("Authorization", sess.Authorization)
	}
	for name, value := range sess.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

func (c *Client) report(method, endpoint string, status int, duration time.Duration) {
	logger.LogRequest(c.logger, method, endpoint, status, duration)
	if c.observe != nil {
		c.observe(endpoint, status, duration)
	}
}

// loginRequired recognizes the private API's session expiry answers
func loginRequired(code int, status apiStatus) bool {
	if status.Message == "login_required" || status.RequireLogin {
		return true
	}
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// jazoest is the checksum the app sends alongside the phone id
func jazoest(phoneID string) string {
	sum := 0
	for _, b := range []byte(phoneID) {
		sum += int(b)
	}
	return "2" + strconv.Itoa(sum)
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > maxBodyPreview {
		s = s[:maxBodyPreview] + "..."
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
