// Package notify delivers relayed stories to a Discord channel through the
// Discord REST API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"storyrelay/pkg/config"
	errs "storyrelay/pkg/errors"
	"storyrelay/pkg/logger"
	"storyrelay/pkg/retry"
)

const (
	// DefaultAPIBaseURL is the versioned Discord REST root
	DefaultAPIBaseURL = "https://discord.com/api/v10"

	// AttachmentName is the file name every story image is uploaded as
	AttachmentName = "story.jpg"

	// NoTextDescription replaces an empty OCR result
	NoTextDescription = "No text detected"

	maxDescription = 4096
	userAgent      = "DiscordBot (storyrelay, 1.0)"
)

// ErrChannelNotFound is returned when the configured channel does not exist
// or the bot cannot see it
var ErrChannelNotFound = errors.New("discord channel not found")

// Channel is the part of a Discord channel object the notifier reads
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type int    `json:"type"`
}

type embedImage struct {
	URL string `json:"url"`
}

type embed struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description"`
	Color       int         `json:"color"`
	Image       *embedImage `json:"image,omitempty"`
}

type attachment struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
}

type messagePayload struct {
	Embeds      []embed      `json:"embeds"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type apiError struct {
	Message    string  `json:"message"`
	Code       int     `json:"code"`
	RetryAfter float64 `json:"retry_after"`
}

// Discord posts story embeds to one channel
type Discord struct {
	httpClient *http.Client
	baseURL    string
	token      string
	channelID  string
	title      string
	color      int
	retry      *retry.Config
	logger     logger.Logger

	mu      sync.Mutex
	channel *Channel
}

// Option configures a Discord notifier
type Option func(*Discord)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(d *Discord) { d.httpClient = h }
}

// WithRetryConfig replaces the retry policy for rate limited and failed sends
func WithRetryConfig(cfg *retry.Config) Option {
	return func(d *Discord) { d.retry = cfg }
}

// NewDiscord creates a notifier from the Discord config section
func NewDiscord(cfg config.DiscordConfig, log logger.Logger, opts ...Option) *Discord {
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.WithField("component", "discord")

	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}

	retryCfg := retry.DefaultConfig()
	if cfg.MaxRetries >= 0 {
		retryCfg.MaxAttempts = cfg.MaxRetries + 1
	}
	retryCfg.Logger = log

	d := &Discord{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      cfg.Token,
		channelID:  cfg.ChannelID,
		title:      cfg.Title,
		color:      cfg.Color,
		retry:      retryCfg,
		logger:     log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ResolveChannel looks the configured channel up. Successful lookups are
// cached; a missing channel is looked up again on the next call.
func (d *Discord) ResolveChannel(ctx context.Context) (*Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channel != nil {
		return d.channel, nil
	}

	if d.channelID == "" {
		return nil, fmt.Errorf("%w: no channel configured", ErrChannelNotFound)
	}

	var ch Channel
	err := retry.Do(ctx, d.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/channels/"+d.channelID, nil)
		if err != nil {
			return err
		}
		return d.do(req, &ch)
	})
	if err != nil {
		var apiErr *errs.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, d.channelID)
		}
		return nil, fmt.Errorf("resolve channel %s: %w", d.channelID, err)
	}

	if ch.ID == "" {
		ch.ID = d.channelID
	}
	d.channel = &ch
	d.logger.InfoWithFields("Discord channel resolved", map[string]interface{}{
		"channel_id": ch.ID,
		"name":       ch.Name,
	})
	return d.channel, nil
}

// Deliver posts one embed carrying text. When imagePath is set the image is
// attached and shown inside the embed; an empty path sends a text-only embed.
func (d *Discord) Deliver(ctx context.Context, text, imagePath string) error {
	ch, err := d.ResolveChannel(ctx)
	if err != nil {
		return err
	}

	var image []byte
	if imagePath != "" {
		if image, err = os.ReadFile(imagePath); err != nil {
			return fmt.Errorf("read image: %w", err)
		}
	}

	msg := d.message(text, image != nil)
	payload, err := json.Marshal(msg)
	if err != nil {
		return errs.New(errs.ErrorTypeUnknown, 0, "failed to encode message: %v", err)
	}

	endpoint := d.baseURL + "/channels/" + ch.ID + "/messages"
	err = retry.Do(ctx, d.retry, func() error {
		req, err := newMessageRequest(ctx, endpoint, payload, image)
		if err != nil {
			return err
		}
		return d.do(req, nil)
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	d.logger.DebugWithFields("Story delivered", map[string]interface{}{
		"channel_id": ch.ID,
		"with_image": image != nil,
		"chars":      utf8.RuneCountInString(msg.Embeds[0].Description),
	})
	return nil
}

func (d *Discord) message(text string, withImage bool) messagePayload {
	description := strings.TrimSpace(text)
	if description == "" {
		description = NoTextDescription
	}
	if utf8.RuneCountInString(description) > maxDescription {
		runes := []rune(description)
		description = string(runes[:maxDescription-1]) + "…"
	}

	e := embed{Title: d.title, Description: description, Color: d.color}
	msg := messagePayload{Embeds: []embed{e}}
	if withImage {
		msg.Embeds[0].Image = &embedImage{URL: "attachment://" + AttachmentName}
		msg.Attachments = []attachment{{ID: 0, Filename: AttachmentName}}
	}
	return msg
}

// newMessageRequest builds a fresh request per attempt since bodies are consumed
func newMessageRequest(ctx context.Context, endpoint string, payload, image []byte) (*http.Request, error) {
	if image == nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	jsonPart, err := w.CreateFormField("payload_json")
	if err != nil {
		return nil, err
	}
	if _, err := jsonPart.Write(payload); err != nil {
		return nil, err
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[0]"; filename="%s"`, AttachmentName))
	header.Set("Content-Type", "image/jpeg")
	filePart, err := w.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := filePart.Write(image); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

// do sends req and decodes a successful JSON response into target when set
func (d *Discord) do(req *http.Request, target interface{}) error {
	req.Header.Set("Authorization", "Bot "+d.token)
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		logger.LogRequest(d.logger, req.Method, req.URL.Path, 0, time.Since(start))
		return errs.New(errs.ErrorTypeNetwork, 0, "request failed: %v", err)
	}
	defer resp.Body.Close()
	logger.LogRequest(d.logger, req.Method, req.URL.Path, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.New(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read response: %v", err)
	}

	if apiErr := errs.FromStatus(resp.StatusCode, describe(body)); apiErr != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			return retry.WithRetryAfter(apiErr, retryAfter(resp.Header, body))
		}
		return apiErr
	}

	if target == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return errs.New(errs.ErrorTypeParsing, resp.StatusCode, "failed to parse response: %v", err)
	}
	return nil
}

// describe extracts Discord's error message from a response body
func describe(body []byte) string {
	var e apiError
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		if e.Code != 0 {
			return fmt.Sprintf("%s (discord code %d)", e.Message, e.Code)
		}
		return e.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// retryAfter reads the delay from the Retry-After header or the JSON body
func retryAfter(h http.Header, body []byte) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	var e apiError
	if json.Unmarshal(body, &e) == nil && e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter * float64(time.Second))
	}
	return 0
}
