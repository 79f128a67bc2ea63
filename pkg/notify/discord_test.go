package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"storyrelay/pkg/config"
	errs "storyrelay/pkg/errors"
	"storyrelay/pkg/logger"
	"storyrelay/pkg/retry"
)

type sentMessage struct {
	payload  messagePayload
	file     []byte
	filename string
}

// mockDiscordServer mimics the two REST endpoints the notifier uses
type mockDiscordServer struct {
	*httptest.Server
	mu           sync.Mutex
	channelID    string
	channelCalls int
	messages     []sentMessage
	failures     []int // statuses returned before a send succeeds
	authHeader   string
}

func newMockDiscordServer(t *testing.T, channelID string) *mockDiscordServer {
	m := &mockDiscordServer{channelID: channelID}
	mux := http.NewServeMux()

	mux.HandleFunc("/channels/", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.authHeader = r.Header.Get("Authorization")

		rest := strings.TrimPrefix(r.URL.Path, "/channels/")
		id, suffix, _ := strings.Cut(rest, "/")
		if id != m.channelID {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message": "Unknown Channel", "code": 10003}`))
			return
		}

		switch {
		case suffix == "" && r.Method == http.MethodGet:
			m.channelCalls++
			_ = json.NewEncoder(w).Encode(Channel{ID: id, Name: "stories"})

		case suffix == "messages" && r.Method == http.MethodPost:
			if len(m.failures) > 0 {
				status := m.failures[0]
				m.failures = m.failures[1:]
				if status == http.StatusTooManyRequests {
					w.Header().Set("Retry-After", "0.01")
				}
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"message": "try later", "retry_after": 0.01}`))
				return
			}

			var msg sentMessage
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
				assert.NoError(t, r.ParseMultipartForm(1<<20))
				assert.NoError(t, json.Unmarshal([]byte(r.FormValue("payload_json")), &msg.payload))
				if f, header, err := r.FormFile("files[0]"); assert.NoError(t, err) {
					msg.file, _ = io.ReadAll(f)
					msg.filename = header.Filename
					f.Close()
				}
			} else {
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg.payload))
			}
			m.messages = append(m.messages, msg)
			_, _ = w.Write([]byte(`{"id": "1"}`))

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

func (m *mockDiscordServer) sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.messages...)
}

func fastRetry() *retry.Config {
	cfg := retry.DefaultConfig()
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond
	cfg.Logger = logger.NewNopLogger()
	return cfg
}

func newTestDiscord(server *mockDiscordServer, channelID string) *Discord {
	return NewDiscord(config.DiscordConfig{
		Token:      "bot-token",
		ChannelID:  channelID,
		Title:      "🌟New Update",
		Color:      0x5865F2,
		APIBaseURL: server.URL,
		Timeout:    5 * time.Second,
	}, logger.NewNopLogger(), WithRetryConfig(fastRetry()))
}

func writeImage(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "3170000000000000001.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg bytes"), 0644))
	return path
}

func TestDeliverWithImage(t *testing.T) {
	server := newMockDiscordServer(t, "1234567890")
	d := newTestDiscord(server, "1234567890")

	require.NoError(t, d.Deliver(context.Background(), "Big news today!", writeImage(t)))

	sent := server.sent()
	require.Len(t, sent, 1)
	e := sent[0].payload.Embeds[0]
	assert.Equal(t, "🌟New Update", e.Title)
	assert.Equal(t, "Big news today!", e.Description)
	assert.Equal(t, 0x5865F2, e.Color)
	require.NotNil(t, e.Image)
	assert.Equal(t, "attachment://story.jpg", e.Image.URL)
	assert.Equal(t, "story.jpg", sent[0].filename)
	assert.Equal(t, "jpeg bytes", string(sent[0].file))
	assert.Equal(t, "Bot bot-token", server.authHeader)
}

func TestDeliverTextOnly(t *testing.T) {
	server := newMockDiscordServer(t, "1234567890")
	d := newTestDiscord(server, "1234567890")

	require.NoError(t, d.Deliver(context.Background(), "  ", ""))

	sent := server.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, NoTextDescription, sent[0].payload.Embeds[0].Description)
	assert.Nil(t, sent[0].payload.Embeds[0].Image)
	assert.Empty(t, sent[0].payload.Attachments)
	assert.Nil(t, sent[0].file)
}

func TestDeliverTruncatesLongText(t *testing.T) {
	server := newMockDiscordServer(t, "1234567890")
	d := newTestDiscord(server, "1234567890")

	require.NoError(t, d.Deliver(context.Background(), strings.Repeat("ä", 5000), ""))

	desc := server.sent()[0].payload.Embeds[0].Description
	assert.Equal(t, maxDescription, len([]rune(desc)))
	assert.True(t, strings.HasSuffix(desc, "…"))
}

func TestDeliverChannelNotFound(t *testing.T) {
	server := newMockDiscordServer(t, "1234567890")
	d := newTestDiscord(server, "999")

	err := d.Deliver(context.Background(), "text", "")
	assert.ErrorIs(t, err, ErrChannelNotFound)
	assert.Empty(t, server.sent())

	_, err = NewDiscord(config.DiscordConfig{APIBaseURL: server.URL}, logger.NewNopLogger()).
		ResolveChannel(context.Background())
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestResolveChannelIsCached(t *testing.T) {
	server := newMockDiscordServer(t, "1234567890")
	d := newTestDiscord(server, "1234567890")

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Deliver(context.Background(), "text", ""))
	}
	assert.Equal(t, 1, server.channelCalls)
	assert.Len(t, server.sent(), 3)
}

func TestDeliverRetriesRateLimitAndServerErrors(t *testing.T) {
	server := newMockDiscordServer(t, "1234567890")
	server.failures = []int{http.StatusTooManyRequests, http.StatusBadGateway}
	d := newTestDiscord(server, "1234567890")

	require.NoError(t, d.Deliver(context.Background(), "text", writeImage(t)))
	sent := server.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "jpeg bytes", string(sent[0].file))
}

func TestDeliverGivesUpAfterMaxAttempts(t *testing.T) {
	server := newMockDiscordServer(t, "1234567890")
	server.failures = []int{500, 500, 500, 500}
	d := newTestDiscord(server, "1234567890")

	err := d.Deliver(context.Background(), "text", "")
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeServerError, errs.TypeOf(err))
	assert.Empty(t, server.sent())
	assert.Len(t, server.failures, 1)
}

func TestDeliverDoesNotRetryClientErrors(t *testing.T) {
	server := newMockDiscordServer(t, "1234567890")
	server.failures = []int{http.StatusBadRequest, http.StatusBadRequest}
	d := newTestDiscord(server, "1234567890")

	err := d.Deliver(context.Background(), "text", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "try later")
	assert.Len(t, server.failures, 1)
}

func TestDeliverMissingImage(t *testing.T) {
	server := newMockDiscordServer(t, "1234567890")
	d := newTestDiscord(server, "1234567890")

	err := d.Deliver(context.Background(), "text", filepath.Join(t.TempDir(), "gone.jpg"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, server.sent())
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "1.5")
	assert.Equal(t, 1500*time.Millisecond, retryAfter(h, nil))
	assert.Equal(t, 250*time.Millisecond, retryAfter(http.Header{}, []byte(`{"retry_after": 0.25}`)))
	assert.Zero(t, retryAfter(http.Header{}, []byte(`oops`)))
}
