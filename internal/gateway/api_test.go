// ABOUTME: End-to-end tests for the gin routes against a temp SQLite store and a fake platform API
// ABOUTME: Covers accounts, page connection, webhook ingest, chat listing, send, and the WebSocket push

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/helpdesk-gateway/internal/config"
	"github.com/2389/helpdesk-gateway/internal/conversation"
	"github.com/2389/helpdesk-gateway/internal/webhook"
)

const (
	testAppSecret   = "app-secret"
	testVerifyToken = "verify-me"
	testPassword    = "correct-horse"
)

type fakeGraph struct {
	mu       sync.Mutex
	failSend bool
	sent     int
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeGraph) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch {
		case r.Form.Get("grant_type") == "fb_exchange_token":
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "long-token", "token_type": "bearer"})
		case r.Form.Get("code") == "good-code":
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "short-token", "token_type": "bearer", "expires_in": 3600})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "Invalid verification code format.", "code": 100}})
		}
	})
	mux.HandleFunc("/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{
			map[string]any{"id": "P1", "name": "Helpdesk Page", "access_token": "page-token"},
		}})
	})
	mux.HandleFunc("/me/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failSend {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "(#551) This person isn't available right now.", "code": 551}})
			return
		}
		f.sent++
		writeJSON(w, http.StatusOK, map[string]any{"recipient_id": "S1", "message_id": fmt.Sprintf("m.out.%d", f.sent)})
	})
	mux.HandleFunc("/S1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"name": "Sam Sender"})
	})
	return mux
}

func (f *fakeGraph) setFailSend(v bool) {
	f.mu.Lock()
	f.failSend = v
	f.mu.Unlock()
}

func newTestGateway(t *testing.T) (*Gateway, *fakeGraph) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := &fakeGraph{}
	platform := httptest.NewServer(fake.handler())
	t.Cleanup(platform.Close)

	cfg, err := config.Parse(fmt.Sprintf(`
database:
  path: %q
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
facebook:
  app_id: "app-id"
  app_secret: %q
  verify_token: %q
  graph_base_url: %q
  request_timeout: "2s"
metrics:
  enabled: true
`, filepath.Join(t.TempDir(), "helpdesk.db"), testAppSecret, testVerifyToken, platform.URL), false)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.gracefulShutdown() })
	return gw, fake
}

func doJSON(t *testing.T, gw *Gateway, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["detail"]
}

// signup registers email and returns a bearer token for it.
func signup(t *testing.T, gw *Gateway, email string) string {
	t.Helper()
	rec := doJSON(t, gw, http.MethodPost, "/api/v1/auth/register", map[string]any{"email": email, "password": testPassword}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, gw, http.MethodPost, "/api/v1/auth/login", map[string]any{"email": email, "password": testPassword}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[tokenResponse](t, rec).AccessToken
}

func connectPage(t *testing.T, gw *Gateway, token string) {
	t.Helper()
	rec := doJSON(t, gw, http.MethodPost, "/facebook/connect", map[string]any{"code": "good-code", "redirect_uri": "https://app.example/cb"}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func messagePayload(pageID, sender, mid, text string, at time.Time) []byte {
	b, _ := json.Marshal(map[string]any{
		"object": "page",
		"entry": []any{map[string]any{
			"id":   pageID,
			"time": at.UnixMilli(),
			"messaging": []any{map[string]any{
				"sender":    map[string]any{"id": sender},
				"recipient": map[string]any{"id": pageID},
				"timestamp": at.UnixMilli(),
				"message":   map[string]any{"mid": mid, "text": text},
			}},
		}},
	})
	return b
}

func postWebhook(t *testing.T, h http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/messenger/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(webhook.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func deliver(t *testing.T, gw *Gateway, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	return postWebhook(t, gw.Handler(), body, webhook.Sign([]byte(testAppSecret), body))
}

type chatView struct {
	ID       uint   `json:"id"`
	Name     string `json:"fb_user_name"`
	Sender   string `json:"fb_user_id"`
	Messages []struct {
		Content string `json:"content"`
		Type    string `json:"message_type"`
	} `json:"messages"`
}

func listChats(t *testing.T, gw *Gateway, token string) []chatView {
	t.Helper()
	rec := doJSON(t, gw, http.MethodGet, "/api/messenger/chats", nil, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[[]chatView](t, rec)
}

func TestRootAndHealth(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doJSON(t, gw, http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	root := decode[map[string]string](t, rec)
	assert.Equal(t, "Facebook Helpdesk API", root["message"])
	assert.Equal(t, "SQLite", root["database"])
	assert.Equal(t, Version, root["version"])

	rec = doJSON(t, gw, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rec)["status"])

	rec = doJSON(t, gw, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_DatabaseDown(t *testing.T) {
	gw, _ := newTestGateway(t)
	require.NoError(t, gw.store.Close())

	rec := doJSON(t, gw, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Database connection failed", detail(t, rec))
}

func TestAuthFlow(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doJSON(t, gw, http.MethodPost, "/api/v1/auth/register",
		map[string]any{"email": "agent@example.com", "password": testPassword, "full_name": "  Ada Agent "}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]any](t, rec)
	assert.Equal(t, "agent@example.com", created["email"])
	assert.Equal(t, "Ada Agent", created["full_name"])
	assert.NotContains(t, rec.Body.String(), "password")

	rec = doJSON(t, gw, http.MethodPost, "/api/v1/auth/register",
		map[string]any{"email": "Agent@Example.com", "password": testPassword}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Email already registered", detail(t, rec))

	rec = doJSON(t, gw, http.MethodPost, "/api/v1/auth/register",
		map[string]any{"email": "short@example.com", "password": "abc"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, gw, http.MethodPost, "/api/v1/auth/register",
		map[string]any{"email": "long@example.com", "password": strings.Repeat("p", 80)}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Password must be at most 72 bytes", detail(t, rec))

	rec = doJSON(t, gw, http.MethodPost, "/api/v1/auth/register",
		map[string]any{"email": "not-an-email", "password": testPassword}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, gw, http.MethodPost, "/api/v1/auth/login",
		map[string]any{"email": "agent@example.com", "password": "wrong-password"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "Incorrect email or password", detail(t, rec))

	rec = doJSON(t, gw, http.MethodPost, "/api/v1/auth/login",
		map[string]any{"email": "AGENT@example.com", "password": testPassword}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tok := decode[tokenResponse](t, rec)
	assert.Equal(t, "bearer", tok.TokenType)
	require.NotEmpty(t, tok.AccessToken)

	rec = doJSON(t, gw, http.MethodGet, "/api/v1/auth/me", nil, tok.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "agent@example.com", decode[map[string]any](t, rec)["email"])

	rec = doJSON(t, gw, http.MethodGet, "/api/v1/auth/protected", nil, tok.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello agent@example.com, this is a protected route!", decode[map[string]any](t, rec)["message"])

	rec = doJSON(t, gw, http.MethodGet, "/api/v1/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = doJSON(t, gw, http.MethodGet, "/api/v1/auth/me", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFacebookConnectionLifecycle(t *testing.T) {
	gw, _ := newTestGateway(t)
	token := signup(t, gw, "agent@example.com")

	rec := doJSON(t, gw, http.MethodGet, "/facebook/connection", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[connectionResponse](t, rec)
	assert.Equal(t, 0, status.Connected)
	assert.Nil(t, status.Page)
	assert.Positive(t, status.LastChecked)

	rec = doJSON(t, gw, http.MethodGet, "/facebook/auth?redirect_uri=https://app.example/cb", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["auth_url"], "client_id=app-id")

	connect := map[string]any{"code": "good-code", "redirect_uri": "https://app.example/cb"}
	steps := []string{"Page connected successfully", "Page already connected"}
	for _, want := range steps {
		rec = doJSON(t, gw, http.MethodPost, "/facebook/connect", connect, token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, want, decode[map[string]any](t, rec)["message"])
	}

	rec = doJSON(t, gw, http.MethodPost, "/facebook/disconnect/P1", nil, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, gw, http.MethodPost, "/facebook/disconnect/P1", nil, token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Facebook page not found or already disconnected", detail(t, rec))

	rec = doJSON(t, gw, http.MethodGet, "/facebook/connection", nil, token)
	assert.Equal(t, 0, decode[connectionResponse](t, rec).Connected)

	rec = doJSON(t, gw, http.MethodPost, "/facebook/connect", connect, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Page reconnected successfully", decode[map[string]any](t, rec)["message"])

	rec = doJSON(t, gw, http.MethodGet, "/facebook/connection", nil, token)
	status = decode[connectionResponse](t, rec)
	assert.Equal(t, 1, status.Connected)
	require.NotNil(t, status.Page)
	assert.Equal(t, "P1", status.Page.PageID)
	assert.NotContains(t, rec.Body.String(), "page-token")
}

func TestFacebookConnect_Rejected(t *testing.T) {
	gw, _ := newTestGateway(t)
	token := signup(t, gw, "agent@example.com")

	rec := doJSON(t, gw, http.MethodPost, "/facebook/connect",
		map[string]any{"code": "bad-code", "redirect_uri": "https://app.example/cb"}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid verification code format.", detail(t, rec))

	rec = doJSON(t, gw, http.MethodPost, "/facebook/connect", map[string]any{"code": "good-code"}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, gw, http.MethodPost, "/facebook/connect", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookHandshake(t *testing.T) {
	gw, _ := newTestGateway(t)

	tests := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"valid", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusForbidden, ""},
		{"missing params", "", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, gw, http.MethodGet, "/api/messenger/webhook?"+tt.query, nil, "")
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
				assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
			}
		})
	}
}

func TestWebhook_Rejections(t *testing.T) {
	gw, _ := newTestGateway(t)
	body := messagePayload("P1", "S1", "m.1", "hi", time.Now())

	rec := postWebhook(t, gw.Handler(), body, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Invalid signature", detail(t, rec))

	rec = postWebhook(t, gw.Handler(), body, webhook.Sign([]byte("other-secret"), body))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	tampered := bytes.Replace(body, []byte(`"hi"`), []byte(`"ho"`), 1)
	rec = postWebhook(t, gw.Handler(), tampered, webhook.Sign([]byte(testAppSecret), body))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = deliver(t, gw, []byte(`{"object":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = deliver(t, gw, []byte(`{"object":"instagram","entry":[]}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	huge := bytes.Repeat([]byte("a"), maxWebhookBody+1)
	rec = deliver(t, gw, huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWebhook_UnownedPageIsAccepted(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := deliver(t, gw, messagePayload("P-unknown", "S1", "m.1", "hello", time.Now()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["success"])
}

func TestWebhook_PersistFailureAsksForRedelivery(t *testing.T) {
	gw, _ := newTestGateway(t)
	token := signup(t, gw, "agent@example.com")
	connectPage(t, gw, token)
	require.NoError(t, gw.store.Close())

	rec := deliver(t, gw, messagePayload("P1", "S1", "m.1", "hello", time.Now()))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to process webhook", detail(t, rec))
}

func TestWebhook_EndToEnd(t *testing.T) {
	gw, _ := newTestGateway(t)
	token := signup(t, gw, "agent@example.com")
	connectPage(t, gw, token)

	rec := deliver(t, gw, messagePayload("P1", "S1", "m.1", "hello", time.Now()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	chats := listChats(t, gw, token)
	require.Len(t, chats, 1)
	chat := chats[0]
	assert.Equal(t, "S1", chat.Sender)
	assert.Equal(t, "Sam Sender", chat.Name)
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, "hello", chat.Messages[0].Content)
	assert.Equal(t, "incoming", chat.Messages[0].Type)

	// Redelivery of the same mid is acknowledged but not stored twice.
	rec = deliver(t, gw, messagePayload("P1", "S1", "m.1", "hello", time.Now()))
	require.Equal(t, http.StatusOK, rec.Code)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	wsURL := fmt.Sprintf("ws%s/api/messenger/chats/%d/ws?token=%s", strings.TrimPrefix(srv.URL, "http"), chat.ID, token)
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })

	require.Eventually(t, func() bool { return gw.registry.Len(chat.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	rec = deliver(t, gw, messagePayload("P1", "S1", "m.2", "are you there?", time.Now()))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var push conversation.PushEvent
	require.NoError(t, ws.ReadJSON(&push))
	assert.Equal(t, conversation.EventNewMessage, push.Type)
	assert.Equal(t, "are you there?", push.Data.Content)
	assert.Equal(t, "incoming", push.Data.MessageType)
	require.NotNil(t, push.Data.FBMessageID)
	assert.Equal(t, "m.2", *push.Data.FBMessageID)

	rec = doJSON(t, gw, http.MethodGet, fmt.Sprintf("/api/messenger/chats/%d/messages", chat.ID), nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[[]map[string]any](t, rec)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0]["content"])
	assert.Equal(t, "are you there?", msgs[1]["content"])

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return gw.registry.Len(chat.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebhook_ConcurrentFirstContact(t *testing.T) {
	gw, _ := newTestGateway(t)
	token := signup(t, gw, "agent@example.com")
	connectPage(t, gw, token)

	const n = 10
	now := time.Now()
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := messagePayload("P1", "S1", fmt.Sprintf("m.%d", i), fmt.Sprintf("msg %d", i), now)
			req := httptest.NewRequest(http.MethodPost, "/api/messenger/webhook", bytes.NewReader(body))
			req.Header.Set(webhook.SignatureHeader, webhook.Sign([]byte(testAppSecret), body))
			rec := httptest.NewRecorder()
			gw.Handler().ServeHTTP(rec, req)
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		assert.Equal(t, http.StatusOK, code, "delivery %d", i)
	}
	chats := listChats(t, gw, token)
	require.Len(t, chats, 1)
	assert.Len(t, chats[0].Messages, n)
}

func TestSendMessage(t *testing.T) {
	gw, fake := newTestGateway(t)
	token := signup(t, gw, "agent@example.com")
	connectPage(t, gw, token)

	require.Equal(t, http.StatusOK, deliver(t, gw, messagePayload("P1", "S1", "m.1", "hello", time.Now())).Code)
	chatID := listChats(t, gw, token)[0].ID
	path := fmt.Sprintf("/api/messenger/chats/%d/messages", chatID)

	rec := doJSON(t, gw, http.MethodPost, path, map[string]any{"content": "How can I help?"}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sent := decode[map[string]any](t, rec)
	assert.Equal(t, "How can I help?", sent["content"])
	assert.Equal(t, "outgoing", sent["message_type"])
	assert.Equal(t, "m.out.1", sent["fb_message_id"])

	t.Run("empty content", func(t *testing.T) {
		rec := doJSON(t, gw, http.MethodPost, path, map[string]any{"content": "  "}, token)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid chat id", func(t *testing.T) {
		rec := doJSON(t, gw, http.MethodPost, "/api/messenger/chats/abc/messages", map[string]any{"content": "x"}, token)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown chat", func(t *testing.T) {
		rec := doJSON(t, gw, http.MethodPost, "/api/messenger/chats/9999/messages", map[string]any{"content": "x"}, token)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Chat not found", detail(t, rec))
	})

	t.Run("someone else's chat", func(t *testing.T) {
		other := signup(t, gw, "other@example.com")
		rec := doJSON(t, gw, http.MethodPost, path, map[string]any{"content": "x"}, other)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = doJSON(t, gw, http.MethodGet, path, nil, other)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("platform rejects send", func(t *testing.T) {
		fake.setFailSend(true)
		defer fake.setFailSend(false)

		rec := doJSON(t, gw, http.MethodPost, path, map[string]any{"content": "lost"}, token)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Failed to send message", detail(t, rec))
	})

	t.Run("no active page", func(t *testing.T) {
		require.Equal(t, http.StatusOK, doJSON(t, gw, http.MethodPost, "/facebook/disconnect/P1", nil, token).Code)

		rec := doJSON(t, gw, http.MethodPost, path, map[string]any{"content": "anyone?"}, token)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "No active page connection", detail(t, rec))
	})

	rec = doJSON(t, gw, http.MethodGet, path, nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 2, "failed sends must not be recorded")
}

func TestChatSocket_RefusedBeforeUpgrade(t *testing.T) {
	gw, _ := newTestGateway(t)
	token := signup(t, gw, "agent@example.com")
	connectPage(t, gw, token)
	require.Equal(t, http.StatusOK, deliver(t, gw, messagePayload("P1", "S1", "m.1", "hello", time.Now())).Code)
	chatID := listChats(t, gw, token)[0].ID
	other := signup(t, gw, "other@example.com")

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"no token", fmt.Sprintf("/api/messenger/chats/%d/ws", chatID), http.StatusUnauthorized},
		{"bad token", fmt.Sprintf("/api/messenger/chats/%d/ws?token=nope", chatID), http.StatusUnauthorized},
		{"not owner", fmt.Sprintf("/api/messenger/chats/%d/ws?token=%s", chatID, other), http.StatusNotFound},
		{"unknown chat", "/api/messenger/chats/9999/ws?token=" + token, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, gw, http.MethodGet, tt.path, nil, "")
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	gw, _ := newTestGateway(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/messenger/chats", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
