package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal_go/internal/config"
	"portal_go/internal/domain"
	"portal_go/internal/security"
	"portal_go/internal/service"
	"portal_go/internal/store/sqlite"
	"portal_go/internal/ws"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type apiEnv struct {
	server   *httptest.Server
	auth     *service.AuthService
	messages *service.MessageService
	admin    *domain.User
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	users := sqlite.NewUserRepo(db)
	enc, err := security.NewEncryptor([]byte("api-test-secret"), nil)
	require.NoError(t, err)
	tokens := security.NewTokenService("jwt-secret", time.Hour)

	env := &apiEnv{
		auth:     service.NewAuthService(users, tokens, security.NewPasswordHasher(4), discardLogger()),
		messages: service.NewMessageService(sqlite.NewMessageRepo(db), users, enc, discardLogger()),
	}
	env.admin, err = env.auth.EnsureAdmin(context.Background(), "Dr. Admin", "admin@example.com", "admin-password")
	require.NoError(t, err)

	cfg := &config.Config{
		AppName:            "test",
		Env:                "test",
		AccessTokenMinutes: 60,
		CORSOrigins:        []string{"http://localhost:3000"},
		WSAuthTimeout:      time.Second,
	}
	env.server = httptest.NewServer(NewRouter(cfg, Deps{
		Tokens:   tokens,
		Auth:     env.auth,
		Users:    service.NewUserService(users),
		Messages: env.messages,
		Hub:      ws.NewHub(discardLogger()),
		Logger:   discardLogger(),
	}))
	t.Cleanup(env.server.Close)
	return env
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (e *apiEnv) register(t *testing.T, name, email string) (string, string) {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"fullName": name, "email": email, "password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	user := body["user"].(map[string]any)
	return body["token"].(string), user["_id"].(string)
}

func (e *apiEnv) adminToken(t *testing.T) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "admin@example.com", "password": "admin-password",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	return body["token"].(string)
}

func TestAuthFlow(t *testing.T) {
	env := newAPIEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"fullName": "Pat Patient", "email": "Pat@Example.com", "password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "bearer", body["tokenType"])
	assert.Equal(t, "standard", body["user"].(map[string]any)["role"])

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	resp, body = env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"fullName": "Pat Again", "email": "pat@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "FAILED_PRECONDITION", body["code"])

	resp, body = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "pat@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, false, body["success"])

	resp, body = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "pat@example.com", "password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := body["token"].(string)

	resp, body = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pat@example.com", body["user"].(map[string]any)["email"])

	resp, _ = env.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAuthMiddleware(t *testing.T) {
	env := newAPIEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHENTICATED", body["code"])

	resp, _ = env.do(t, http.MethodGet, "/api/chat/users", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Cookie-only sessions are accepted.
	token, _ := env.register(t, "Cookie User", "cookie@example.com")
	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/auth/me", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatInboxAndHistory(t *testing.T) {
	env := newAPIEnv(t)
	patToken, patID := env.register(t, "Pat Patient", "pat@example.com")
	_, samID := env.register(t, "Sam Standard", "sam@example.com")
	ctx := context.Background()

	_, err := env.messages.Append(ctx, patID, env.admin.ID, "hello doctor")
	require.NoError(t, err)
	_, err = env.messages.Append(ctx, patID, env.admin.ID, "are you there?")
	require.NoError(t, err)

	// Standard users only see admins.
	resp, body := env.do(t, http.MethodGet, "/api/chat/users", patToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := body["users"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, env.admin.ID, rows[0].(map[string]any)["_id"])

	adminToken := env.adminToken(t)
	resp, body = env.do(t, http.MethodGet, "/api/chat/users", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows = body["users"].([]any)
	require.Len(t, rows, 2)
	byID := map[string]map[string]any{}
	for _, r := range rows {
		row := r.(map[string]any)
		byID[row["_id"].(string)] = row
	}
	assert.EqualValues(t, 2, byID[patID]["unreadCount"])
	assert.Equal(t, "are you there?", byID[patID]["lastMessage"].(map[string]any)["content"])
	assert.EqualValues(t, 0, byID[samID]["unreadCount"])
	assert.Nil(t, byID[samID]["lastMessage"])

	// History returns plaintext in order and clears the unread count.
	resp, body = env.do(t, http.MethodGet, "/api/chat/messages/"+patID, adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello doctor", msgs[0].(map[string]any)["message"])
	for _, m := range msgs {
		assert.Equal(t, true, m.(map[string]any)["isRead"], "history reflects its own mark-read")
	}
	assert.Equal(t, "Pat Patient", msgs[0].(map[string]any)["sender"].(map[string]any)["fullName"])

	_, body = env.do(t, http.MethodGet, "/api/chat/users", adminToken, nil)
	for _, r := range body["users"].([]any) {
		row := r.(map[string]any)
		assert.EqualValues(t, 0, row["unreadCount"])
	}

	resp, body = env.do(t, http.MethodGet, "/api/chat/messages/"+env.admin.ID, adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_ARGUMENT", body["code"])
}

func TestMarkAsReadEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	_, patID := env.register(t, "Pat Patient", "pat@example.com")
	ctx := context.Background()

	_, err := env.messages.Append(ctx, patID, env.admin.ID, "one")
	require.NoError(t, err)
	_, err = env.messages.Append(ctx, patID, env.admin.ID, "two")
	require.NoError(t, err)

	adminToken := env.adminToken(t)
	resp, body := env.do(t, http.MethodPut, "/api/chat/mark-as-read/"+patID, adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Messages marked as read", body["message"])
	assert.EqualValues(t, 2, body["updated"])

	resp, body = env.do(t, http.MethodPut, "/api/chat/mark-as-read/"+patID, adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["updated"])
}

func TestGetUserAndHealth(t *testing.T) {
	env := newAPIEnv(t)
	token, _ := env.register(t, "Pat Patient", "pat@example.com")

	resp, body := env.do(t, http.MethodGet, "/api/users/"+env.admin.ID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Dr. Admin", body["user"].(map[string]any)["fullName"])
	_, leaked := body["user"].(map[string]any)["hashedPassword"]
	assert.False(t, leaked)

	resp, body = env.do(t, http.MethodGet, "/api/users/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body["code"])

	resp, body = env.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

type recordingLive struct {
	mu       sync.Mutex
	locked   []string
	notified []string
}

func (l *recordingLive) Lock(key string) func() {
	l.mu.Lock()
	l.locked = append(l.locked, key)
	l.mu.Unlock()
	return func() {}
}

func (l *recordingLive) NotifyRead(key, readerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notified = append(l.notified, key+"|"+readerID)
}

func TestMarkReadNotifiesOnlyWhenSomethingChanged(t *testing.T) {
	env := newAPIEnv(t)
	_, patID := env.register(t, "Pat Patient", "pat@example.com")
	ctx := context.Background()
	_, err := env.messages.Append(ctx, patID, env.admin.ID, "ping")
	require.NoError(t, err)

	key, err := domain.ConversationKey(patID, env.admin.ID)
	require.NoError(t, err)
	live := &recordingLive{}
	req := httptest.NewRequest(http.MethodPut, "/", nil)

	marked, err := markReadAndNotify(req, env.messages, live, key, env.admin.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, marked)

	marked, err = markReadAndNotify(req, env.messages, live, key, env.admin.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, marked)

	assert.Equal(t, []string{key, key}, live.locked)
	assert.Equal(t, []string{key + "|" + env.admin.ID}, live.notified)
}

func TestWriteErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{domain.Authentication("no"), http.StatusUnauthorized, "no"},
		{domain.Validation("bad"), http.StatusBadRequest, "bad"},
		{domain.Forbidden("nope"), http.StatusForbidden, "nope"},
		{domain.NotFound("gone"), http.StatusNotFound, "gone"},
		{domain.Conflict("late"), http.StatusConflict, "late"},
		{domain.RateLimited("slow down"), http.StatusTooManyRequests, "slow down"},
		{domain.Internal("db", errors.New("connection refused")), http.StatusInternalServerError, "internal server error"},
		{errors.New("raw"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, discardLogger(), tc.err)
		assert.Equal(t, tc.status, rec.Code)

		var body errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.Success)
		assert.Equal(t, tc.msg, body.Message)
		assert.NotContains(t, rec.Body.String(), "connection refused")
	}
}
