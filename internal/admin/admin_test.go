// ABOUTME: Tests for admin login, session verification, and the auth middleware
// ABOUTME: Covers enabled and disabled password modes

package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdmin(t *testing.T, password string) *Admin {
	t.Helper()
	a, err := New(password, slog.Default())
	require.NoError(t, err)
	return a
}

func login(t *testing.T, a *Admin, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"password": password})
	req := httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	a.HandleLogin(w, req)
	return w
}

func TestLogin_Success(t *testing.T) {
	a := newTestAdmin(t, "correct horse battery")

	w := login(t, a, "correct horse battery")
	assert.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestLogin_WrongPassword(t *testing.T) {
	a := newTestAdmin(t, "correct horse battery")

	w := login(t, a, "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Result().Cookies())
}

func TestLogin_DisabledAuth(t *testing.T) {
	a := newTestAdmin(t, "")

	w := login(t, a, "anything")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_RejectsWithoutSession(t *testing.T) {
	a := newTestAdmin(t, "secret-password")

	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/api/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_AcceptsValidSession(t *testing.T) {
	a := newTestAdmin(t, "secret-password")

	loginResp := login(t, a, "secret-password")
	cookies := loginResp.Result().Cookies()
	require.NotEmpty(t, cookies)

	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/api/metrics", nil)
	req.AddCookie(cookies[0])
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_RejectsGarbageToken(t *testing.T) {
	a := newTestAdmin(t, "secret-password")

	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/api/metrics", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "not-a-token"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_DisabledAuthPassesThrough(t *testing.T) {
	a := newTestAdmin(t, "")

	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/api/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleSession(t *testing.T) {
	a := newTestAdmin(t, "secret-password")

	req := httptest.NewRequest(http.MethodGet, "/admin/session", nil)
	w := httptest.NewRecorder()
	a.HandleSession(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["authenticated"])

	loginResp := login(t, a, "secret-password")
	req = httptest.NewRequest(http.MethodGet, "/admin/session", nil)
	req.AddCookie(loginResp.Result().Cookies()[0])
	w = httptest.NewRecorder()
	a.HandleSession(w, req)

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["authenticated"])
}

func TestLogout_ExpiresCookie(t *testing.T) {
	a := newTestAdmin(t, "secret-password")

	req := httptest.NewRequest(http.MethodPost, "/admin/logout", nil)
	w := httptest.NewRecorder()
	a.HandleLogout(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Empty(t, cookies[0].Value)
	assert.True(t, cookies[0].Expires.Unix() <= 0)
}
