// ABOUTME: Admin authentication with password login and signed session cookies
// ABOUTME: Sessions are HS256 tokens minted at login; no server-side session table

package admin

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// SessionCookieName is the name of the admin session cookie.
	SessionCookieName = "relay_admin_session"

	// SessionDuration is how long an admin session lasts.
	SessionDuration = 24 * time.Hour
)

// ErrNoPassword is returned by login when no admin password is configured.
var ErrNoPassword = errors.New("admin password not configured")

// Admin guards the admin surface. The configured password is bcrypt-hashed at
// startup; the plaintext is never retained. The signing secret is random per
// process, so admin sessions do not survive a restart.
type Admin struct {
	passwordHash []byte
	secret       []byte
	logger       *slog.Logger
}

// New creates the admin guard. An empty password disables authentication:
// login always fails and the middleware passes requests through.
func New(password string, logger *slog.Logger) (*Admin, error) {
	a := &Admin{logger: logger.With("component", "admin")}

	if password == "" {
		a.logger.Warn("admin auth disabled - no ADMIN_PASSWORD configured")
		return a, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing admin password: %w", err)
	}
	a.passwordHash = hash

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating session secret: %w", err)
	}
	a.secret = secret

	return a, nil
}

// Enabled reports whether admin authentication is configured.
func (a *Admin) Enabled() bool {
	return a.passwordHash != nil
}

// loginRequest is the JSON body for POST /admin/login.
type loginRequest struct {
	Password string `json:"password"`
}

// HandleLogin handles POST /admin/login. On success it sets the session
// cookie and returns {ok:true}.
func (a *Admin) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	if !a.Enabled() {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": ErrNoPassword.Error()})
		return
	}

	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(req.Password)); err != nil {
		a.logger.Warn("admin login rejected")
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid password"})
		return
	}

	token, expires, err := a.mintSession()
	if err != nil {
		a.logger.Error("minting admin session failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "session creation failed"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	a.logger.Info("admin logged in")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "expiresAt": expires.UnixMilli()})
}

// HandleLogout handles POST /admin/logout by expiring the cookie.
func (a *Admin) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// HandleSession handles GET /admin/session, reporting auth state.
func (a *Admin) HandleSession(w http.ResponseWriter, r *http.Request) {
	authenticated := !a.Enabled() || a.validRequest(r)
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": authenticated})
}

// Middleware rejects requests without a valid admin session. When auth is
// disabled it passes everything through.
func (a *Admin) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.Enabled() && !a.validRequest(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "admin session required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// mintSession creates a signed session token with expiry.
func (a *Admin) mintSession() (string, time.Time, error) {
	expires := time.Now().Add(SessionDuration)
	claims := jwt.MapClaims{
		"sub": "admin",
		"jti": uuid.New().String(),
		"iat": jwt.NewNumericDate(time.Now()),
		"exp": jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// validRequest checks the session cookie on a request.
func (a *Admin) validRequest(r *http.Request) bool {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	return a.verify(cookie.Value)
}

// verify validates a session token's signature and expiry.
func (a *Admin) verify(tokenString string) bool {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return false
	}
	return token.Valid
}

// writeJSON encodes v as the JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
