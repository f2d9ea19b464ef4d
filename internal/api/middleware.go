package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

// ErrBadCredentials is returned by Login when the password does not match.
var ErrBadCredentials = errors.New("invalid credentials")

const sessionCookieName = "digicon_admin"

// adminSession is the payload carried inside the encoded session cookie.
type adminSession struct {
	ID        string    `json:"id"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AdminAuth issues and verifies the encoded admin session cookie.
type AdminAuth struct {
	codec    *securecookie.SecureCookie
	password string
	ttl      time.Duration
}

// NewAdminAuth creates the admin authenticator. The hash and block keys
// protect the cookie against tampering and inspection.
func NewAdminAuth(hashKey, blockKey []byte, password string) *AdminAuth {
	return &AdminAuth{
		codec:    securecookie.New(hashKey, blockKey),
		password: password,
		ttl:      12 * time.Hour,
	}
}

// Login checks the password and, on success, writes a fresh session cookie.
func (a *AdminAuth) Login(w http.ResponseWriter, password string) error {
	if subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) != 1 {
		return ErrBadCredentials
	}

	now := time.Now().UTC()
	session := adminSession{
		ID:        uuid.New().String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(a.ttl),
	}

	encoded, err := a.codec.Encode(sessionCookieName, session)
	if err != nil {
		return fmt.Errorf("encoding session cookie: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(a.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	slog.Info("admin session issued", "session_id", session.ID)
	return nil
}

// Logout expires the session cookie.
func (a *AdminAuth) Logout(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Require verifies the session cookie on every admin route.
func (a *AdminAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "missing session", "admin login required")
			return
		}

		var session adminSession
		if err := a.codec.Decode(sessionCookieName, cookie.Value, &session); err != nil {
			slog.Warn("invalid admin session cookie", "error", err, "remote_addr", r.RemoteAddr)
			writeAuthError(w, http.StatusUnauthorized, "invalid session", "admin login required")
			return
		}

		if time.Now().After(session.ExpiresAt) {
			writeAuthError(w, http.StatusUnauthorized, "session expired", "admin login required")
			return
		}

		slog.Debug("authenticated admin request", "session_id", session.ID)

		ctx := ContextWithSession(r.Context(), &session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthError represents an authentication error response
type AuthError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeAuthError writes JSON error response
func writeAuthError(w http.ResponseWriter, status int, error, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(AuthError{
		Error:   error,
		Message: message,
	})
}
