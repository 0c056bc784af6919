package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// CookieName holds the session token after a successful login.
const CookieName = "authenticated"

// Authenticator checks the dashboard password and issues session tokens. A
// zero-value password disables authentication entirely.
type Authenticator struct {
	password string
	token    string
}

// NewAuthenticator derives a per-process token from password, so sessions end
// when the relay restarts.
func NewAuthenticator(password string) *Authenticator {
	a := &Authenticator{password: password}
	if password == "" {
		return a
	}
	key := make([]byte, 32)
	rand.Read(key)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(password))
	a.token = hex.EncodeToString(mac.Sum(nil))
	return a
}

// Enabled reports whether a password is configured.
func (a *Authenticator) Enabled() bool {
	return a.password != ""
}

// CheckPassword compares in constant time.
func (a *Authenticator) CheckPassword(password string) bool {
	return subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
}

// Token is the cookie value issued after login.
func (a *Authenticator) Token() string {
	return a.token
}

func (a *Authenticator) authenticated(r *http.Request) bool {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(a.token)) == 1
}

// AuthMiddleware sends visitors without a valid session cookie to /login.
func AuthMiddleware(auth *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			// Login page, login endpoint and static assets stay public.
			if r.URL.Path == "/login" ||
				r.URL.Path == "/auth/login" ||
				strings.HasPrefix(r.URL.Path, "/static/") {
				next.ServeHTTP(w, r)
				return
			}

			if !auth.authenticated(r) {
				// API callers get a status, browsers get the login page.
				if r.Header.Get("X-Requested-With") == "XMLHttpRequest" ||
					r.Header.Get("Content-Type") == "application/json" ||
					r.URL.Path != "/" {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
