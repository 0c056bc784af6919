package handlers

import (
	"net/http"

	"visionrelay/internal/logger"
	"visionrelay/internal/middleware"
)

// LoginHandler checks the dashboard password and sets the session cookie.
func LoginHandler(auth *middleware.Authenticator, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !auth.Enabled() {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		if !auth.CheckPassword(r.FormValue("password")) {
			logger.Warning("Failed login attempt from %s", r.RemoteAddr)
			http.Error(w, "Invalid password", http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.CookieName,
			Value:    auth.Token(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		logger.Info("Dashboard login from %s", r.RemoteAddr)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}
