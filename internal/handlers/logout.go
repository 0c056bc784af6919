package handlers

import (
	"net/http"

	"visionrelay/internal/middleware"
)

// LogoutHandler clears the authentication cookie and redirects to the login page.
func LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   middleware.CookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
