package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestAuthDisabledPassesEverything(t *testing.T) {
	h := AuthMiddleware(NewAuthenticator(""))(ok)
	w := serve(h, httptest.NewRequest(http.MethodGet, "/video_feed", nil))
	test.That(t, w.Code, test.ShouldEqual, http.StatusOK)
}

func TestAuthEnabled(t *testing.T) {
	auth := NewAuthenticator("secret")
	h := AuthMiddleware(auth)(ok)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	test.That(t, w.Code, test.ShouldEqual, http.StatusSeeOther)
	test.That(t, w.Header().Get("Location"), test.ShouldEqual, "/login")

	w = serve(h, httptest.NewRequest(http.MethodGet, "/models", nil))
	test.That(t, w.Code, test.ShouldEqual, http.StatusUnauthorized)

	w = serve(h, httptest.NewRequest(http.MethodGet, "/static/style.css", nil))
	test.That(t, w.Code, test.ShouldEqual, http.StatusOK)

	forged := httptest.NewRequest(http.MethodGet, "/", nil)
	forged.AddCookie(&http.Cookie{Name: CookieName, Value: "true"})
	test.That(t, serve(h, forged).Code, test.ShouldEqual, http.StatusSeeOther)

	valid := httptest.NewRequest(http.MethodGet, "/models", nil)
	valid.AddCookie(&http.Cookie{Name: CookieName, Value: auth.Token()})
	test.That(t, serve(h, valid).Code, test.ShouldEqual, http.StatusOK)

	test.That(t, auth.CheckPassword("secret"), test.ShouldBeTrue)
	test.That(t, auth.CheckPassword("Secret"), test.ShouldBeFalse)
}

func TestRequestLoggerAssignsID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTeapot)
	}))

	w := serve(h, httptest.NewRequest(http.MethodGet, "/detect", nil))
	id := w.Header().Get(RequestIDHeader)
	test.That(t, len(id), test.ShouldEqual, 26)

	entries := logs.All()
	test.That(t, len(entries), test.ShouldEqual, 1)
	test.That(t, entries[0].Level, test.ShouldEqual, zapcore.WarnLevel)
	fields := entries[0].ContextMap()
	test.That(t, fields["request_id"], test.ShouldEqual, id)
	test.That(t, fields["status"], test.ShouldEqual, int64(http.StatusTeapot))
	test.That(t, fields["path"], test.ShouldEqual, "/detect")

	r := httptest.NewRequest(http.MethodGet, "/models", nil)
	r.Header.Set(RequestIDHeader, "given")
	test.That(t, serve(h, r).Header().Get(RequestIDHeader), test.ShouldEqual, "given")
}
