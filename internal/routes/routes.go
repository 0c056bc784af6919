package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"visionrelay/internal/handlers"
	"visionrelay/internal/logger"
	"visionrelay/internal/middleware"
	"visionrelay/internal/repository"
	"visionrelay/internal/services"
	"visionrelay/internal/services/relay"
	hub "visionrelay/internal/services/websocket"
	"visionrelay/internal/web"
)

// DetectorDeps are the collaborators of the detection service routes.
type DetectorDeps struct {
	Service *services.DetectionService
	// Archive may be nil when archiving is disabled.
	Archive     repository.LogRepository
	Logger      *logger.Logger
	CORSOrigins []string
}

// SetupDetectorRoutes registers the detection service API.
func SetupDetectorRoutes(d DetectorDeps) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/detect", handlers.DetectHandler(d.Service, d.Logger)).Methods(http.MethodPost)
	r.HandleFunc("/switch_model", handlers.SwitchModelHandler(d.Service)).Methods(http.MethodPost)
	r.HandleFunc("/models", handlers.ModelsHandler(d.Service)).Methods(http.MethodGet)
	r.HandleFunc("/logs", handlers.DetectionLogsHandler(d.Service)).Methods(http.MethodGet)
	r.HandleFunc("/logs/archive", handlers.ArchiveHandler(d.Archive, d.Logger)).Methods(http.MethodGet)
	r.HandleFunc("/download_logs", handlers.DownloadLogsHandler(d.Service, d.Logger)).Methods(http.MethodGet)
	debugRoutes(r, d.Logger)

	r.Use(middleware.RequestLogger(d.Logger.Zap()))
	return withCORS(r, d.CORSOrigins)
}

// DetectorClient is what the relay needs from the detection service.
type DetectorClient interface {
	relay.DetectClient
	handlers.ModelProxy
}

// RelayDeps are the collaborators of the relay service routes.
type RelayDeps struct {
	Source      relay.FrameSource
	Client      DetectorClient
	Stream      relay.StreamOptions
	Hub         *hub.HubService
	Auth        *middleware.Authenticator
	Dashboard   web.Dashboard
	Logger      *logger.Logger
	CORSOrigins []string
}

// SetupRelayRoutes registers the dashboard, the video feed and the proxies,
// wrapped with the authentication middleware.
func SetupRelayRoutes(d RelayDeps) http.Handler {
	r := mux.NewRouter()

	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServerFS(web.Static())))
	r.HandleFunc("/", handlers.IndexHandler(d.Dashboard, d.Logger)).Methods(http.MethodGet)
	r.HandleFunc("/login", func(w http.ResponseWriter, req *http.Request) {
		http.ServeFileFS(w, req, web.Static(), "login.html")
	}).Methods(http.MethodGet)

	r.HandleFunc("/video_feed", handlers.VideoFeedHandler(d.Source, d.Client, d.Stream, d.Logger)).Methods(http.MethodGet)
	r.HandleFunc("/switch_model/{name}", handlers.SwitchModelProxyHandler(d.Client, d.Logger)).Methods(http.MethodPost)
	r.HandleFunc("/models", handlers.ModelsProxyHandler(d.Client, d.Logger)).Methods(http.MethodGet)
	if d.Hub != nil {
		r.HandleFunc("/ws", handlers.ViewWebsocketHandler(d.Hub, d.Logger)).Methods(http.MethodGet)
	}

	r.HandleFunc("/auth/login", handlers.LoginHandler(d.Auth, d.Logger)).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", handlers.LogoutHandler).Methods(http.MethodGet, http.MethodPost)
	debugRoutes(r, d.Logger)

	r.Use(middleware.RequestLogger(d.Logger.Zap()))
	r.Use(middleware.AuthMiddleware(d.Auth))
	return withCORS(r, d.CORSOrigins)
}

func debugRoutes(r *mux.Router, logger *logger.Logger) {
	r.HandleFunc("/debug/logs/{level}", handlers.ShowLogsHandler(logger)).Methods(http.MethodGet)
	r.HandleFunc("/debug/logs/{level}/clear", handlers.ClearLogsHandler(logger)).Methods(http.MethodPost)
}

func withCORS(h http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	}).Handler(h)
}
