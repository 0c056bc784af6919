package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"visionrelay/internal/logger"
	"visionrelay/internal/services/relay"
	"visionrelay/internal/web"
)

// ModelProxy forwards model management calls to the detection service.
type ModelProxy interface {
	SwitchModel(ctx context.Context, name string) (*relay.ProxyResponse, error)
	ListModels(ctx context.Context) (*relay.ProxyResponse, error)
}

// IndexHandler renders the dashboard.
func IndexHandler(data web.Dashboard, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := web.RenderIndex(w, data); err != nil {
			logger.Error("Failed to render dashboard: %v", err)
		}
	}
}

// VideoFeedHandler streams annotated frames until the viewer disconnects or
// the stream ends.
func VideoFeedHandler(source relay.FrameSource, client relay.DetectClient, opts relay.StreamOptions, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", relay.ContentType)
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusOK)

		logger.Info("Video feed opened by %s", r.RemoteAddr)
		stream := relay.NewStream(source, client, opts, logger)
		err := stream.Run(r.Context(), relay.NewMJPEGWriter(w))
		switch {
		case err == nil:
			logger.Info("Video feed for %s ended: camera has no more frames", r.RemoteAddr)
		case errors.Is(err, context.Canceled):
			logger.Info("Video feed for %s closed by viewer", r.RemoteAddr)
		default:
			logger.Warning("Video feed for %s stopped: %v", r.RemoteAddr, err)
		}
	}
}

// SwitchModelProxyHandler forwards POST /switch_model/{name}.
func SwitchModelProxyHandler(proxy ModelProxy, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		resp, err := proxy.SwitchModel(r.Context(), name)
		if err != nil {
			logger.Error("Model switch proxy failed: %v", err)
			writeError(w, http.StatusBadGateway, "detection service unavailable")
			return
		}
		passThrough(w, resp)
	}
}

// ModelsProxyHandler forwards GET /models.
func ModelsProxyHandler(proxy ModelProxy, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := proxy.ListModels(r.Context())
		if err != nil {
			logger.Error("Model list proxy failed: %v", err)
			writeError(w, http.StatusBadGateway, "detection service unavailable")
			return
		}
		passThrough(w, resp)
	}
}

func passThrough(w http.ResponseWriter, resp *relay.ProxyResponse) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}
