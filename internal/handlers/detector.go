package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"visionrelay/internal/logger"
	"visionrelay/internal/repository"
	"visionrelay/internal/services"
)

// MaxUploadBytes bounds a single /detect upload.
const MaxUploadBytes = 32 << 20

// DetectHandler runs the current model on the "image" form field.
func DetectHandler(svc *services.DetectionService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
		file, _, err := r.FormFile("image")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing image file field")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read image upload")
			return
		}

		detections, err := svc.Detect(r.Context(), data)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, detections)
		case errors.Is(err, services.ErrDecode):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, services.ErrModelUnavailable):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			logger.Error("Detection failed: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

type switchModelRequest struct {
	Model *string `json:"model"`
}

// SwitchModelHandler selects the model named in the JSON body.
func SwitchModelHandler(svc *services.DetectionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req switchModelRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil || req.Model == nil {
			writeError(w, http.StatusBadRequest, `request body must be {"model": "<name>"}`)
			return
		}

		if err := svc.SwitchModel(*req.Model); err != nil {
			writeError(w, http.StatusBadRequest, services.ErrInvalidModel.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Switched to " + *req.Model})
	}
}

// ModelsHandler lists every loaded model name.
func ModelsHandler(svc *services.DetectionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.ListModels())
	}
}

// DetectionLogsHandler returns the buffered log entries, oldest first.
func DetectionLogsHandler(svc *services.DetectionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Logs())
	}
}

// DownloadLogsHandler serves the buffer as an indented JSON attachment.
func DownloadLogsHandler(svc *services.DetectionService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := svc.DownloadLogs()
		if err != nil {
			logger.Error("Failed to render detection logs: %v", err)
			http.Error(w, "failed to render logs", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="detection_logs.json"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}
}

// ArchiveHandler returns the newest archived entries. limit defaults to 100.
func ArchiveHandler(repo repository.LogRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			writeError(w, http.StatusNotFound, "log archive is disabled")
			return
		}

		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		entries, err := repo.Recent(r.Context(), limit)
		if err != nil {
			logger.Error("Failed to read log archive: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to read log archive")
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}
