package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"

	"visionrelay/internal/logger"
)

var logFiles = map[string]string{
	"info":    logger.InfoFile,
	"warning": logger.WarningFile,
	"error":   logger.ErrorFile,
}

// ShowLogsHandler serves /debug/logs/{level} as plain text.
func ShowLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename, ok := logFiles[mux.Vars(r)["level"]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		serveLogFile(w, r, logger.Dir(), filename)
	}
}

// ClearLogsHandler truncates /debug/logs/{level}/clear.
func ClearLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename, ok := logFiles[mux.Vars(r)["level"]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if err := logger.CleanLogs(filename); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func serveLogFile(w http.ResponseWriter, r *http.Request, logDir, filename string) {
	filePath := filepath.Join(logDir, filename)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.Error(w, "Log file not found: "+filename, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, filePath)
}
