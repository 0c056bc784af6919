package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const (
	BackendOpenCV = "opencv"
	BackendONNX   = "onnx"
)

// DefaultModels mirrors the weights shipped next to the detector binary.
const DefaultModels = "yolov8n=models/yolov8n.onnx,yolov8s=models/yolov10n.onnx,yolov8m=models/yolov10s.onnx"

// ModelSpec names one entry of the model registry and the weights it loads.
type ModelSpec struct {
	Name string
	Path string
}

// Shared holds the settings both services read.
type Shared struct {
	LogDirectory string
	LogMode      string // "release" switches to JSON log lines
	CORSOrigins  []string
}

type DetectorConfig struct {
	Shared

	Port                int
	Backend             string
	Models              []ModelSpec
	DefaultModel        string
	InputSize           int
	ConfidenceThreshold float64
	NMSThreshold        float64
	LabelsPath          string
	OutputLayout        string // auto, anchors or end2end
	LogCapacity         int
	ONNXLibraryPath     string
	ArchiveDBPath       string // empty disables the sqlite archive
	NatsURL             string // empty disables event publishing
	NatsSubjectPrefix   string
}

type RelayConfig struct {
	Shared

	Port          int
	DetectorURL   string
	CameraDevice  string
	DetectTimeout int // seconds, 0 = no timeout
	FailurePolicy string
	RetryAttempts int
	JPEGQuality   int
	Password      string // empty disables dashboard login
}

// loadDotEnv reads an optional .env file; variables already set in the environment win.
func loadDotEnv() {
	path := getEnv("ENV_FILE", ".env")
	if _, err := os.Stat(path); err == nil {
		_ = godotenv.Load(path)
	}
}

func loadShared() Shared {
	return Shared{
		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogMode:      getEnv("LOG_MODE", "debug"),
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "*")),
	}
}

// LoadDetector builds the detection service configuration from the environment.
func LoadDetector() (*DetectorConfig, error) {
	loadDotEnv()

	models, err := ParseModels(getEnv("MODELS", DefaultModels))
	if err != nil {
		return nil, err
	}

	cfg := &DetectorConfig{
		Shared:              loadShared(),
		Port:                getEnvAsInt("DETECTOR_PORT", 5001),
		Backend:             strings.ToLower(getEnv("DETECTOR_BACKEND", BackendOpenCV)),
		Models:              models,
		DefaultModel:        getEnv("DEFAULT_MODEL", models[0].Name),
		InputSize:           getEnvAsInt("MODEL_INPUT_SIZE", 640),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.25),
		NMSThreshold:        getEnvAsFloat("NMS_THRESHOLD", 0.45),
		LabelsPath:          getEnv("LABELS_PATH", ""),
		OutputLayout:        getEnv("MODEL_OUTPUT_LAYOUT", "auto"),
		LogCapacity:         getEnvAsInt("LOG_CAPACITY", 1000),
		ONNXLibraryPath:     getEnv("ONNX_LIBRARY_PATH", ""),
		ArchiveDBPath:       getEnv("ARCHIVE_DB_PATH", ""),
		NatsURL:             getEnv("NATS_URL", ""),
		NatsSubjectPrefix:   getEnv("NATS_SUBJECT_PREFIX", "detections"),
	}

	if cfg.Backend != BackendOpenCV && cfg.Backend != BackendONNX {
		return nil, errors.Errorf("unknown detector backend %q", cfg.Backend)
	}
	found := false
	for _, m := range cfg.Models {
		if m.Name == cfg.DefaultModel {
			found = true
			break
		}
	}
	if !found {
		return nil, errors.Errorf("default model %q is not in MODELS", cfg.DefaultModel)
	}
	if cfg.LogCapacity <= 0 {
		return nil, errors.New("LOG_CAPACITY must be positive")
	}
	return cfg, nil
}

// LoadRelay builds the relay service configuration from the environment.
func LoadRelay() *RelayConfig {
	loadDotEnv()

	return &RelayConfig{
		Shared:        loadShared(),
		Port:          getEnvAsInt("RELAY_PORT", 5000),
		DetectorURL:   strings.TrimRight(getEnv("DETECTOR_URL", "http://localhost:5001"), "/"),
		CameraDevice:  getEnv("CAMERA_DEVICE", "0"),
		DetectTimeout: getEnvAsInt("DETECT_TIMEOUT", 0),
		FailurePolicy: strings.ToLower(getEnv("FAILURE_POLICY", "stop")),
		RetryAttempts: getEnvAsInt("RETRY_ATTEMPTS", 3),
		JPEGQuality:   getEnvAsInt("JPEG_QUALITY", 90),
		Password:      getEnv("RELAY_PASSWORD", ""),
	}
}

// ParseModels parses "name=path,name=path". Names must be unique.
func ParseModels(raw string) ([]ModelSpec, error) {
	var specs []ModelSpec
	seen := make(map[string]bool)
	for _, item := range splitList(raw) {
		name, path, ok := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		path = strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return nil, errors.Errorf("malformed model entry %q, want name=path", item)
		}
		if seen[name] {
			return nil, errors.Errorf("duplicate model name %q", name)
		}
		seen[name] = true
		specs = append(specs, ModelSpec{Name: name, Path: path})
	}
	if len(specs) == 0 {
		return nil, errors.New("no models configured")
	}
	return specs, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
