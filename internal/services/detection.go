package services

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"visionrelay/internal/logger"
	"visionrelay/internal/models"
	"visionrelay/internal/services/storage"
)

var (
	// ErrDecode marks uploads that are not a decodable image.
	ErrDecode = errors.New("invalid image")
	// ErrInvalidModel marks a switch to a name the registry does not hold.
	ErrInvalidModel = errors.New("Invalid model name")
	// ErrModelUnavailable marks inference with no selected model.
	ErrModelUnavailable = errors.New("no detection model selected")
)

// DetectionService owns the model registry and the detection log buffer. One
// instance is created at startup and shared by all request handlers.
type DetectionService struct {
	registry *Registry
	logs     *storage.BufferService
	logger   *logger.Logger
	now      func() time.Time
}

// NewDetectionService wires a registry and a log buffer together.
func NewDetectionService(registry *Registry, logs *storage.BufferService, logger *logger.Logger) *DetectionService {
	return &DetectionService{
		registry: registry,
		logs:     logs,
		logger:   logger,
		now:      time.Now,
	}
}

// Detect decodes imageBytes, runs the current model on it and records the call.
func (s *DetectionService) Detect(ctx context.Context, imageBytes []byte) ([]models.Detection, error) {
	img, format, err := DecodeImage(imageBytes)
	if err != nil {
		return nil, err
	}

	name, detector := s.registry.Current()
	if detector == nil {
		return nil, ErrModelUnavailable
	}

	start := s.now()
	detections, err := detector.Detect(ctx, img)
	if err != nil {
		return nil, errors.Wrapf(err, "inference with %s failed", name)
	}
	if detections == nil {
		detections = []models.Detection{}
	}

	s.logs.Append(models.NewLogEntry(name, detections, s.now()))

	b := img.Bounds()
	s.logger.Info("Detected %d object(s) in %dx%d %s with %s in %v",
		len(detections), b.Dx(), b.Dy(), format, name, s.now().Sub(start))
	return detections, nil
}

// SwitchModel selects name for subsequent Detect calls.
func (s *DetectionService) SwitchModel(name string) error {
	if err := s.registry.Select(name); err != nil {
		s.logger.Warning("Rejected switch to unknown model %q", name)
		return err
	}
	s.logger.Info("Switched to model %s", name)
	return nil
}

// CurrentModel is the name used by the next Detect call.
func (s *DetectionService) CurrentModel() string {
	name, _ := s.registry.Current()
	return name
}

// ListModels returns the registry keys in a stable order.
func (s *DetectionService) ListModels() []string {
	return s.registry.Names()
}

// Logs returns a snapshot of the log buffer, most recent last.
func (s *DetectionService) Logs() []models.LogEntry {
	return s.logs.Snapshot()
}

// DownloadLogs renders the whole buffer as an indented JSON document.
func (s *DetectionService) DownloadLogs() ([]byte, error) {
	return s.logs.MarshalIndent()
}

// Close releases every loaded model.
func (s *DetectionService) Close() error {
	return s.registry.Close()
}
