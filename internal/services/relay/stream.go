package relay

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"visionrelay/internal/logger"
	"visionrelay/internal/models"
)

// FailurePolicy decides what the stream does when a frame cannot be detected.
type FailurePolicy string

const (
	// PolicyStop ends the stream on the first failed detection.
	PolicyStop FailurePolicy = "stop"
	// PolicySkip drops the frame and moves on.
	PolicySkip FailurePolicy = "skip"
	// PolicyRaw sends the frame without boxes.
	PolicyRaw FailurePolicy = "raw"
	// PolicyRetry retries with backoff, then stops.
	PolicyRetry FailurePolicy = "retry"
)

// ParsePolicy maps a configuration value onto a FailurePolicy. Empty means stop.
func ParsePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyStop, nil
	case PolicyStop, PolicySkip, PolicyRaw, PolicyRetry:
		return p, nil
	default:
		return "", errors.Errorf("unknown failure policy %q", s)
	}
}

// Frame is one captured picture. The stream owns it until Close.
type Frame interface {
	// Encode returns the frame as JPEG bytes, including any boxes drawn so far.
	Encode() ([]byte, error)
	// Draw renders boxes and labels onto the frame.
	Draw(detections []models.Detection) error
	Close() error
}

// FrameSource yields frames in capture order. ok is false once the source has
// nothing more to give.
type FrameSource interface {
	Read() (frame Frame, ok bool, err error)
	Close() error
}

// DetectClient is the part of Client the stream needs.
type DetectClient interface {
	Detect(ctx context.Context, jpeg []byte) ([]models.Detection, error)
}

// FrameResult describes a processed frame for observers.
type FrameResult struct {
	Index      int                `json:"frame"`
	Timestamp  float64            `json:"timestamp"`
	Detections []models.Detection `json:"detections"`
	Error      string             `json:"error,omitempty"`
}

// StreamOptions tunes the failure handling of a Stream.
type StreamOptions struct {
	Policy        FailurePolicy
	RetryAttempts int
	RetryInterval time.Duration
	// Observer, when set, is called once per processed frame.
	Observer func(FrameResult)
}

// Stream turns a frame source into annotated JPEG frames, one detection
// request per frame, strictly in capture order.
type Stream struct {
	source   FrameSource
	detector DetectClient
	opts     StreamOptions
	logger   *logger.Logger
	now      func() time.Time
}

// NewStream creates a stream. It does not take ownership of source.
func NewStream(source FrameSource, detector DetectClient, opts StreamOptions, logger *logger.Logger) *Stream {
	if opts.Policy == "" {
		opts.Policy = PolicyStop
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 200 * time.Millisecond
	}
	return &Stream{
		source:   source,
		detector: detector,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Run reads frames until the source is exhausted, ctx is cancelled, the client
// goes away or the failure policy ends the stream. Exhaustion returns nil.
func (s *Stream) Run(ctx context.Context, w FrameWriter) error {
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, ok, err := s.source.Read()
		if err != nil {
			return errors.Wrap(err, "failed to read frame")
		}
		if !ok {
			s.logger.Info("Frame source exhausted after %d frame(s)", index)
			return nil
		}

		out, err := s.process(ctx, frame, index)
		if cerr := frame.Close(); cerr != nil {
			s.logger.Warning("Failed to release frame %d: %v", index, cerr)
		}
		if err != nil {
			return err
		}
		if out == nil {
			continue
		}

		if err := w.WriteFrame(out); err != nil {
			return errors.Wrap(err, "client went away")
		}
	}
}

func (s *Stream) process(ctx context.Context, frame Frame, index int) ([]byte, error) {
	raw, err := frame.Encode()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode frame %d", index)
	}

	detections, err := s.detect(ctx, raw)
	if err != nil {
		s.observe(index, nil, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		switch s.opts.Policy {
		case PolicySkip:
			s.logger.Warning("Skipping frame %d: %v", index, err)
			return nil, nil
		case PolicyRaw:
			s.logger.Warning("Sending frame %d without boxes: %v", index, err)
			return raw, nil
		default:
			return nil, errors.Wrapf(err, "frame %d", index)
		}
	}

	s.observe(index, detections, nil)
	if len(detections) == 0 {
		return raw, nil
	}
	if err := frame.Draw(detections); err != nil {
		return nil, errors.Wrapf(err, "failed to annotate frame %d", index)
	}
	annotated, err := frame.Encode()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode frame %d", index)
	}
	return annotated, nil
}

func (s *Stream) detect(ctx context.Context, jpeg []byte) ([]models.Detection, error) {
	if s.opts.Policy != PolicyRetry {
		return s.detector.Detect(ctx, jpeg)
	}

	var detections []models.Detection
	attempt := 0
	op := func() error {
		attempt++
		d, err := s.detector.Detect(ctx, jpeg)
		if err != nil {
			s.logger.Warning("Detection attempt %d failed: %v", attempt, err)
			return err
		}
		detections = d
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInterval
	b.MaxInterval = 10 * s.opts.RetryInterval
	b.MaxElapsedTime = 0
	// RetryAttempts counts the first try too.
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.RetryAttempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return detections, nil
}

func (s *Stream) observe(index int, detections []models.Detection, err error) {
	if s.opts.Observer == nil {
		return
	}
	if detections == nil {
		detections = []models.Detection{}
	}
	result := FrameResult{
		Index:      index,
		Timestamp:  models.EpochSeconds(s.now()),
		Detections: detections,
	}
	if err != nil {
		result.Error = err.Error()
	}
	s.opts.Observer(result)
}
