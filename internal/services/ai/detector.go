// Package ai holds the detector abstraction shared by the inference backends and
// the YOLO pre/post-processing they have in common.
package ai

import (
	"context"
	"image"
	"strings"

	"github.com/pkg/errors"

	"visionrelay/internal/models"
)

const (
	// DefaultInputSize is the square input resolution of the bundled YOLO models.
	DefaultInputSize = 640
	// DefaultConfidenceThreshold drops candidate boxes below this score.
	DefaultConfidenceThreshold = 0.25
	// DefaultNMSThreshold is the IoU above which overlapping boxes of one class are suppressed.
	DefaultNMSThreshold = 0.45
)

// Detector runs one loaded model. Implementations serialise their own forward
// pass; callers may share a Detector between goroutines.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]models.Detection, error)
	Close() error
}

// Layout names the arrangement of a model's output tensor.
type Layout string

const (
	// LayoutAuto picks a layout from the output shape and the label count.
	LayoutAuto Layout = "auto"
	// LayoutAnchors is a YOLOv8 style head of cx, cy, w, h and per-class scores,
	// in either [1, 4+classes, anchors] or [1, anchors, 4+classes] order.
	LayoutAnchors Layout = "anchors"
	// LayoutEndToEnd is a YOLOv10 style [1, boxes, 6] head of x1, y1, x2, y2, score, class.
	LayoutEndToEnd Layout = "end2end"
)

// ParseLayout accepts "", auto, anchors and end2end.
func ParseLayout(s string) (Layout, error) {
	switch l := Layout(strings.ToLower(strings.TrimSpace(s))); l {
	case "", LayoutAuto:
		return LayoutAuto, nil
	case LayoutAnchors, LayoutEndToEnd:
		return l, nil
	}
	return "", errors.Errorf("unknown output layout %q", s)
}

// Options configures a backend.
type Options struct {
	InputSize           int
	ConfidenceThreshold float64
	NMSThreshold        float64
	Labels              []string
	Layout              Layout
}

// WithDefaults fills zero fields.
func (o Options) WithDefaults() Options {
	if o.InputSize <= 0 {
		o.InputSize = DefaultInputSize
	}
	if o.ConfidenceThreshold <= 0 {
		o.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if o.NMSThreshold <= 0 {
		o.NMSThreshold = DefaultNMSThreshold
	}
	if len(o.Labels) == 0 {
		o.Labels = COCOLabels
	}
	if o.Layout == "" {
		o.Layout = LayoutAuto
	}
	return o
}

// Label maps a class index through the label table.
func (o Options) Label(classID int) string {
	if classID >= 0 && classID < len(o.Labels) {
		return o.Labels[classID]
	}
	return "unknown"
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, img image.Image) ([]models.Detection, error)

func (f DetectorFunc) Detect(ctx context.Context, img image.Image) ([]models.Detection, error) {
	return f(ctx, img)
}

func (f DetectorFunc) Close() error { return nil }
