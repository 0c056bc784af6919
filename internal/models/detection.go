package models

import (
	"math"
	"time"
)

// Detection represents one object found in an image.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        [4]int  `json:"box"` // x1, y1, x2, y2 in pixels
}

// LogEntry records every detection produced by one inference call.
type LogEntry struct {
	Timestamp  float64     `json:"timestamp"` // seconds since the Unix epoch
	Model      string      `json:"model"`
	Detections []Detection `json:"detections"`
}

// NewDetection builds a Detection with confidence rounded to two decimals and a
// box whose corners are ordered.
func NewDetection(class string, confidence float64, x1, y1, x2, y2 int) Detection {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	return Detection{
		Class:      class,
		Confidence: RoundConfidence(confidence),
		Box:        [4]int{x1, y1, x2, y2},
	}
}

// NewLogEntry stamps detections with the current time.
func NewLogEntry(model string, detections []Detection, now time.Time) LogEntry {
	if detections == nil {
		detections = []Detection{}
	}
	return LogEntry{
		Timestamp:  EpochSeconds(now),
		Model:      model,
		Detections: detections,
	}
}

// RoundConfidence clamps to [0,1] and rounds to two decimals.
func RoundConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 1:
		return 1
	}
	return math.Round(c*100) / 100
}

// EpochSeconds converts t to fractional seconds since the Unix epoch.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Time converts the entry timestamp back to a time.Time.
func (e LogEntry) Time() time.Time {
	sec, frac := math.Modf(e.Timestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
