// Package camera captures frames with OpenCV and draws detections onto them.
package camera

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"visionrelay/internal/models"
	"visionrelay/internal/services/relay"
)

var boxColor = color.RGBA{G: 255}

// Source reads from one capture device. Reads are serialized, so every viewer
// of the feed receives a distinct subset of the captured frames.
type Source struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	device  string
	quality int
}

// Open opens device, either a camera index such as "0" or a file/stream URL.
func Open(device string, jpegQuality int) (*Source, error) {
	var id interface{} = device
	if n, err := strconv.Atoi(device); err == nil {
		id = n
	}
	capture, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open capture device %s", device)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, errors.Errorf("capture device %s is not available", device)
	}
	return &Source{capture: capture, device: device, quality: jpegQuality}, nil
}

func (s *Source) Read() (relay.Frame, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mat := gocv.NewMat()
	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, false, nil
	}
	return &Frame{mat: mat, quality: s.quality}, true, nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture.Close()
}

// Frame is a captured BGR image.
type Frame struct {
	mat     gocv.Mat
	quality int
}

func (f *Frame) Encode() ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, f.mat, []int{int(gocv.IMWriteJpegQuality), f.quality})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode JPEG")
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// Draw renders a green box per detection with "<class> <confidence>" above it.
func (f *Frame) Draw(detections []models.Detection) error {
	for _, d := range detections {
		rect := image.Rect(d.Box[0], d.Box[1], d.Box[2], d.Box[3])
		if err := gocv.Rectangle(&f.mat, rect, boxColor, 2); err != nil {
			return errors.Wrap(err, "failed to draw box")
		}
		label := fmt.Sprintf("%s %.2f", d.Class, d.Confidence)
		if err := gocv.PutText(&f.mat, label, image.Pt(d.Box[0], d.Box[1]-10), gocv.FontHersheySimplex, 0.9, boxColor, 2); err != nil {
			return errors.Wrap(err, "failed to draw label")
		}
	}
	return nil
}

func (f *Frame) Close() error {
	return f.mat.Close()
}
