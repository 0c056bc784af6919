package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"visionrelay/internal/logger"
	"visionrelay/internal/models"
	"visionrelay/internal/services/ai"
	"visionrelay/internal/services/storage"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := w / 4; x < 3*w/4; x++ {
		for y := h / 4; y < 3*h/4; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	test.That(t, png.Encode(&buf, img), test.ShouldBeNil)
	return buf.Bytes()
}

// centerDetector reports one object covering the middle of the image, the way a
// real model answers for a fixture with a single centred subject.
func centerDetector(class string, calls *int64) ai.Detector {
	return ai.DetectorFunc(func(_ context.Context, img image.Image) ([]models.Detection, error) {
		if calls != nil {
			atomic.AddInt64(calls, 1)
		}
		b := img.Bounds()
		return []models.Detection{
			models.NewDetection(class, 0.876, b.Dx()/4, b.Dy()/4, 3*b.Dx()/4, 3*b.Dy()/4),
		}, nil
	})
}

func newService(t *testing.T, entries ...NamedDetector) *DetectionService {
	t.Helper()
	reg, err := NewRegistry("", entries)
	test.That(t, err, test.ShouldBeNil)
	return NewDetectionService(reg, storage.NewBufferService(storage.DefaultCapacity, logger.Nop()), logger.Nop())
}

func TestDetectSingleCenteredObject(t *testing.T) {
	svc := newService(t, NamedDetector{Name: "yolov8n", Detector: centerDetector("dog", nil)})

	dets, err := svc.Detect(context.Background(), pngBytes(t, 64, 32))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(dets), test.ShouldEqual, 1)
	test.That(t, dets[0].Class, test.ShouldEqual, "dog")
	test.That(t, dets[0].Confidence, test.ShouldBeGreaterThan, 0.5)
	test.That(t, dets[0].Confidence, test.ShouldEqual, 0.88)
	test.That(t, dets[0].Box, test.ShouldResemble, [4]int{16, 8, 48, 24})

	logs := svc.Logs()
	test.That(t, len(logs), test.ShouldEqual, 1)
	test.That(t, logs[0].Model, test.ShouldEqual, "yolov8n")
	test.That(t, logs[0].Detections, test.ShouldResemble, dets)
	test.That(t, logs[0].Timestamp, test.ShouldBeGreaterThan, 0)
}

func TestDetectAcceptsJPEG(t *testing.T) {
	svc := newService(t, NamedDetector{Name: "m", Detector: centerDetector("cat", nil)})

	var buf bytes.Buffer
	test.That(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 20, 10)), nil), test.ShouldBeNil)
	dets, err := svc.Detect(context.Background(), buf.Bytes())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(dets), test.ShouldEqual, 1)
}

func TestDetectRejectsGarbage(t *testing.T) {
	var calls int64
	svc := newService(t, NamedDetector{Name: "m", Detector: centerDetector("cat", &calls)})

	_, err := svc.Detect(context.Background(), []byte("definitely not an image"))
	test.That(t, errors.Is(err, ErrDecode), test.ShouldBeTrue)

	_, err = svc.Detect(context.Background(), nil)
	test.That(t, errors.Is(err, ErrDecode), test.ShouldBeTrue)

	test.That(t, atomic.LoadInt64(&calls), test.ShouldEqual, 0)
	test.That(t, len(svc.Logs()), test.ShouldEqual, 0)
}

func TestDetectInferenceFailureIsNotLogged(t *testing.T) {
	failing := ai.DetectorFunc(func(context.Context, image.Image) ([]models.Detection, error) {
		return nil, errors.New("gpu on fire")
	})
	svc := newService(t, NamedDetector{Name: "broken", Detector: failing})

	_, err := svc.Detect(context.Background(), pngBytes(t, 8, 8))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "broken")
	test.That(t, len(svc.Logs()), test.ShouldEqual, 0)
}

func TestSwitchModel(t *testing.T) {
	var a, b int64
	svc := newService(t,
		NamedDetector{Name: "yolov8n", Detector: centerDetector("person", &a)},
		NamedDetector{Name: "yolov8s", Detector: centerDetector("person", &b)},
	)
	img := pngBytes(t, 16, 16)

	test.That(t, svc.CurrentModel(), test.ShouldEqual, "yolov8n")
	test.That(t, svc.SwitchModel("yolov8s"), test.ShouldBeNil)
	test.That(t, svc.CurrentModel(), test.ShouldEqual, "yolov8s")

	_, err := svc.Detect(context.Background(), img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, atomic.LoadInt64(&a), test.ShouldEqual, 0)
	test.That(t, atomic.LoadInt64(&b), test.ShouldEqual, 1)
	test.That(t, svc.Logs()[0].Model, test.ShouldEqual, "yolov8s")
}

func TestSwitchToUnknownModelChangesNothing(t *testing.T) {
	var a int64
	svc := newService(t,
		NamedDetector{Name: "yolov8n", Detector: centerDetector("person", &a)},
		NamedDetector{Name: "yolov8s", Detector: centerDetector("person", nil)},
	)
	before := svc.ListModels()

	err := svc.SwitchModel("nonexistent")
	test.That(t, errors.Is(err, ErrInvalidModel), test.ShouldBeTrue)
	test.That(t, svc.CurrentModel(), test.ShouldEqual, "yolov8n")
	test.That(t, svc.ListModels(), test.ShouldResemble, before)

	_, err = svc.Detect(context.Background(), pngBytes(t, 8, 8))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, atomic.LoadInt64(&a), test.ShouldEqual, 1)
	test.That(t, svc.Logs()[0].Model, test.ShouldEqual, "yolov8n")
}

func TestListModelsIsExactAndStable(t *testing.T) {
	svc := newService(t,
		NamedDetector{Name: "yolov8n", Detector: centerDetector("a", nil)},
		NamedDetector{Name: "yolov8s", Detector: centerDetector("a", nil)},
		NamedDetector{Name: "yolov8m", Detector: centerDetector("a", nil)},
	)
	want := []string{"yolov8n", "yolov8s", "yolov8m"}
	test.That(t, svc.ListModels(), test.ShouldResemble, want)

	names := svc.ListModels()
	names[0] = "mutated"
	test.That(t, svc.ListModels(), test.ShouldResemble, want)
}

func TestLogsEvictAfter1001Calls(t *testing.T) {
	svc := newService(t, NamedDetector{Name: "m", Detector: centerDetector("a", nil)})
	var tick int64
	svc.now = func() time.Time {
		return time.Unix(1700000000, atomic.AddInt64(&tick, int64(time.Millisecond)))
	}
	img := pngBytes(t, 4, 4)

	var stamps []float64
	for i := 0; i < 1001; i++ {
		_, err := svc.Detect(context.Background(), img)
		test.That(t, err, test.ShouldBeNil)
		logs := svc.Logs()
		test.That(t, len(logs) <= 1000, test.ShouldBeTrue)
		stamps = append(stamps, logs[len(logs)-1].Timestamp)
	}

	logs := svc.Logs()
	test.That(t, len(logs), test.ShouldEqual, 1000)
	test.That(t, stamps[0], test.ShouldNotEqual, stamps[1])
	test.That(t, logs[0].Timestamp, test.ShouldEqual, stamps[1])
	test.That(t, logs[999].Timestamp, test.ShouldEqual, stamps[1000])
}

func TestRegistryValidation(t *testing.T) {
	_, err := NewRegistry("", nil)
	test.That(t, err, test.ShouldNotBeNil)

	d := centerDetector("a", nil)
	_, err = NewRegistry("", []NamedDetector{{Name: "a", Detector: d}, {Name: "a", Detector: d}})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewRegistry("b", []NamedDetector{{Name: "a", Detector: d}})
	test.That(t, err, test.ShouldNotBeNil)

	reg, err := NewRegistry("b", []NamedDetector{{Name: "a", Detector: d}, {Name: "b", Detector: d}})
	test.That(t, err, test.ShouldBeNil)
	name, _ := reg.Current()
	test.That(t, name, test.ShouldEqual, "b")
	test.That(t, reg.Close(), test.ShouldBeNil)
}

type closeCounter struct {
	ai.DetectorFunc
	closed *int
}

func (c closeCounter) Close() error {
	*c.closed++
	return nil
}

func TestFailedRegistryClosesModels(t *testing.T) {
	closed := 0
	d := closeCounter{DetectorFunc: centerDetector("a", nil).(ai.DetectorFunc), closed: &closed}

	_, err := NewRegistry("missing", []NamedDetector{{Name: "a", Detector: d}, {Name: "b", Detector: d}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"missing"`)
	test.That(t, closed, test.ShouldEqual, 2)

	closed = 0
	_, err = NewRegistry("", []NamedDetector{{Name: "a", Detector: d}, {Name: "b"}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, closed, test.ShouldEqual, 1)

	closed = 0
	reg, err := NewRegistry("", []NamedDetector{{Name: "a", Detector: d}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, closed, test.ShouldEqual, 0)
	test.That(t, reg.Close(), test.ShouldBeNil)
	test.That(t, closed, test.ShouldEqual, 1)
}
