package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"visionrelay/internal/logger"
	"visionrelay/internal/models"
)

type fakeFrame struct {
	id     int
	boxes  int
	closed *int
}

func (f *fakeFrame) Encode() ([]byte, error) {
	return []byte(fmt.Sprintf("jpeg-%d-boxes-%d", f.id, f.boxes)), nil
}

func (f *fakeFrame) Draw(detections []models.Detection) error {
	f.boxes += len(detections)
	return nil
}

func (f *fakeFrame) Close() error {
	*f.closed++
	return nil
}

type fakeSource struct {
	total  int
	next   int
	closed int
}

func (s *fakeSource) Read() (Frame, bool, error) {
	if s.next >= s.total {
		return nil, false, nil
	}
	s.next++
	return &fakeFrame{id: s.next, closed: &s.closed}, true, nil
}

func (s *fakeSource) Close() error { return nil }

type scriptedDetector struct {
	mu    sync.Mutex
	calls int
	fail  func(call int) bool
}

func (d *scriptedDetector) Detect(_ context.Context, jpeg []byte) ([]models.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fail != nil && d.fail(d.calls) {
		return nil, errors.Wrap(ErrDetectRequest, "status 500")
	}
	return []models.Detection{models.NewDetection("person", 0.9, 1, 2, 3, 4)}, nil
}

type recordingWriter struct {
	frames []string
	failAt int
}

func (w *recordingWriter) WriteFrame(jpeg []byte) error {
	if w.failAt > 0 && len(w.frames)+1 == w.failAt {
		return io.ErrClosedPipe
	}
	w.frames = append(w.frames, string(jpeg))
	return nil
}

func TestStreamAnnotatesEveryFrameInOrder(t *testing.T) {
	src := &fakeSource{total: 3}
	det := &scriptedDetector{}
	var results []FrameResult
	s := NewStream(src, det, StreamOptions{Observer: func(r FrameResult) { results = append(results, r) }}, logger.Nop())

	w := &recordingWriter{}
	test.That(t, s.Run(context.Background(), w), test.ShouldBeNil)
	test.That(t, w.frames, test.ShouldResemble, []string{
		"jpeg-1-boxes-1", "jpeg-2-boxes-1", "jpeg-3-boxes-1",
	})
	test.That(t, det.calls, test.ShouldEqual, 3)
	test.That(t, src.closed, test.ShouldEqual, 3)
	test.That(t, len(results), test.ShouldEqual, 3)
	test.That(t, results[2].Index, test.ShouldEqual, 2)
	test.That(t, results[0].Detections[0].Class, test.ShouldEqual, "person")
}

func TestStreamPolicies(t *testing.T) {
	failSecond := func(call int) bool { return call == 2 }

	t.Run("stop", func(t *testing.T) {
		w := &recordingWriter{}
		s := NewStream(&fakeSource{total: 3}, &scriptedDetector{fail: failSecond}, StreamOptions{Policy: PolicyStop}, logger.Nop())
		err := s.Run(context.Background(), w)
		test.That(t, errors.Is(err, ErrDetectRequest), test.ShouldBeTrue)
		test.That(t, w.frames, test.ShouldResemble, []string{"jpeg-1-boxes-1"})
	})

	t.Run("skip", func(t *testing.T) {
		w := &recordingWriter{}
		s := NewStream(&fakeSource{total: 3}, &scriptedDetector{fail: failSecond}, StreamOptions{Policy: PolicySkip}, logger.Nop())
		test.That(t, s.Run(context.Background(), w), test.ShouldBeNil)
		test.That(t, w.frames, test.ShouldResemble, []string{"jpeg-1-boxes-1", "jpeg-3-boxes-1"})
	})

	t.Run("raw", func(t *testing.T) {
		w := &recordingWriter{}
		s := NewStream(&fakeSource{total: 3}, &scriptedDetector{fail: failSecond}, StreamOptions{Policy: PolicyRaw}, logger.Nop())
		test.That(t, s.Run(context.Background(), w), test.ShouldBeNil)
		test.That(t, w.frames, test.ShouldResemble, []string{"jpeg-1-boxes-1", "jpeg-2-boxes-0", "jpeg-3-boxes-1"})
	})

	t.Run("retry recovers", func(t *testing.T) {
		w := &recordingWriter{}
		det := &scriptedDetector{fail: failSecond}
		opts := StreamOptions{Policy: PolicyRetry, RetryAttempts: 3, RetryInterval: time.Millisecond}
		s := NewStream(&fakeSource{total: 3}, det, opts, logger.Nop())
		test.That(t, s.Run(context.Background(), w), test.ShouldBeNil)
		test.That(t, len(w.frames), test.ShouldEqual, 3)
		test.That(t, det.calls, test.ShouldEqual, 4)
	})

	t.Run("retry gives up", func(t *testing.T) {
		w := &recordingWriter{}
		det := &scriptedDetector{fail: func(call int) bool { return call >= 2 }}
		opts := StreamOptions{Policy: PolicyRetry, RetryAttempts: 3, RetryInterval: time.Millisecond}
		s := NewStream(&fakeSource{total: 3}, det, opts, logger.Nop())
		err := s.Run(context.Background(), w)
		test.That(t, errors.Is(err, ErrDetectRequest), test.ShouldBeTrue)
		test.That(t, len(w.frames), test.ShouldEqual, 1)
		test.That(t, det.calls, test.ShouldEqual, 4)
	})
}

func TestStreamStopsWhenClientGoesAway(t *testing.T) {
	src := &fakeSource{total: 10}
	det := &scriptedDetector{}
	s := NewStream(src, det, StreamOptions{}, logger.Nop())

	err := s.Run(context.Background(), &recordingWriter{failAt: 2})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, det.calls, test.ShouldEqual, 2)
	test.That(t, src.next, test.ShouldEqual, 2)
}

func TestStreamHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	det := &scriptedDetector{}
	s := NewStream(&fakeSource{total: 5}, det, StreamOptions{}, logger.Nop())
	err := s.Run(ctx, &recordingWriter{})
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, det.calls, test.ShouldEqual, 0)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldEqual, PolicyStop)

	p, err = ParsePolicy(" RAW ")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldEqual, PolicyRaw)

	_, err = ParsePolicy("explode")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMJPEGWriterEnvelope(t *testing.T) {
	var buf bytes.Buffer
	w := NewMJPEGWriter(&buf)
	test.That(t, w.WriteFrame([]byte("AAA")), test.ShouldBeNil)
	test.That(t, w.WriteFrame([]byte("BBB")), test.ShouldBeNil)

	out := buf.String()
	test.That(t, strings.HasPrefix(out, "--frame\r\nContent-Type: image/jpeg\r\n\r\nAAA"), test.ShouldBeTrue)
	test.That(t, out, test.ShouldContainSubstring, "AAA\r\n--frame\r\nContent-Type: image/jpeg\r\n\r\nBBB")

	_, params, err := mime.ParseMediaType(ContentType)
	test.That(t, err, test.ShouldBeNil)
	mr := multipart.NewReader(strings.NewReader(out+"\r\n--frame--\r\n"), params["boundary"])
	var bodies []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		test.That(t, err, test.ShouldBeNil)
		test.That(t, part.Header.Get("Content-Type"), test.ShouldEqual, "image/jpeg")
		b, err := io.ReadAll(part)
		test.That(t, err, test.ShouldBeNil)
		bodies = append(bodies, string(b))
	}
	test.That(t, bodies, test.ShouldResemble, []string{"AAA", "BBB"})
}

func TestClientDetect(t *testing.T) {
	var gotName, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		test.That(t, r.URL.Path, test.ShouldEqual, "/detect")
		file, header, err := r.FormFile("image")
		test.That(t, err, test.ShouldBeNil)
		gotName = header.Filename
		gotType = header.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(file)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"class":"car","confidence":0.7,"box":[1,2,3,4]}]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	dets, err := c.Detect(context.Background(), []byte("jpegdata"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gotName, test.ShouldEqual, "frame.jpg")
	test.That(t, gotType, test.ShouldEqual, "image/jpeg")
	test.That(t, string(gotBody), test.ShouldEqual, "jpegdata")
	test.That(t, dets, test.ShouldResemble, []models.Detection{{Class: "car", Confidence: 0.7, Box: [4]int{1, 2, 3, 4}}})
}

func TestClientDetectErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no model", http.StatusServiceUnavailable)
	}))
	c := NewClient(srv.URL, time.Second)
	_, err := c.Detect(context.Background(), []byte("x"))
	test.That(t, errors.Is(err, ErrDetectRequest), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "503")

	srv.Close()
	_, err = c.Detect(context.Background(), []byte("x"))
	test.That(t, errors.Is(err, ErrDetectRequest), test.ShouldBeTrue)
}

func TestClientProxiesPassThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/switch_model":
			var req map[string]string
			test.That(t, json.NewDecoder(r.Body).Decode(&req), test.ShouldBeNil)
			if req["model"] != "yolov8s" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"error":"Invalid model name"}`)
				return
			}
			_, _ = io.WriteString(w, `{"message":"Switched to yolov8s"}`)
		case "/models":
			_, _ = io.WriteString(w, `["yolov8n","yolov8s"]`)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, time.Second)

	resp, err := c.SwitchModel(context.Background(), "yolov8s")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, string(resp.Body), test.ShouldEqual, `{"message":"Switched to yolov8s"}`)

	resp, err = c.SwitchModel(context.Background(), "nope")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)
	test.That(t, string(resp.Body), test.ShouldEqual, `{"error":"Invalid model name"}`)

	resp, err = c.ListModels(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.ContentType, test.ShouldEqual, "application/json")
	test.That(t, string(resp.Body), test.ShouldEqual, `["yolov8n","yolov8s"]`)
}
