package relay

import (
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/pkg/errors"
)

// Boundary separates the JPEG parts of the video feed.
const Boundary = "frame"

// ContentType is the response type of the video feed.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// FrameWriter receives finished JPEG frames.
type FrameWriter interface {
	WriteFrame(jpeg []byte) error
}

// MJPEGWriter wraps each frame in a "--frame" / "Content-Type: image/jpeg"
// envelope and flushes it to the client immediately.
type MJPEGWriter struct {
	mw      *multipart.Writer
	flusher http.Flusher
}

// NewMJPEGWriter writes parts to w; if w is an http.Flusher every part is flushed.
func NewMJPEGWriter(w io.Writer) *MJPEGWriter {
	mw := multipart.NewWriter(w)
	// "frame" is a valid boundary, SetBoundary cannot fail on it.
	_ = mw.SetBoundary(Boundary)
	flusher, _ := w.(http.Flusher)
	return &MJPEGWriter{mw: mw, flusher: flusher}
}

func (m *MJPEGWriter) WriteFrame(jpeg []byte) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", "image/jpeg")
	part, err := m.mw.CreatePart(header)
	if err != nil {
		return errors.Wrap(err, "failed to start frame part")
	}
	if _, err := part.Write(jpeg); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	if m.flusher != nil {
		m.flusher.Flush()
	}
	return nil
}
