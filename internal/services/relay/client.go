// Package relay forwards camera frames to the detection service and turns the
// answers into an annotated MJPEG stream.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/pkg/errors"

	"visionrelay/internal/models"
)

// ErrDetectRequest marks a failed round-trip to the detection service.
var ErrDetectRequest = errors.New("detection request failed")

// maxResponseBytes caps how much of an upstream body is read.
const maxResponseBytes = 8 << 20

// ProxyResponse is an upstream answer passed through unchanged.
type ProxyResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client talks to the detection service HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL. A zero timeout means none.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL is the detection service root the client posts to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Detect uploads one JPEG frame as the "image" form field and returns the
// parsed detections.
func (c *Client) Detect(ctx context.Context, jpeg []byte) ([]models.Detection, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="frame.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build upload")
	}
	if _, err := part.Write(jpeg); err != nil {
		return nil, errors.Wrap(err, "failed to build upload")
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to build upload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", &body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create detect request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrDetectRequest, "status %d: %s", resp.StatusCode, bytes.TrimSpace(resp.Body))
	}

	var detections []models.Detection
	if err := json.Unmarshal(resp.Body, &detections); err != nil {
		return nil, errors.Wrapf(ErrDetectRequest, "malformed detection list: %v", err)
	}
	return detections, nil
}

// SwitchModel forwards a model switch and returns the upstream answer verbatim.
func (c *Client) SwitchModel(ctx context.Context, name string) (*ProxyResponse, error) {
	payload, err := json.Marshal(map[string]string{"model": name})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode switch request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/switch_model", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create switch request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// ListModels forwards a model listing and returns the upstream answer verbatim.
func (c *Client) ListModels(ctx context.Context) (*ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create models request")
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*ProxyResponse, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrDetectRequest, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(ErrDetectRequest, fmt.Sprintf("reading %s response: %v", req.URL.Path, err))
	}
	return &ProxyResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
