// Package remote drives a renderer that runs as a separate HTTP service
// exposing POST /render (scene JSON in, raw RGBA out) and /renderSize.
package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pyro/internal/pkg/errors"
)

// DefaultTimeout bounds a single remote call.
const DefaultTimeout = 10 * time.Minute

// StatusError is a non-2xx answer from the remote renderer. Its native code is
// the HTTP status.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("renderer %s: http %d", e.Path, e.Status)
	}
	return fmt.Sprintf("renderer %s: http %d: %s", e.Path, e.Status, e.Body)
}

func (e *StatusError) NativeCode() int { return e.Status }

type size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// HTTPClient implements the native renderer contract over HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Init checks that the remote renderer answers. Resources live with the
// remote service, so the root is not used.
func (c *HTTPClient) Init(string) error {
	if _, _, err := c.Size(); err != nil {
		return errors.ResourceUnavailable("remote renderer unreachable").
			WithField("base_url", c.baseURL).
			WithField("cause", err.Error())
	}
	return nil
}

// Size returns the remote renderer's current resolution.
func (c *HTTPClient) Size() (width, height int, err error) {
	var s size
	body, err := c.do(http.MethodGet, "/renderSize", nil)
	if err != nil {
		return 0, 0, err
	}
	if err := json.Unmarshal(body, &s); err != nil {
		return 0, 0, fmt.Errorf("renderer /renderSize: %w", err)
	}
	return s.Width, s.Height, nil
}

// SetResolution asks the remote renderer to resize. Renderers without a
// resize endpoint are accepted when they already run at the requested size.
func (c *HTTPClient) SetResolution(width, height int) error {
	body, _ := json.Marshal(size{Width: width, Height: height})
	_, err := c.do(http.MethodPut, "/renderSize", body)

	var se *StatusError
	if errors.As(err, &se) && (se.Status == http.StatusNotFound || se.Status == http.StatusMethodNotAllowed) {
		w, h, serr := c.Size()
		if serr != nil {
			return serr
		}
		if w != width || h != height {
			return &StatusError{
				Path:   "/renderSize",
				Status: se.Status,
				Body:   fmt.Sprintf("fixed at %dx%d", w, h),
			}
		}
		return nil
	}
	return err
}

// Render posts the scene and returns the raw frame.
func (c *HTTPClient) Render(scene []byte) ([]byte, error) {
	return c.do(http.MethodPost, "/render", scene)
}

func (c *HTTPClient) Shutdown() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) do(method, path string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, &StatusError{Path: path, Status: res.StatusCode, Body: msg}
	}
	return data, nil
}
