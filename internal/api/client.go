// internal/api/client.go
package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const snapshotsPath = "/api/v1/breakage/snapshots"

// UploadMetadata describes a snapshot file sent to the relay.
type UploadMetadata struct {
	Level   string
	Events  int
	Objects int
	Host    string
}

func (m UploadMetadata) fields() [][2]string {
	return [][2]string{
		{"level", m.Level},
		{"events", strconv.Itoa(m.Events)},
		{"objects", strconv.Itoa(m.Objects)},
		{"host", m.Host},
	}
}

// StatusError is returned when the relay answers with an unexpected code.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: relay returned %d %s", e.Op, e.Code, http.StatusText(e.Code))
}

// Client talks to the relay's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(req *http.Request, op string, ok ...int) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}
	return &StatusError{Op: op, Code: resp.StatusCode}
}

// Healthcheck reports whether the relay answers on /healthcheck.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return err
	}
	return c.do(req, "healthcheck", http.StatusOK)
}

// UploadSnapshot streams a snapshot file to the relay as a multipart form
// so joining peers can fetch it.
func (c *Client) UploadSnapshot(ctx context.Context, path string, meta UploadMetadata) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(c.writeForm(form, filepath.Base(path), f, meta))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+snapshotsPath, pr)
	if err != nil {
		_ = pr.Close()
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	return c.do(req, "upload", http.StatusOK, http.StatusCreated)
}

func (c *Client) writeForm(form *multipart.Writer, name string, body io.Reader, meta UploadMetadata) error {
	fields := append([][2]string{{"secret", c.apiKey}, {"filename", name}}, meta.fields()...)
	for _, kv := range fields {
		if err := form.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return fmt.Errorf("copying snapshot: %w", err)
	}
	return form.Close()
}
