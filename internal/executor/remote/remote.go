// Package remote talks to the execution service over HTTP.
//
// The service exposes a small JSON API:
//
//	POST   /run                     execute code (optionally bound to a notebook session)
//	POST   /upload                  store a dataset (multipart field "file")
//	DELETE /upload/{filename}       remove a dataset
//	DELETE /notebook/reset/{id}     drop the interpreter bound to a session
//	GET    /api/health              liveness probe
//
// Client turns every failure into one of the apperror execution errors so the
// layers above never see raw net/http errors:
//   - deadline exceeded           → apperror.ErrTimeout
//   - dial/read failures, non-2xx → apperror.ErrTransport
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/notebook-playground/internal/apperror"
	"github.com/sakif/notebook-playground/internal/executor"
)

var (
	_ executor.Executor        = (*Client)(nil)
	_ executor.Datasets        = (*Client)(nil)
	_ executor.SessionResetter = (*Client)(nil)
)

// Config configures a Client.
type Config struct {
	// BaseURL of the execution service, e.g. "http://localhost:8000".
	BaseURL string
	// RequestTimeout bounds the auxiliary calls (upload, delete, reset, health).
	// Runs are bounded by the caller's context instead.
	RequestTimeout time.Duration
	// HTTPClient overrides the default client. Useful in tests.
	HTTPClient *http.Client
}

// Client implements executor.Executor, executor.Datasets and
// executor.SessionResetter against the execution service.
type Client struct {
	base           *url.URL
	http           *http.Client
	requestTimeout time.Duration
	logger         *slog.Logger
}

// New validates the base URL and returns a Client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("remote: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parsing base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported scheme %q", base.Scheme)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		base:           base,
		http:           hc,
		requestTimeout: timeout,
		logger:         logger,
	}, nil
}

// BaseURL returns the service address the client was built with.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Execute sends a run request. A response with success=false is returned as a
// result, not an error: the service ran the code and the failure belongs to it.
func (c *Client) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("remote: encoding run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("run"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote: building run request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var result executor.ExecutionResult
	if err := c.do(httpReq, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Upload stores a dataset on the service. The caller is expected to have
// validated name and size already.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (*executor.UploadedFile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("remote: creating form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("remote: reading upload content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("remote: closing multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("upload"), &buf)
	if err != nil {
		return nil, fmt.Errorf("remote: building upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var uploaded executor.UploadedFile
	if err := c.do(httpReq, &uploaded); err != nil {
		return nil, err
	}
	return &uploaded, nil
}

// DeleteUpload removes a dataset. A 404 from the service becomes apperror.ErrNotFound.
func (c *Client) DeleteUpload(ctx context.Context, filename string) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("upload", filename), nil)
	if err != nil {
		return fmt.Errorf("remote: building delete request: %w", err)
	}
	return c.do(httpReq, nil)
}

// ResetSession drops the service-side interpreter for sessionID. Resetting an
// unknown session is not an error; the service answers 200 either way.
func (c *Client) ResetSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("notebook", "reset", sessionID), nil)
	if err != nil {
		return fmt.Errorf("remote: building reset request: %w", err)
	}
	return c.do(httpReq, nil)
}

// Health probes GET /api/health.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("api", "health"), nil)
	if err != nil {
		return fmt.Errorf("remote: building health request: %w", err)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.do(httpReq, &body); err != nil {
		return err
	}
	if body.Status != "healthy" {
		return apperror.Transport(fmt.Errorf("service reports status %q", body.Status))
	}
	return nil
}

func (c *Client) endpoint(segments ...string) string {
	return c.base.JoinPath(segments...).String()
}

// errorBody is the service's error envelope: {"detail": "..."}.
type errorBody struct {
	Detail any `json:"detail"`
}

// do sends req and decodes a 2xx JSON body into out (if non-nil).
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return classify(err)
	}

	if resp.StatusCode == http.StatusNotFound && req.Method == http.MethodDelete {
		return &apperror.AppError{
			Err:     apperror.ErrNotFound,
			Message: detailMessage(data, "resource not found"),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := detailMessage(data, http.StatusText(resp.StatusCode))
		c.logger.Warn("execution service returned an error status",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("status", resp.StatusCode),
			slog.String("detail", msg),
		)
		return apperror.Transport(fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperror.Transport(fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// classify maps a net/http failure to a timeout or transport error.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.Timeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperror.Timeout(err)
	}
	return apperror.Transport(unwrapURLError(err))
}

// unwrapURLError strips the `Post "http://...": ` prefix net/http adds.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}

func detailMessage(data []byte, fallback string) string {
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Detail != nil {
		switch d := body.Detail.(type) {
		case string:
			return d
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
	}
	if s := strings.TrimSpace(string(data)); s != "" && len(s) < 512 {
		return s
	}
	return fallback
}
