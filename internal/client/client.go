package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"lathe/internal/api"
	"lathe/internal/services"
)

var ErrDaemonUnavailable = errors.New("lathe daemon unavailable")

// Client issues requests against the daemon HTTP API.
type Client struct {
	base *url.URL
	http *http.Client
}

// New builds a client for the given bind address. An empty bind yields a nil
// client whose methods report the daemon as unavailable.
func New(bind string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base: base,
		// No timeout: the watch endpoints block for the life of the stream.
		http: &http.Client{},
	}, nil
}

// IsDaemonUnavailable reports whether the error means no daemon answered.
func IsDaemonUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrDaemonUnavailable) || errors.As(err, &opErr)
}

// Submit creates a batch from inputs the daemon can already reach.
func (c *Client) Submit(ctx context.Context, req api.SubmitRequest) (api.SubmitResponse, error) {
	var out api.SubmitResponse
	if c == nil {
		return out, ErrDaemonUnavailable
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return out, err
	}
	err = c.do(ctx, http.MethodPost, "/api/batches", "application/json", bytes.NewReader(payload), &out)
	return out, err
}

// SubmitFiles uploads local files for processing. The daemon stages them
// before fanning the batch out.
func (c *Client) SubmitFiles(ctx context.Context, paths []string, kind, detail string) (api.SubmitResponse, error) {
	var out api.SubmitResponse
	if c == nil {
		return out, ErrDaemonUnavailable
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if strings.TrimSpace(kind) != "" {
		if err := writer.WriteField("kind", kind); err != nil {
			return out, err
		}
	}
	if strings.TrimSpace(detail) != "" {
		if err := writer.WriteField("detail", detail); err != nil {
			return out, err
		}
	}
	for _, path := range paths {
		if err := appendFile(writer, path); err != nil {
			return out, err
		}
	}
	if err := writer.Close(); err != nil {
		return out, err
	}

	err := c.do(ctx, http.MethodPost, "/api/batches", writer.FormDataContentType(), &buf, &out)
	return out, err
}

func appendFile(writer *multipart.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()
	part, err := writer.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// Batch fetches one batch with its member tasks.
func (c *Client) Batch(ctx context.Context, id string) (api.BatchResponse, error) {
	var out api.BatchResponse
	if c == nil {
		return out, ErrDaemonUnavailable
	}
	err := c.do(ctx, http.MethodGet, "/api/batches/"+url.PathEscape(id), "", nil, &out)
	return out, err
}

// Batches lists batches, optionally filtered to the given statuses.
func (c *Client) Batches(ctx context.Context, statuses ...string) (api.BatchListResponse, error) {
	var out api.BatchListResponse
	if c == nil {
		return out, ErrDaemonUnavailable
	}
	path := "/api/batches"
	if len(statuses) > 0 {
		path += "?status=" + url.QueryEscape(strings.Join(statuses, ","))
	}
	err := c.do(ctx, http.MethodGet, path, "", nil, &out)
	return out, err
}

// Task fetches one task.
func (c *Client) Task(ctx context.Context, id int64) (api.TaskResponse, error) {
	var out api.TaskResponse
	if c == nil {
		return out, ErrDaemonUnavailable
	}
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+strconv.FormatInt(id, 10), "", nil, &out)
	return out, err
}

// CancelBatch requests cancellation of every live task in a batch.
func (c *Client) CancelBatch(ctx context.Context, id string) (api.CancelResponse, error) {
	var out api.CancelResponse
	if c == nil {
		return out, ErrDaemonUnavailable
	}
	err := c.do(ctx, http.MethodPost, "/api/batches/"+url.PathEscape(id)+"/cancel", "", nil, &out)
	return out, err
}

// CancelTask requests cancellation of a single task.
func (c *Client) CancelTask(ctx context.Context, id int64) (api.CancelResponse, error) {
	var out api.CancelResponse
	if c == nil {
		return out, ErrDaemonUnavailable
	}
	err := c.do(ctx, http.MethodPost, "/api/tasks/"+strconv.FormatInt(id, 10)+"/cancel", "", nil, &out)
	return out, err
}

// Shutdown asks the daemon process to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	if c == nil {
		return ErrDaemonUnavailable
	}
	return c.do(ctx, http.MethodPost, "/api/shutdown", "", nil, nil)
}

// Status fetches daemon runtime information.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	if c == nil {
		return out, ErrDaemonUnavailable
	}
	err := c.do(ctx, http.MethodGet, "/api/status", "", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	endpoint := c.base.ResolveReference(&url.URL{Path: strings.SplitN(path, "?", 2)[0]})
	if idx := strings.Index(path, "?"); idx >= 0 {
		endpoint.RawQuery = path[idx+1:]
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError rebuilds a classified error from the daemon's error payload so
// callers can distinguish bad requests from missing resources.
func decodeError(resp *http.Response) error {
	var payload api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload); err != nil || payload.Error == "" {
		payload.Error = fmt.Sprintf("daemon returned status %d", resp.StatusCode)
	}
	marker := services.ErrTransient
	switch services.Kind(payload.Kind) {
	case services.KindNotFound:
		marker = services.ErrNotFound
	case services.KindValidation:
		marker = services.ErrValidation
	case services.KindCapacity:
		marker = services.ErrCapacity
	case services.KindConfiguration:
		marker = services.ErrConfiguration
	case services.KindTimeout:
		marker = services.ErrTimeout
	}
	return fmt.Errorf("%w: %s", marker, payload.Error)
}
