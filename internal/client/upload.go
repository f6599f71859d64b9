package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"lathe/internal/api"
)

const uploadChunkSize = 64 * 1024

// SubmitFile streams one local file to the daemon as a multipart submission.
// report, when non-nil, receives the sent and total byte counts after every
// chunk. Cancelling the context aborts the transfer at the next chunk
// boundary.
func (c *Client) SubmitFile(ctx context.Context, path, kind, detail string, report func(sent, total int64)) (api.SubmitResponse, error) {
	var out api.SubmitResponse
	if c == nil {
		return out, ErrDaemonUnavailable
	}
	info, err := os.Stat(path)
	if err != nil {
		return out, fmt.Errorf("stat %s: %w", path, err)
	}
	total := info.Size()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		err := writeSubmitForm(ctx, writer, path, kind, detail, total, report)
		if closeErr := writer.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	endpoint := c.base.ResolveReference(&url.URL{Path: "/api/batches"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), pr)
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return out, decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func writeSubmitForm(ctx context.Context, writer *multipart.Writer, path, kind, detail string, total int64, report func(sent, total int64)) error {
	if strings.TrimSpace(kind) != "" {
		if err := writer.WriteField("kind", kind); err != nil {
			return err
		}
	}
	if strings.TrimSpace(detail) != "" {
		if err := writer.WriteField("detail", detail); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	buf := make([]byte, uploadChunkSize)
	var sent int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := file.Read(buf)
		if n > 0 {
			if _, err := part.Write(buf[:n]); err != nil {
				return err
			}
			sent += int64(n)
			if report != nil {
				report(sent, total)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read %s: %w", path, readErr)
		}
	}
}
