package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"lathe/internal/progress"
)

const (
	watchScanBuffer    = 1 << 20
	watchReconnectWait = time.Second
)

// WatchBatch follows a batch's progress stream, invoking fn for every record
// including heartbeats. It returns nil once the daemon closes the stream
// after the terminal batch event. Dropped connections are reopened; the
// daemon replays an authoritative snapshot on each connect.
func (c *Client) WatchBatch(ctx context.Context, id string, fn func(progress.Event)) error {
	return c.watch(ctx, "/api/batches/"+url.PathEscape(id)+"/events", fn)
}

// WatchTask follows a single task's progress stream.
func (c *Client) WatchTask(ctx context.Context, id int64, fn func(progress.Event)) error {
	return c.watch(ctx, "/api/tasks/"+strconv.FormatInt(id, 10)+"/events", fn)
}

func (c *Client) watch(ctx context.Context, path string, fn func(progress.Event)) error {
	if c == nil {
		return ErrDaemonUnavailable
	}
	for {
		connected, err := c.streamOnce(ctx, path, fn)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case !connected:
			// Never reached the daemon; surface the failure instead of
			// retrying forever.
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(watchReconnectWait):
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, path string, fn func(progress.Event)) (bool, error) {
	endpoint := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), watchScanBuffer)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt progress.Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return true, fmt.Errorf("decode stream record: %w", err)
		}
		fn(evt)
	}
	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("read stream: %w", err)
	}
	return true, nil
}
