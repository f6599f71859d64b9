package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"lathe/internal/config"
	"lathe/internal/services"
)

// Update captures a progress event emitted while a request runs.
type Update struct {
	Percent float64
	Stage   string
	Message string
}

// Request describes one unit of work sent to the generation service.
type Request struct {
	InputRef string
	Kind     string
	Detail   string
}

// Result is returned once the service finishes a request.
type Result struct {
	OutputRef string
	Duration  time.Duration
}

// Client defines generation service behaviour.
type Client interface {
	Generate(ctx context.Context, req Request, progress func(Update)) (*Result, error)
}

// Option configures the HTTP client.
type Option func(*HTTP)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTP) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithCallTimeout overrides the per-call deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(c *HTTP) {
		c.callTimeout = d
	}
}

// HTTP talks to the generation service over its streaming endpoint.
type HTTP struct {
	baseURL     string
	apiKey      string
	callTimeout time.Duration
	limiter     *rate.Limiter
	httpClient  *http.Client
}

// NewHTTP constructs an HTTP client from configuration.
func NewHTTP(cfg *config.Config, opts ...Option) *HTTP {
	client := &HTTP{
		baseURL:     strings.TrimRight(cfg.Generator.BaseURL, "/"),
		apiKey:      cfg.Generator.APIKey,
		callTimeout: time.Duration(cfg.Generator.CallTimeout) * time.Second,
		limiter:     rate.NewLimiter(rate.Limit(cfg.Generator.RequestsPerSec), cfg.Generator.Burst),
		httpClient:  &http.Client{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type generatePayload struct {
	Input  string `json:"input"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

type streamLine struct {
	Event     string  `json:"event"`
	Percent   float64 `json:"percent"`
	Stage     string  `json:"stage"`
	Message   string  `json:"message"`
	OutputRef string  `json:"output_ref"`
	Error     string  `json:"error"`
}

// Generate submits the request and consumes the service's progress stream
// until a terminal line arrives. Progress callbacks run on the caller's
// goroutine in stream order.
func (c *HTTP) Generate(ctx context.Context, req Request, progress func(Update)) (*Result, error) {
	if strings.TrimSpace(req.InputRef) == "" {
		return nil, services.Wrap(services.ErrValidation, "generate", "request", "input reference required", nil)
	}
	if c.baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "generate", "request", "generator base URL not configured", nil)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classify("rate limit", err)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if c.callTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	started := time.Now()
	body, err := json.Marshal(generatePayload{Input: req.InputRef, Kind: req.Kind, Detail: req.Detail})
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "generate", "request", "encode request payload", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "generate", "request", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify("call generation service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var payload streamLine
		if err := json.Unmarshal(line, &payload); err != nil {
			continue
		}
		switch payload.Event {
		case "progress", "":
			if progress != nil {
				progress(Update{Percent: payload.Percent, Stage: payload.Stage, Message: payload.Message})
			}
		case "complete":
			return &Result{OutputRef: payload.OutputRef, Duration: time.Since(started)}, nil
		case "error":
			message := payload.Error
			if message == "" {
				message = "generation service reported failure"
			}
			return nil, services.Wrap(services.ErrPermanent, "generate", "stream", message, nil)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, classify("read generation stream", err)
	}

	return nil, services.Wrap(services.ErrTransient, "generate", "stream", "stream ended without completion", nil)
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	message := fmt.Sprintf("generation service returned %s", resp.Status)
	if len(bytes.TrimSpace(snippet)) > 0 {
		message = fmt.Sprintf("%s: %s", message, bytes.TrimSpace(snippet))
	}
	marker := services.ErrTransient
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		marker = services.ErrCapacity
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		marker = services.ErrPermanent
	}
	return services.Wrap(marker, "generate", "request", message, nil)
}

func classify(operation string, err error) error {
	marker := services.ErrTransient
	if errors.Is(err, context.DeadlineExceeded) {
		marker = services.ErrTimeout
	}
	return services.Wrap(marker, "generate", operation, err.Error(), err)
}

var _ Client = (*HTTP)(nil)
