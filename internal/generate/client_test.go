package generate_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lathe/internal/generate"
	"lathe/internal/services"
	"lathe/internal/testsupport"
)

func newClient(t *testing.T, handler http.Handler) *generate.HTTP {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := testsupport.NewConfig(t, testsupport.WithGeneratorURL(server.URL))
	return generate.NewHTTP(cfg)
}

func TestGenerateStreamsProgress(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/generate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"event":"progress","percent":25,"stage":"analyze","message":"reading input"}`)
		fmt.Fprintln(w, `{"event":"progress","percent":80,"stage":"render","message":"rendering"}`)
		fmt.Fprintln(w, `{"event":"complete","output_ref":"outputs/a.bin"}`)
	}))

	var updates []generate.Update
	result, err := client.Generate(context.Background(), generate.Request{InputRef: "inputs/a.txt", Kind: "convert"}, func(u generate.Update) {
		updates = append(updates, u)
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.OutputRef != "outputs/a.bin" {
		t.Fatalf("unexpected output ref %q", result.OutputRef)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 progress updates, got %d", len(updates))
	}
	if updates[0].Percent != 25 || updates[1].Stage != "render" {
		t.Fatalf("unexpected updates: %#v", updates)
	}
}

func TestGenerateServiceErrorLineIsPermanent(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"event":"progress","percent":10}`)
		fmt.Fprintln(w, `{"event":"error","error":"unsupported input format"}`)
	}))

	_, err := client.Generate(context.Background(), generate.Request{InputRef: "inputs/a.txt", Kind: "convert"}, nil)
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestGenerateTruncatedStreamIsTransient(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"event":"progress","percent":10}`)
	}))

	_, err := client.Generate(context.Background(), generate.Request{InputRef: "inputs/a.txt", Kind: "convert"}, nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestGenerateClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		marker error
	}{
		{http.StatusBadRequest, services.ErrPermanent},
		{http.StatusTooManyRequests, services.ErrCapacity},
		{http.StatusServiceUnavailable, services.ErrTransient},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			_, err := client.Generate(context.Background(), generate.Request{InputRef: "inputs/a.txt", Kind: "convert"}, nil)
			if !errors.Is(err, tc.marker) {
				t.Fatalf("status %d: expected %v, got %v", tc.status, tc.marker, err)
			}
		})
	}
}

func TestGenerateCallTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithGeneratorURL(server.URL))
	client := generate.NewHTTP(cfg, generate.WithCallTimeout(50*time.Millisecond))

	_, err := client.Generate(context.Background(), generate.Request{InputRef: "inputs/a.txt", Kind: "convert"}, nil)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestGenerateRequiresInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client := generate.NewHTTP(cfg)
	if _, err := client.Generate(context.Background(), generate.Request{}, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
