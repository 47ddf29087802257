package structuring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/endrilickollari/ldp/internal/config"
	"github.com/endrilickollari/ldp/internal/models"
)

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(b)
}

func newTestClient(baseURL string, maxAttempts int) *Client {
	cfg := config.Config{
		StructuringBaseURL:     baseURL,
		StructuringAPIKey:      "test-key",
		StructuringModel:       "test-model",
		StructuringTimeout:     5 * time.Second,
		StructuringMaxAttempts: maxAttempts,
		StructuringBackoffBase: time.Millisecond,
		StructuringBackoffMax:  5 * time.Millisecond,
	}
	return NewClient(cfg, nil)
}

func TestStructureSuccess(t *testing.T) {
	var authHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader.Store(r.Header.Get("Authorization"))
		fmt.Fprint(w, completionBody(`{"document_type":"invoice","total":"99.50"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	got, err := c.Structure(context.Background(), "Invoice #42 total 99.50")
	if err != nil {
		t.Fatalf("Structure: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(got, &out); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if out["document_type"] != "invoice" {
		t.Errorf("result = %v", out)
	}
	if authHeader.Load() != "Bearer test-key" {
		t.Errorf("auth header = %v", authHeader.Load())
	}
}

func TestStructureRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, completionBody(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	got, err := c.Structure(context.Background(), "text")
	if err != nil {
		t.Fatalf("Structure: %v", err)
	}
	if string(got) != `{"ok":true}` {
		t.Errorf("result = %s", got)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestStructureExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	if _, err := c.Structure(context.Background(), "text"); err == nil {
		t.Fatal("Structure succeeded against failing upstream")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestStructureQuotaNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	_, err := c.Structure(context.Background(), "text")
	if err == nil {
		t.Fatal("Structure succeeded against 429")
	}
	if kind := models.FaultKind(err); kind != models.FaultUpstreamQuotaExceeded {
		t.Errorf("fault kind = %s, want %s", kind, models.FaultUpstreamQuotaExceeded)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on quota)", calls.Load())
	}
}

func TestStructureMalformedOutput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not json", content: "here is your invoice summary"},
		{name: "json array", content: `[1, 2, 3]`},
		{name: "json scalar", content: `"invoice"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, completionBody(tt.content))
			}))
			defer srv.Close()

			c := newTestClient(srv.URL, 2)
			_, err := c.Structure(context.Background(), "text")
			if err == nil {
				t.Fatal("Structure accepted malformed output")
			}
			if kind := models.FaultKind(err); kind != models.FaultMalformedResponse {
				t.Errorf("fault kind = %s, want %s", kind, models.FaultMalformedResponse)
			}
		})
	}
}

func TestStructureEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 1)
	_, err := c.Structure(context.Background(), "text")
	if kind := models.FaultKind(err); kind != models.FaultMalformedResponse {
		t.Errorf("fault kind = %s, want %s", kind, models.FaultMalformedResponse)
	}
}

func TestStructureBodyReadTimeout(t *testing.T) {
	// Headers arrive promptly, the body never does.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 1)
	c.timeout = 50 * time.Millisecond
	_, err := c.Structure(context.Background(), "text")
	if err == nil {
		t.Fatal("Structure succeeded against a stalled body")
	}
	if kind := models.FaultKind(err); kind != models.FaultTimeout {
		t.Errorf("fault kind = %s, want %s", kind, models.FaultTimeout)
	}
}

func TestClampPromptKeepsRunesWhole(t *testing.T) {
	if got := clampPrompt("short"); got != "short" {
		t.Errorf("short prompt changed: %q", got)
	}

	// Three-byte runes straddle the byte limit.
	long := strings.Repeat("a", maxPromptChars-1) + strings.Repeat("批", 10)
	got := clampPrompt(long)
	if len(got) > maxPromptChars {
		t.Errorf("clamped length = %d, want <= %d", len(got), maxPromptChars)
	}
	if !utf8.ValidString(got) {
		t.Error("clamped prompt is not valid UTF-8")
	}
	if len(got) != maxPromptChars-1 {
		t.Errorf("clamped length = %d, want %d (cut lands mid-rune)", len(got), maxPromptChars-1)
	}
}

func TestPolicyDelayBounded(t *testing.T) {
	p := Policy{MaxAttempts: 5, BackoffBase: time.Second, BackoffMax: 4 * time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.delay(attempt)
		if d < 0 || d > p.BackoffMax {
			t.Errorf("delay(%d) = %s out of bounds", attempt, d)
		}
	}
}
