// Package structuring sends extracted text to an OpenAI-compatible
// chat/completions endpoint and returns the structured JSON object the model
// produces.
package structuring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/endrilickollari/ldp/internal/config"
	"github.com/endrilickollari/ldp/internal/models"
	"github.com/endrilickollari/ldp/internal/telemetry"
)

// Structurer turns page text into a structured JSON object.
type Structurer interface {
	Structure(ctx context.Context, text string) (json.RawMessage, error)
}

// The model must return a JSON object, not an array or scalar.
var objectSchema = jsonschema.MustCompileString("object.json", `{"type": "object"}`)

const maxPromptChars = 12000

const systemPrompt = "You are a document parser. Analyze the document text and return ONLY a single JSON object " +
	"capturing its structured content: document type, parties, dates, line items, amounts, totals, and any " +
	"other fields present. Use ISO-8601 dates (YYYY-MM-DD). Never output null; omit absent fields."

// Client calls the chat/completions API with retry and backoff.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	timeout     time.Duration
	policy      Policy
	log         *slog.Logger
}

func NewClient(cfg config.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient:  &http.Client{},
		baseURL:     strings.TrimRight(cfg.StructuringBaseURL, "/"),
		apiKey:      cfg.StructuringAPIKey,
		model:       cfg.StructuringModel,
		temperature: cfg.StructuringTemperature,
		timeout:     cfg.StructuringTimeout,
		policy: Policy{
			MaxAttempts: cfg.StructuringMaxAttempts,
			BackoffBase: cfg.StructuringBackoffBase,
			BackoffMax:  cfg.StructuringBackoffMax,
		},
		log: logger,
	}
}

func (c *Client) Structure(ctx context.Context, text string) (json.RawMessage, error) {
	text = clampPrompt(text)

	attempts := c.policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		result, err := c.once(ctx, text)
		if err == nil {
			c.log.Debug("structuring ok",
				"attempt", attempt,
				"elapsed_ms", time.Since(start).Milliseconds(),
				"result_bytes", len(result),
			)
			return result, nil
		}
		lastErr = err

		// Provider quota rejections never recover within the retry window.
		if models.FaultKind(err) == models.FaultUpstreamQuotaExceeded {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, models.Faultf(models.FaultTimeout, "structuring aborted: %v", ctx.Err())
		}
		if attempt == attempts {
			break
		}

		wait := c.policy.delay(attempt)
		c.log.Warn("structuring attempt failed",
			"attempt", attempt,
			"error", err,
			"retry_in", wait,
		)
		telemetry.StructuringRetries.Inc()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, models.Faultf(models.FaultTimeout, "structuring aborted: %v", ctx.Err())
		}
	}
	return nil, lastErr
}

// once performs a single chat/completions round trip.
func (c *Client) once(ctx context.Context, text string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := map[string]any{
		"model":           c.model,
		"temperature":     c.temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": "Document text:\n\n" + text},
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
			return nil, models.Faultf(models.FaultTimeout, "structuring request timed out after %s", c.timeout)
		}
		return nil, fmt.Errorf("structuring http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, models.Faultf(models.FaultTimeout, "structuring request timed out after %s", c.timeout)
		}
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, models.Faultf(models.FaultUpstreamQuotaExceeded, "structuring provider rejected the request with status 429")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("structuring status %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, models.Faultf(models.FaultMalformedResponse, "decode completion envelope: %v", err)
	}
	if len(cc.Choices) == 0 {
		return nil, models.Faultf(models.FaultMalformedResponse, "completion contains no choices")
	}

	content := strings.TrimSpace(cc.Choices[0].Message.Content)
	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, models.Faultf(models.FaultMalformedResponse, "model output is not valid JSON: %v", err)
	}
	if err := objectSchema.Validate(v); err != nil {
		return nil, models.Faultf(models.FaultMalformedResponse, "model output is not a JSON object")
	}
	return json.RawMessage(content), nil
}

// clampPrompt caps the prompt without splitting a multi-byte rune at the cut.
func clampPrompt(text string) string {
	if len(text) <= maxPromptChars {
		return text
	}
	cut := maxPromptChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
