// Package parser turns extracted resume text into structured JSON through an
// OpenAI-compatible chat completion API.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joshu-sajeev/resumeflow/common"
	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const maxResponseBytes = 4 << 20

// statusError is a non-2xx answer from the API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("parser status %d: %s", e.code, e.body)
}

// rejected reports whether the API refused this particular input. Those
// answers say nothing about the health of the service.
func (e *statusError) rejected() bool {
	switch e.code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

type Client struct {
	cfg        config.ParserConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        *zap.Logger
}

func NewClient(cfg config.ParserConfig, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		log:        log,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ai-parser",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerOpenDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			var se *statusError
			return err == nil || (errors.As(err, &se) && se.rejected())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("parser circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return c
}

// Parse sends text to the model and returns the JSON document it produced.
// The output is untrusted; run it through Validate before use.
func (c *Client) Parse(ctx context.Context, text string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     0,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt},
			{"role": "system", "content": "JSON Schema:\n" + SchemaJSON()},
			{"role": "user", "content": "Resume text:\n\n" + text},
		},
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		failure := classify(ctx, err)
		c.log.Warn("parser call failed",
			zap.String("error_type", string(failure.Type)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, failure
	}

	content, err := decodeEnvelope(out.([]byte))
	if err != nil {
		return nil, err
	}

	c.log.Debug("parser call ok",
		zap.Int("text_len", len(text)),
		zap.Int("output_len", len(content)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return content, nil
}

func (c *Client) post(ctx context.Context, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("parser http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read parser response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: truncateBody(raw)}
	}
	return raw, nil
}

// classify maps a failed call onto the pipeline error taxonomy.
func classify(ctx context.Context, err error) *common.Failure {
	var se *statusError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return common.Fail(config.ErrorTypeParserUnavailable, "parser unavailable", err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return common.Fail(config.ErrorTypeParserTimeout, "parser timed out", err)
	case errors.As(err, &se) && se.rejected():
		return common.Fail(config.ErrorTypeParserRejected, "parser rejected the resume", err)
	default:
		return common.Fail(config.ErrorTypeParserUnavailable, "parser unavailable", err)
	}
}

func decodeEnvelope(raw []byte) (json.RawMessage, error) {
	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, common.Fail(config.ErrorTypeParserInvalidOutput, "parser returned an unreadable response", err)
	}
	if len(cc.Choices) == 0 {
		return nil, common.Fail(config.ErrorTypeParserInvalidOutput, "parser returned no choices", nil)
	}

	content := strings.TrimSpace(cc.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if !json.Valid([]byte(content)) {
		return nil, common.Fail(config.ErrorTypeParserInvalidOutput, "parser output is not JSON", nil)
	}
	return json.RawMessage(content), nil
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
