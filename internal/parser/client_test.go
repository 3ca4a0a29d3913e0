package parser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshu-sajeev/resumeflow/common"
	"github.com/joshu-sajeev/resumeflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const validResume = `{"basics":{"name":"Ada Lovelace","email":"ada@example.com"},` +
	`"work":[{"company":"Analytical Engines","position":"Engineer"}],` +
	`"education":[],"skills":[{"name":"Mathematics"}]}`

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"content": content}}},
	})
	return string(b)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...func(*config.ParserConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.ParserConfig{
		BaseURL:          srv.URL + "/v1",
		APIKey:           "secret",
		Model:            "test-model",
		Timeout:          2 * time.Second,
		BreakerFailures:  3,
		BreakerOpenDelay: time.Minute,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return NewClient(cfg, zap.NewNop())
}

func TestClient_Parse(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		delay    time.Duration
		wantType config.ErrorType
	}{
		{name: "success", status: http.StatusOK, body: completion(validResume)},
		{name: "fenced json", status: http.StatusOK, body: completion("```json\n" + validResume + "\n```")},
		{name: "server error", status: http.StatusBadGateway, body: "bad gateway", wantType: config.ErrorTypeParserUnavailable},
		{name: "rate limited", status: http.StatusTooManyRequests, body: "slow down", wantType: config.ErrorTypeParserUnavailable},
		{name: "input too large", status: http.StatusRequestEntityTooLarge, body: "too big", wantType: config.ErrorTypeParserRejected},
		{name: "bad request", status: http.StatusBadRequest, body: "nope", wantType: config.ErrorTypeParserRejected},
		{name: "broken envelope", status: http.StatusOK, body: "{", wantType: config.ErrorTypeParserInvalidOutput},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantType: config.ErrorTypeParserInvalidOutput},
		{name: "content not json", status: http.StatusOK, body: completion("Sure! Here is the resume"), wantType: config.ErrorTypeParserInvalidOutput},
		{name: "timeout", status: http.StatusOK, body: completion(validResume), delay: 300 * time.Millisecond, wantType: config.ErrorTypeParserTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/chat/completions", r.URL.Path)
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
				if tt.delay > 0 {
					select {
					case <-time.After(tt.delay):
					case <-r.Context().Done():
						return
					}
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, func(cfg *config.ParserConfig) {
				if tt.delay > 0 {
					cfg.Timeout = 50 * time.Millisecond
				}
			})

			out, err := client.Parse(context.Background(), "Ada Lovelace\nEngineer")

			if tt.wantType != "" {
				require.Error(t, err)
				f := common.AsFailure(err)
				assert.Equal(t, tt.wantType, f.Type)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, validResume, string(out))
		})
	}
}

func TestClient_SendsSchemaAndText(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(completion(validResume)))
	})

	_, err := client.Parse(context.Background(), "resume body")
	require.NoError(t, err)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Contains(t, got.Messages[1].Content, `"basics"`)
	assert.Contains(t, got.Messages[2].Content, "resume body")
}

func TestClient_BreakerOpensOnRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 3; i++ {
		_, err := client.Parse(context.Background(), "text")
		require.Error(t, err)
	}

	_, err := client.Parse(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, config.ErrorTypeParserUnavailable, common.AsFailure(err).Type)
	assert.EqualValues(t, 3, calls.Load(), "open breaker must not reach the API")
}

func TestClient_RejectionsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	for i := 0; i < 5; i++ {
		_, err := client.Parse(context.Background(), "text")
		assert.Equal(t, config.ErrorTypeParserRejected, common.AsFailure(err).Type)
	}
	assert.EqualValues(t, 5, calls.Load())
}
