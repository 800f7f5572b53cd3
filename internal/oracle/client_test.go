package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	meriterrors "meritpay/internal/errors"
	"meritpay/internal/task"
)

func completionWithArguments(arguments string) string {
	body := map[string]any{
		"choices": []map[string]any{
			{
				"message": map[string]any{
					"tool_calls": []map[string]any{
						{
							"function": map[string]any{
								"name":      FunctionName,
								"arguments": arguments,
							},
						},
					},
				},
			},
		},
	}
	raw, _ := json.Marshal(body)
	return string(raw)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		APIKey:  "sk-test",
		BaseURL: server.URL,
		Retry: meriterrors.RetryConfig{
			MaxAttempts:  3,
			BaseDelay:    time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			JitterFactor: 0,
		},
	}, nil)
}

func TestClientEvaluateSuccess(t *testing.T) {
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, completionWithArguments(`{"decision":"Pass","score":85,"feedback":"Solid paraphrase.","criteria_scores":{"accuracy":90,"clarity":80,"completeness":85}}`))
	})

	verdict, err := client.Evaluate(context.Background(), Request{TaskType: task.TypeParaphrase, Content: "some text"})
	require.NoError(t, err)

	assert.Equal(t, task.DecisionPass, verdict.Decision)
	assert.Equal(t, 85, verdict.Score)
	assert.Equal(t, "Solid paraphrase.", verdict.Feedback)
	assert.Equal(t, 90, verdict.CriteriaScores.Accuracy)

	// The model must be forced to answer through the evaluation function.
	choice, ok := gotBody["tool_choice"].(map[string]any)
	require.True(t, ok)
	fn, ok := choice["function"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, FunctionName, fn["name"])
}

func TestClientEvaluateRepairsMalformedArguments(t *testing.T) {
	// Truncated JSON missing the closing braces, as seen from cut-off
	// completions. jsonrepair closes it.
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionWithArguments(`{"decision":"Fail","score":40,"feedback":"Too short","criteria_scores":{"accuracy":40,"clarity":40,"completeness":40`))
	})

	verdict, err := client.Evaluate(context.Background(), Request{TaskType: task.TypeFactCheck, Content: "claim"})
	require.NoError(t, err)
	assert.Equal(t, task.DecisionFail, verdict.Decision)
	assert.Equal(t, 40, verdict.Score)
}

func TestClientEvaluateNoToolCall(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"I cannot evaluate this."}}]}`)
	})

	_, err := client.Evaluate(context.Background(), Request{TaskType: task.TypeParaphrase, Content: "text"})
	require.Error(t, err)
	assert.True(t, meriterrors.IsOracle(err))
	assert.Contains(t, err.Error(), "No evaluation result received")
}

func TestClientEvaluateInvalidDecision(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionWithArguments(`{"decision":"Maybe","score":50,"feedback":"","criteria_scores":{"accuracy":50,"clarity":50,"completeness":50}}`))
	})

	_, err := client.Evaluate(context.Background(), Request{TaskType: task.TypeParaphrase, Content: "text"})
	require.Error(t, err)
	assert.True(t, meriterrors.IsOracle(err))
}

func TestClientEvaluateRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, completionWithArguments(`{"decision":"Pass","score":72,"feedback":"ok","criteria_scores":{"accuracy":70,"clarity":75,"completeness":71}}`))
	})

	verdict, err := client.Evaluate(context.Background(), Request{TaskType: task.TypeParaphrase, Content: "text"})
	require.NoError(t, err)
	assert.Equal(t, 72, verdict.Score)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientEvaluateDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
	})

	_, err := client.Evaluate(context.Background(), Request{TaskType: task.TypeParaphrase, Content: "text"})
	require.Error(t, err)
	assert.True(t, meriterrors.IsOracle(err))
	assert.Equal(t, int32(1), calls.Load())
}
