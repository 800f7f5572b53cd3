// Package oracle calls the scoring model through the OpenAI-compatible chat
// completions API and normalizes its forced function call into a Verdict.
package oracle

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

	"github.com/kaptinlin/jsonrepair"

	meriterrors "meritpay/internal/errors"
	"meritpay/internal/logging"
	"meritpay/internal/task"
)

// Request is one scoring question for the judge.
type Request struct {
	TaskType task.Type
	Content  string
}

// Verdict is the structured answer extracted from the model's function call.
type Verdict struct {
	Decision       string              `json:"decision"`
	Score          int                 `json:"score"`
	Feedback       string              `json:"feedback"`
	CriteriaScores task.CriteriaScores `json:"criteria_scores"`
}

// Judge scores submissions. The production implementation is Client; tests
// substitute fakes.
type Judge interface {
	Evaluate(ctx context.Context, req Request) (*Verdict, error)
}

// Config carries the judge endpoint settings.
type Config struct {
	APIKey  string
	BaseURL string        // default https://api.openai.com/v1
	Model   string        // default gpt-4o
	Timeout time.Duration // per-call budget, default 60s
	Retry   meriterrors.RetryConfig
}

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o"
	defaultTimeout = 60 * time.Second

	// FunctionName is the tool the model is forced to call.
	FunctionName = "evaluate_submission"
)

// functionParameters is the JSON schema for evaluate_submission. Every field
// is required so a compliant model cannot return a partial verdict.
const functionParameters = `{
  "type": "object",
  "properties": {
    "decision": {
      "type": "string",
      "enum": ["Pass", "Fail"],
      "description": "Whether the submission meets the quality criteria"
    },
    "score": {
      "type": "integer",
      "minimum": 0,
      "maximum": 100,
      "description": "Numerical score for the submission"
    },
    "feedback": {
      "type": "string",
      "description": "Detailed feedback explaining the evaluation"
    },
    "criteria_scores": {
      "type": "object",
      "properties": {
        "accuracy": {"type": "integer", "minimum": 0, "maximum": 100, "description": "Score for factual accuracy"},
        "clarity": {"type": "integer", "minimum": 0, "maximum": 100, "description": "Score for clarity and understandability"},
        "completeness": {"type": "integer", "minimum": 0, "maximum": 100, "description": "Score for completeness of response"}
      },
      "required": ["accuracy", "clarity", "completeness"]
    }
  },
  "required": ["decision", "score", "feedback", "criteria_scores"]
}`

// Client speaks the OpenAI-compatible chat completions API.
type Client struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retry      meriterrors.RetryConfig
	logger     logging.Logger
}

// NewClient constructs the judge client.
func NewClient(cfg Config, logger logging.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = meriterrors.DefaultRetryConfig()
	}

	return &Client{
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      cfg.Retry,
		logger:     logging.OrNop(logger),
	}
}

// Evaluate asks the model for a verdict, retrying transient failures. Any
// failure that survives the retries comes back as an OracleError (or the
// caller's context error).
func (c *Client) Evaluate(ctx context.Context, req Request) (*Verdict, error) {
	verdict, err := meriterrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) (*Verdict, error) {
		return c.evaluateOnce(ctx, req)
	}, c.logger)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		var oracleErr *meriterrors.OracleError
		if errors.As(err, &oracleErr) {
			return nil, err
		}
		return nil, meriterrors.NewOracleError(err, "evaluation request failed")
	}
	return verdict, nil
}

func (c *Client) evaluateOnce(ctx context.Context, req Request) (*Verdict, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{
				"role":    "system",
				"content": fmt.Sprintf("You are an expert evaluator specializing in %s analysis. Evaluate the submission based on accuracy, clarity, and completeness.", req.TaskType),
			},
			{
				"role":    "user",
				"content": fmt.Sprintf("Please evaluate this %s:\n\n%s", req.TaskType, req.Content),
			},
		},
		"tools": []map[string]any{
			{
				"type": "function",
				"function": map[string]any{
					"name":        FunctionName,
					"description": "Evaluate a text submission for quality and provide detailed feedback",
					"parameters":  json.RawMessage(functionParameters),
				},
			},
		},
		"tool_choice": map[string]any{
			"type":     "function",
			"function": map[string]string{"name": FunctionName},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	c.logger.Debug("=== Oracle Request ===")
	c.logger.Debug("URL: POST %s", endpoint)
	c.logger.Debug("Model: %s, task type: %s, content length: %d chars", c.model, req.TaskType, len(req.Content))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, meriterrors.NewTransientError(err, "oracle request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("=== Oracle Response ===")
	c.logger.Debug("Status: %d", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("oracle returned status %d: %s", resp.StatusCode, truncate(string(respBody), 512))
		if meriterrors.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, meriterrors.NewTransientError(errors.New(msg), "oracle temporarily unavailable")
		}
		return nil, meriterrors.NewOracleError(errors.New(msg), "oracle rejected the request")
	}

	var completion struct {
		Choices []struct {
			Message struct {
				ToolCalls []struct {
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, meriterrors.NewOracleError(err, "malformed oracle response")
	}

	if len(completion.Choices) == 0 || len(completion.Choices[0].Message.ToolCalls) == 0 {
		return nil, meriterrors.NewOracleError(errors.New("no tool call in completion"), "No evaluation result received")
	}

	call := completion.Choices[0].Message.ToolCalls[0]
	if call.Function.Name != FunctionName {
		return nil, meriterrors.NewOracleError(fmt.Errorf("unexpected tool call %q", call.Function.Name), "No evaluation result received")
	}

	verdict, err := parseVerdict(call.Function.Arguments, c.logger)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Oracle verdict: %s (%d/100)", verdict.Decision, verdict.Score)
	return verdict, nil
}

// parseVerdict decodes the tool call arguments. Models occasionally emit
// truncated or otherwise broken JSON; jsonrepair recovers most of those
// before we give up.
func parseVerdict(arguments string, logger logging.Logger) (*Verdict, error) {
	var verdict Verdict
	if err := json.Unmarshal([]byte(arguments), &verdict); err != nil {
		logger.Warn("Tool call arguments are not valid JSON, attempting repair: %v", err)
		repaired, repairErr := jsonrepair.JSONRepair(arguments)
		if repairErr != nil {
			return nil, meriterrors.NewOracleError(err, "unparseable evaluation result")
		}
		if err := json.Unmarshal([]byte(repaired), &verdict); err != nil {
			return nil, meriterrors.NewOracleError(err, "unparseable evaluation result")
		}
	}
	if err := validateVerdict(&verdict); err != nil {
		return nil, err
	}
	return &verdict, nil
}

func validateVerdict(v *Verdict) error {
	if v.Decision != task.DecisionPass && v.Decision != task.DecisionFail {
		return meriterrors.NewOracleError(fmt.Errorf("invalid decision %q", v.Decision), "malformed evaluation result")
	}
	if v.Score < 0 || v.Score > 100 {
		return meriterrors.NewOracleError(fmt.Errorf("score %d out of range", v.Score), "malformed evaluation result")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
