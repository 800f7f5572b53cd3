// Package evaluation runs submissions past the scoring oracle and records
// the judgment, including the reasoning trace, on the task session.
package evaluation

import (
	"context"
	"fmt"
	"time"

	"meritpay/internal/logging"
	"meritpay/internal/oracle"
	"meritpay/internal/task"
)

const defaultTimeout = 90 * time.Second

// PassThreshold is the minimum score a Pass decision must carry before a
// payout is considered.
const PassThreshold = 70

// Engine evaluates submissions with a Judge and writes the step history.
type Engine struct {
	store   *task.Store
	judge   oracle.Judge
	timeout time.Duration
	logger  logging.Logger
}

// NewEngine wires an evaluation engine.
func NewEngine(store *task.Store, judge oracle.Judge, timeout time.Duration, logger logging.Logger) *Engine {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Engine{
		store:   store,
		judge:   judge,
		timeout: timeout,
		logger:  logging.OrNop(logger),
	}
}

// Evaluate scores a submission and appends an evaluation step to the task's
// session. The pending step is visible while the oracle call is in flight;
// it turns terminal exactly once. Errors from the oracle propagate after the
// error step is recorded.
func (e *Engine) Evaluate(ctx context.Context, taskType task.Type, content, taskID string) (*task.EvaluationResult, error) {
	e.store.GetOrCreate(taskID)

	thoughts := []*task.Thought{
		{
			Thought:   "Initiating evaluation process",
			Reasoning: fmt.Sprintf("Need to evaluate a %s submission using the scoring oracle with function calling", taskType),
			Plan: []string{
				"Analyze submission content",
				"Use the scoring oracle to evaluate based on criteria",
				"Process evaluation results",
				"Return structured feedback",
			},
		},
	}

	apiAction := &task.Action{
		Action: "call_scoring_oracle",
		Input: map[string]any{
			"taskType": taskType,
			"text":     content,
			"function": oracle.FunctionName,
		},
	}
	actions := []*task.Action{apiAction}

	step := task.NewStep(task.StepKindEvaluation, fmt.Sprintf("Evaluating %s submission", taskType))
	step.Details.AgentThoughts = thoughts
	step.Details.AgentActions = actions
	if _, err := e.store.AppendStep(taskID, step); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	verdict, err := e.judge.Evaluate(callCtx, oracle.Request{TaskType: taskType, Content: content})
	if err != nil {
		e.logger.Error("Evaluation failed for task %s: %v", taskID, err)
		thoughts = append(thoughts, &task.Thought{
			Thought:     "Evaluation failed",
			Reasoning:   "Encountered an error during evaluation process",
			Criticism:   "Error handling could be improved",
			Improvement: "Implement retry mechanism for transient errors",
		})
		// The action record is reachable from the appended step, so it is
		// amended under the step lock.
		step.AmendDetails(func(d *task.StepDetails) {
			apiAction.Error = err.Error()
			d.AgentThoughts = thoughts
		})
		step.MarkError(err.Error())
		return nil, err
	}

	resultThought := &task.Thought{
		Thought:   "Evaluation completed successfully",
		Reasoning: fmt.Sprintf("The %s submission received a score of %d/100", taskType, verdict.Score),
	}
	if verdict.Score < PassThreshold {
		resultThought.Criticism = "Score is below acceptable threshold"
		resultThought.Improvement = "Provide more detailed feedback for improvement"
	}
	thoughts = append(thoughts, resultThought)

	step.AmendDetails(func(d *task.StepDetails) {
		apiAction.Success = true
		apiAction.Output = verdict
		d.AgentThoughts = thoughts
		d.Evaluation = &task.EvaluationSummary{
			Decision:       verdict.Decision,
			Score:          verdict.Score,
			Feedback:       verdict.Feedback,
			CriteriaScores: verdict.CriteriaScores,
		}
	})
	step.MarkSuccess()

	e.logger.Info("Task %s evaluated: %s (%d/100)", taskID, verdict.Decision, verdict.Score)

	return &task.EvaluationResult{
		Decision:       verdict.Decision,
		Score:          verdict.Score,
		Feedback:       verdict.Feedback,
		CriteriaScores: verdict.CriteriaScores,
		AgentThoughts:  thoughts,
		AgentActions:   actions,
	}, nil
}
