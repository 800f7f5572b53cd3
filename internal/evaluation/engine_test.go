package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	meriterrors "meritpay/internal/errors"
	"meritpay/internal/oracle"
	"meritpay/internal/task"
)

type fakeJudge struct {
	verdict *oracle.Verdict
	err     error
	gotReq  oracle.Request
	started chan struct{}
	release chan struct{}
}

func (f *fakeJudge) Evaluate(ctx context.Context, req oracle.Request) (*oracle.Verdict, error) {
	f.gotReq = req
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.verdict, nil
}

func passingVerdict(score int) *oracle.Verdict {
	return &oracle.Verdict{
		Decision: task.DecisionPass,
		Score:    score,
		Feedback: "Well done",
		CriteriaScores: task.CriteriaScores{
			Accuracy:     score,
			Clarity:      score,
			Completeness: score,
		},
	}
}

func TestEvaluateSuccessRecordsStep(t *testing.T) {
	store := task.NewStore(task.StoreConfig{}, nil)
	judge := &fakeJudge{verdict: passingVerdict(85)}
	engine := NewEngine(store, judge, 0, nil)

	result, err := engine.Evaluate(context.Background(), task.TypeParaphrase, "rewritten text", "task-1")
	require.NoError(t, err)

	assert.Equal(t, task.DecisionPass, result.Decision)
	assert.Equal(t, 85, result.Score)
	assert.Equal(t, task.TypeParaphrase, judge.gotReq.TaskType)
	assert.Equal(t, "rewritten text", judge.gotReq.Content)

	session, ok := store.Get("task-1")
	require.True(t, ok)
	steps := session.Steps()
	require.Len(t, steps, 1)
	step := steps[0]
	assert.Equal(t, task.StepKindEvaluation, step.Kind)
	assert.Equal(t, task.StepStatusSuccess, step.Status)
	assert.Equal(t, "Evaluating paraphrase submission", step.Description)
	require.NotNil(t, step.Details.Evaluation)
	assert.Equal(t, 85, step.Details.Evaluation.Score)

	// The trace carries the fixed plan plus the completion thought.
	require.Len(t, step.Details.AgentThoughts, 2)
	assert.Equal(t, []string{
		"Analyze submission content",
		"Use the scoring oracle to evaluate based on criteria",
		"Process evaluation results",
		"Return structured feedback",
	}, step.Details.AgentThoughts[0].Plan)
	assert.Empty(t, step.Details.AgentThoughts[1].Criticism)

	require.Len(t, step.Details.AgentActions, 1)
	assert.True(t, step.Details.AgentActions[0].Success)
}

func TestEvaluateLowScoreAddsCriticism(t *testing.T) {
	store := task.NewStore(task.StoreConfig{}, nil)
	judge := &fakeJudge{verdict: passingVerdict(60)}
	engine := NewEngine(store, judge, 0, nil)

	_, err := engine.Evaluate(context.Background(), task.TypeFactCheck, "claim", "task-2")
	require.NoError(t, err)

	session, _ := store.Get("task-2")
	step := session.FindStep(task.StepKindEvaluation)
	require.NotNil(t, step)
	thoughts := step.Details.AgentThoughts
	require.Len(t, thoughts, 2)
	assert.Equal(t, "Score is below acceptable threshold", thoughts[1].Criticism)
}

func TestEvaluateStepPendingWhileOracleRuns(t *testing.T) {
	store := task.NewStore(task.StoreConfig{}, nil)
	judge := &fakeJudge{
		verdict: passingVerdict(80),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	engine := NewEngine(store, judge, 0, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = engine.Evaluate(context.Background(), task.TypeParaphrase, "text", "task-3")
	}()

	<-judge.started
	session, ok := store.Get("task-3")
	require.True(t, ok)
	steps := session.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, task.StepStatusPending, steps[0].Status)

	close(judge.release)
	<-done
	assert.Equal(t, task.StepStatusSuccess, steps[0].Status)
}

func TestEvaluateSnapshotSafeDuringFinalization(t *testing.T) {
	store := task.NewStore(task.StoreConfig{}, nil)
	judge := &fakeJudge{
		verdict: passingVerdict(90),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	engine := NewEngine(store, judge, 0, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = engine.Evaluate(context.Background(), task.TypeParaphrase, "text", "task-5")
	}()

	<-judge.started
	session, ok := store.Get("task-5")
	require.True(t, ok)

	// Marshal snapshots continuously while the engine finalizes the step.
	stop := make(chan struct{})
	marshaled := make(chan error, 1)
	go func() {
		for {
			select {
			case <-stop:
				marshaled <- nil
				return
			default:
			}
			if _, err := json.Marshal(session.Snapshot()); err != nil {
				marshaled <- err
				return
			}
		}
	}()

	close(judge.release)
	<-done
	close(stop)
	require.NoError(t, <-marshaled)

	snap := session.Snapshot()
	require.Len(t, snap.Steps, 1)
	assert.Equal(t, task.StepStatusSuccess, snap.Steps[0].Status)
	require.NotNil(t, snap.Steps[0].Details.Evaluation)
	assert.Equal(t, 90, snap.Steps[0].Details.Evaluation.Score)
}

func TestEvaluateOracleFailureRecordsErrorStep(t *testing.T) {
	store := task.NewStore(task.StoreConfig{}, nil)
	oracleErr := meriterrors.NewOracleError(errors.New("no tool call in completion"), "No evaluation result received")
	judge := &fakeJudge{err: oracleErr}
	engine := NewEngine(store, judge, 0, nil)

	_, err := engine.Evaluate(context.Background(), task.TypeParaphrase, "text", "task-4")
	require.Error(t, err)
	assert.True(t, meriterrors.IsOracle(err))

	session, _ := store.Get("task-4")
	steps := session.Steps()
	require.Len(t, steps, 1)
	step := steps[0]
	assert.Equal(t, task.StepStatusError, step.Status)
	assert.Contains(t, step.Details.Error, "No evaluation result received")
	require.Len(t, step.Details.AgentThoughts, 2)
	assert.Equal(t, "Evaluation failed", step.Details.AgentThoughts[1].Thought)
	require.Len(t, step.Details.AgentActions, 1)
	assert.False(t, step.Details.AgentActions[0].Success)
	assert.NotEmpty(t, step.Details.AgentActions[0].Error)
}
