package task

import (
	"sync"
	"time"

	"github.com/google/uuid"

	meriterrors "meritpay/internal/errors"
)

// Type identifies the kind of submission being judged.
type Type string

const (
	TypeParaphrase Type = "paraphrase"
	TypeFactCheck  Type = "factCheck"
)

// ParseType validates a caller-supplied task type string.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeParaphrase, TypeFactCheck:
		return Type(s), nil
	default:
		return "", meriterrors.NewValidation(`Invalid taskType. Must be either "paraphrase" or "factCheck"`)
	}
}

// StepKind classifies the action a step records.
type StepKind string

const (
	StepKindEvaluation   StepKind = "evaluation"
	StepKindBalanceCheck StepKind = "balance_check"
	StepKindTransaction  StepKind = "transaction"
	StepKindContractCall StepKind = "contract_call"
)

// StepStatus is the lifecycle state of a step. A step starts pending and
// transitions exactly once to success or error, then freezes.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusSuccess StepStatus = "success"
	StepStatusError   StepStatus = "error"
)

// Thought is one entry in an evaluation's reasoning trace.
type Thought struct {
	Thought     string   `json:"thought"`
	Reasoning   string   `json:"reasoning"`
	Plan        []string `json:"plan,omitempty"`
	Criticism   string   `json:"criticism,omitempty"`
	Improvement string   `json:"improvement,omitempty"`
}

// Action is one entry in an evaluation's action trace.
type Action struct {
	Action  string `json:"action"`
	Input   any    `json:"input"`
	Output  any    `json:"output"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CriteriaScores holds the per-criterion sub-scores of a judgment.
type CriteriaScores struct {
	Accuracy     int `json:"accuracy"`
	Clarity      int `json:"clarity"`
	Completeness int `json:"completeness"`
}

// EvaluationSummary is the oracle output merged into an evaluation step's
// details once the call completes.
type EvaluationSummary struct {
	Decision       string         `json:"decision"`
	Score          int            `json:"score"`
	Feedback       string         `json:"feedback"`
	CriteriaScores CriteriaScores `json:"criteria_scores"`
}

// StepDetails is the kind-specific payload of a step.
type StepDetails struct {
	TransactionHash  string             `json:"transactionHash,omitempty"`
	BlockExplorerURL string             `json:"blockExplorerUrl,omitempty"`
	Balance          string             `json:"balance,omitempty"`
	Evaluation       *EvaluationSummary `json:"evaluationResult,omitempty"`
	Error            string             `json:"error,omitempty"`
	AgentThoughts    []*Thought         `json:"agentThoughts,omitempty"`
	AgentActions     []*Action          `json:"agentActions,omitempty"`
}

// Step is an immutable-once-finalized record of one action taken against a
// task. Details may be amended while the step is pending; once the status
// reaches a terminal state the step freezes. Once a step is shared through a
// session, all mutation must go through AmendDetails/MarkSuccess/MarkError
// and readers must use Clone, the session serves live pending steps to
// concurrent snapshotters.
type Step struct {
	mu          sync.Mutex
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	Kind        StepKind    `json:"type"`
	Status      StepStatus  `json:"status"`
	Description string      `json:"description"`
	Details     StepDetails `json:"details"`
}

// NewStep creates a pending step with a fresh identifier.
func NewStep(kind StepKind, description string) *Step {
	return &Step{
		ID:          uuid.New().String(),
		Timestamp:   time.Now(),
		Kind:        kind,
		Status:      StepStatusPending,
		Description: description,
	}
}

// AmendDetails applies a detail mutation to a pending step under the step
// lock. Mutations of trace records reachable from the details (thoughts,
// actions) must happen inside the callback so they stay ordered with Clone.
// Terminal steps are frozen and the callback is not invoked.
func (s *Step) AmendDetails(mutate func(*StepDetails)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != StepStatusPending {
		return
	}
	mutate(&s.Details)
}

// MarkSuccess transitions a pending step to success. Terminal steps are frozen.
func (s *Step) MarkSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != StepStatusPending {
		return
	}
	s.Status = StepStatusSuccess
}

// MarkError transitions a pending step to error and records the message.
func (s *Step) MarkError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != StepStatusPending {
		return
	}
	s.Status = StepStatusError
	s.Details.Error = message
}

// Terminal reports whether the step has reached success or error.
func (s *Step) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status != StepStatusPending
}

// CurrentStatus reads the status under the step lock.
func (s *Step) CurrentStatus() StepStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status
}

// Clone returns a deep copy that is safe to serialize while the original is
// still being amended. Action Input/Output values are shared: they are
// written at most once, under the step lock, and never mutated afterwards.
func (s *Step) Clone() *Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &Step{
		ID:          s.ID,
		Timestamp:   s.Timestamp,
		Kind:        s.Kind,
		Status:      s.Status,
		Description: s.Description,
		Details:     s.Details,
	}
	out.Details.AgentThoughts = cloneThoughts(s.Details.AgentThoughts)
	out.Details.AgentActions = cloneActions(s.Details.AgentActions)
	if s.Details.Evaluation != nil {
		summary := *s.Details.Evaluation
		out.Details.Evaluation = &summary
	}
	return out
}

func cloneThoughts(in []*Thought) []*Thought {
	if in == nil {
		return nil
	}
	out := make([]*Thought, len(in))
	for i, thought := range in {
		copied := *thought
		copied.Plan = append([]string(nil), thought.Plan...)
		out[i] = &copied
	}
	return out
}

func cloneActions(in []*Action) []*Action {
	if in == nil {
		return nil
	}
	out := make([]*Action, len(in))
	for i, action := range in {
		copied := *action
		out[i] = &copied
	}
	return out
}

// EvaluationResult is the normalized outcome of a judge call.
type EvaluationResult struct {
	Decision       string         `json:"decision"`
	Score          int            `json:"score"`
	Feedback       string         `json:"feedback"`
	CriteriaScores CriteriaScores `json:"criteriaScores"`
	AgentThoughts  []*Thought     `json:"agentThoughts,omitempty"`
	AgentActions   []*Action      `json:"agentActions,omitempty"`
}

const (
	DecisionPass = "Pass"
	DecisionFail = "Fail"
)

// PaymentResult reports a settled payment. Amount and TaskID come from the
// on-chain PaymentSent event, not from caller inputs.
type PaymentResult struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash"`
	Amount          string `json:"amount"`
	TaskID          string `json:"taskId"`
}

// Session is the step history of one task. All mutation goes through its
// methods; the zero value is not usable, use Store.GetOrCreate.
type Session struct {
	mu        sync.Mutex
	taskID    string
	steps     []*Step
	completed bool
	recipient string
}

func newSession(taskID string) *Session {
	return &Session{taskID: taskID}
}

// TaskID returns the task identifier this session belongs to.
func (s *Session) TaskID() string {
	return s.taskID
}

// Completed reports whether a payment has settled for this task. The flag
// transitions false to true exactly once and never reverts.
func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// MarkCompleted flips the completed flag. Idempotent.
func (s *Session) MarkCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = true
}

// Recipient returns the wallet address paid for this task, if any.
func (s *Session) Recipient() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recipient
}

// SetRecipient records the payment recipient. A session pays exactly one
// address: setting a different one after the first is rejected.
func (s *Session) SetRecipient(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recipient != "" && s.recipient != address {
		return meriterrors.NewValidation("task %s already has recipient %s", s.taskID, s.recipient)
	}
	s.recipient = address
	return nil
}

func (s *Session) appendStep(step *Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

// Steps returns a copy of the step sequence in append order. Step pointers
// are shared with the writing engine; callers reading a step that may still
// be pending must go through its locked accessors or use Snapshot.
func (s *Session) Steps() []*Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// FindStep returns the first step of the given kind, or nil.
func (s *Session) FindStep(kind StepKind) *Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, step := range s.steps {
		if step.Kind == kind {
			return step
		}
	}
	return nil
}

// Snapshot is the JSON view of a session served to clients.
type Snapshot struct {
	TaskID           string  `json:"taskId"`
	Steps            []*Step `json:"steps"`
	Completed        bool    `json:"completed"`
	RecipientAddress string  `json:"recipientAddress,omitempty"`
}

// Snapshot returns the serializable view of the session. Steps are deep
// copies, so marshaling a snapshot is safe while an engine is still
// finalizing a pending step.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := make([]*Step, len(s.steps))
	for i, step := range s.steps {
		steps[i] = step.Clone()
	}
	return Snapshot{
		TaskID:           s.taskID,
		Steps:            steps,
		Completed:        s.completed,
		RecipientAddress: s.recipient,
	}
}
