package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the position of a workflow in the request→validate→approve chain.
type State string

const (
	StatePending   State = "PENDING"
	StateValidated State = "VALIDATED"
	StateApproved  State = "APPROVED"
	StateRejected  State = "REJECTED"
)

// Stage names the step being acted on.
type Stage string

const (
	StageValidate Stage = "VALIDATE"
	StageApprove  Stage = "APPROVE"
)

// ErrMakerChecker is returned when the requester tries to act on their own
// workflow.
var ErrMakerChecker = errors.New("approval requires a second actor: requester cannot validate or approve their own request")

// ErrNotFound is returned for an unknown workflow id.
var ErrNotFound = errors.New("workflow not found")

// InvalidTransitionError reports an action attempted against a workflow that
// is not in the state the action requires.
type InvalidTransitionError struct {
	WorkflowID string
	State      State
	Stage      Stage
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("workflow %s: cannot %s in state %s", e.WorkflowID, e.Stage, e.State)
}

// Step is one immutable action in a workflow's history. Steps are
// hash-chained so tampering with a recorded decision is detectable.
type Step struct {
	Stage    Stage     `json:"stage"`
	Actor    string    `json:"actor"`
	Comment  string    `json:"comment"`
	Accepted bool      `json:"accepted"`
	At       time.Time `json:"at"`
	PrevHash string    `json:"prev_hash"`
	Hash     string    `json:"hash"`
}

// Workflow is one instance of the three-stage approval pattern. The same
// engine backs reversals, cash replenishments, vault cash-ceiling movements,
// provisioning confirmation and withdrawal notifications; the payload stays
// with the owning entity, referenced by kind and id.
type Workflow struct {
	ID         string    `json:"id"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id"`
	Requester  string    `json:"requester"`
	Reason     string    `json:"reason"`
	State      State     `json:"state"`
	Steps      []Step    `json:"steps"`
	CreatedAt  time.Time `json:"created_at"`
}

// Authorizer decides whether an actor may act at a stage for a given entity.
// The maker-checker rule is enforced by the engine before the authorizer runs.
type Authorizer func(stage Stage, actor string, entityKind, entityID string) error

// AllowAll authorizes every actor. Callers that only need maker-checker use it.
func AllowAll(Stage, string, string, string) error { return nil }

// Engine runs approval workflows. Safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	flows     map[string]*Workflow
	authorize Authorizer
}

// NewEngine creates an engine with the given authorization predicate.
func NewEngine(authorize Authorizer) *Engine {
	if authorize == nil {
		authorize = AllowAll
	}
	return &Engine{
		flows:     make(map[string]*Workflow),
		authorize: authorize,
	}
}

// Start opens a new Pending workflow for an entity.
func (e *Engine) Start(entityKind, entityID, requester, reason string) (*Workflow, error) {
	if entityKind == "" || entityID == "" {
		return nil, errors.New("entity kind and id are required")
	}
	if requester == "" {
		return nil, errors.New("requester is required")
	}

	flow := &Workflow{
		ID:         uuid.New().String(),
		EntityKind: entityKind,
		EntityID:   entityID,
		Requester:  requester,
		Reason:     reason,
		State:      StatePending,
		CreatedAt:  time.Now().UTC(),
	}

	e.mu.Lock()
	e.flows[flow.ID] = flow
	e.mu.Unlock()
	return flow, nil
}

// Validate records the second-stage decision. An accepted validation moves
// the workflow to Validated; a refusal terminates it Rejected.
func (e *Engine) Validate(id, actor, comment string, accepted bool) (*Workflow, error) {
	return e.step(id, StageValidate, StatePending, StateValidated, actor, comment, accepted)
}

// Approve records the final decision on a Validated workflow.
func (e *Engine) Approve(id, actor, comment string, accepted bool) (*Workflow, error) {
	return e.step(id, StageApprove, StateValidated, StateApproved, actor, comment, accepted)
}

// CanApprove runs every check Approve would run without recording anything.
// Callers that must move money before committing the terminal transition use
// it so a failed leg leaves the workflow Validated and retryable.
func (e *Engine) CanApprove(id, actor string) error {
	if actor == "" {
		return errors.New("actor is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	flow, ok := e.flows[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if flow.State != StateValidated {
		return &InvalidTransitionError{WorkflowID: id, State: flow.State, Stage: StageApprove}
	}
	if actor == flow.Requester {
		return ErrMakerChecker
	}
	if err := e.authorize(StageApprove, actor, flow.EntityKind, flow.EntityID); err != nil {
		return fmt.Errorf("actor %s not authorized for %s: %w", actor, StageApprove, err)
	}
	return nil
}

func (e *Engine) step(id string, stage Stage, want, next State, actor, comment string, accepted bool) (*Workflow, error) {
	if actor == "" {
		return nil, errors.New("actor is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	flow, ok := e.flows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if flow.State != want {
		return nil, &InvalidTransitionError{WorkflowID: id, State: flow.State, Stage: stage}
	}
	if actor == flow.Requester {
		return nil, ErrMakerChecker
	}
	if err := e.authorize(stage, actor, flow.EntityKind, flow.EntityID); err != nil {
		return nil, fmt.Errorf("actor %s not authorized for %s: %w", actor, stage, err)
	}

	prevHash := strings.Repeat("0", 64)
	if n := len(flow.Steps); n > 0 {
		prevHash = flow.Steps[n-1].Hash
	}

	step := Step{
		Stage:    stage,
		Actor:    actor,
		Comment:  comment,
		Accepted: accepted,
		At:       time.Now().UTC(),
		PrevHash: prevHash,
	}
	step.Hash = stepHash(flow.ID, step)
	flow.Steps = append(flow.Steps, step)

	if accepted {
		flow.State = next
	} else {
		flow.State = StateRejected
	}
	return cloneFlow(flow), nil
}

// Get returns a snapshot of a workflow.
func (e *Engine) Get(id string) (*Workflow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	flow, ok := e.flows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneFlow(flow), nil
}

// VerifyChain checks the integrity of a workflow's step hash chain.
func (e *Engine) VerifyChain(id string) (bool, error) {
	flow, err := e.Get(id)
	if err != nil {
		return false, err
	}

	prev := strings.Repeat("0", 64)
	for i, step := range flow.Steps {
		if step.PrevHash != prev {
			return false, fmt.Errorf("chain broken at step %d: prev hash %s, expected %s", i, step.PrevHash, prev)
		}
		if stepHash(flow.ID, step) != step.Hash {
			return false, fmt.Errorf("hash mismatch at step %d", i)
		}
		prev = step.Hash
	}
	return true, nil
}

func stepHash(workflowID string, step Step) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%t|%s|%s",
		workflowID,
		step.Stage,
		step.Actor,
		step.Comment,
		step.Accepted,
		step.At.Format(time.RFC3339Nano),
		step.PrevHash,
	)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func cloneFlow(flow *Workflow) *Workflow {
	out := *flow
	out.Steps = make([]Step, len(flow.Steps))
	copy(out.Steps, flow.Steps)
	return &out
}
