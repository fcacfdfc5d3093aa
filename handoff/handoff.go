// Package handoff implements the HandoffCoordinator: it composes the
// validator, context-preservation store, error-recovery manager, and
// fallback registry into the validate -> preserve -> execute-with-recovery
// -> restore/rollback pipeline, tracking each handoff through its state
// machine.
package handoff

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/pairdev/orchestrator-core/bus"
	"github.com/pairdev/orchestrator-core/contextstore"
	"github.com/pairdev/orchestrator-core/errs"
	"github.com/pairdev/orchestrator-core/fallback"
	"github.com/pairdev/orchestrator-core/recovery"
	"github.com/pairdev/orchestrator-core/telemetry"
	"github.com/pairdev/orchestrator-core/validator"
)

// State is one node of the per-handoff state machine.
type State string

const (
	StateInit              State = "INIT"
	StateValidated         State = "VALIDATED"
	StatePreserved         State = "PRESERVED"
	StateExecuting         State = "EXECUTING"
	StateSucceeded         State = "SUCCEEDED"
	StateFallingBack       State = "FALLING_BACK"
	StateFallbackSucceeded State = "FALLBACK_SUCCEEDED"
	StateRolledBack        State = "ROLLED_BACK"
	StateFailed            State = "FAILED"
)

// IsTerminal reports whether s is one of the four terminal states.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFallbackSucceeded, StateRolledBack, StateFailed:
		return true
	default:
		return false
	}
}

type (
	// Request mirrors the wire shape of a handoff request. HandoffID is
	// optional; when empty, the coordinator generates one.
	Request struct {
		HandoffID     string
		SourceAgentID string
		TargetAgentID string
		TaskID        string
		Context       any
	}

	// Outcome is the result of a completed Handoff call.
	Outcome struct {
		HandoffID  string
		FinalState State
		Result     any
	}

	// AuditLog records terminal handoff outcomes for later inspection. A
	// sqlite-backed implementation lives in handoff/auditlog.
	AuditLog interface {
		RecordOutcome(ctx context.Context, outcome Outcome) error
	}

	noopAuditLog struct{}

	// Options configures a Coordinator. Validator, ContextStore, Recovery,
	// and Fallback are required collaborators; Bus, Logger, Metrics, and
	// AuditLog default to no-ops.
	Options struct {
		Validator    *validator.Validator
		ContextStore *contextstore.Store
		Recovery     *recovery.Manager
		Fallback     *fallback.Registry
		AuditLog     AuditLog
		Bus          *bus.Bus
		Logger       telemetry.Logger
		Metrics      telemetry.Metrics
		Tracer       telemetry.Tracer
	}

	// Coordinator is the HandoffCoordinator.
	Coordinator struct {
		validator    *validator.Validator
		contextStore *contextstore.Store
		recovery     *recovery.Manager
		fallback     *fallback.Registry
		auditLog     AuditLog
		bus          *bus.Bus
		logger       telemetry.Logger
		metrics      telemetry.Metrics
		tracer       telemetry.Tracer
	}
)

func (noopAuditLog) RecordOutcome(ctx context.Context, outcome Outcome) error { return nil }

// New constructs a Coordinator per opts.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	auditLog := opts.AuditLog
	if auditLog == nil {
		auditLog = noopAuditLog{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Coordinator{
		validator:    opts.Validator,
		contextStore: opts.ContextStore,
		recovery:     opts.Recovery,
		fallback:     opts.Fallback,
		auditLog:     auditLog,
		bus:          opts.Bus,
		logger:       logger,
		metrics:      metrics,
		tracer:       tracer,
	}
}

// Handoff runs the full validate -> preserve -> execute-with-recovery ->
// restore/rollback pipeline. execute performs the primary target-tool
// invocation; on its retry exhaustion it is handed, unretried, to the
// FallbackRegistry under the "handoff" operation label, per the algorithm
// in spec §4.9.
func (c *Coordinator) Handoff(ctx context.Context, req Request, execute recovery.Executor) (outcome Outcome, err error) {
	ctx, span := c.tracer.Start(ctx, "handoff.Handoff")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	c.publishTransition(ctx, req.HandoffID, StateInit)

	vr := c.validator.ValidateHandoffRequest(validator.HandoffRequest{
		SourceAgentID: req.SourceAgentID,
		TargetAgentID: req.TargetAgentID,
		TaskID:        req.TaskID,
		Context:       req.Context,
	})
	if !vr.IsValid {
		return c.terminal(ctx, req, StateFailed, errs.Errorf(errs.KindValidation, "invalid handoff: %v", vr.Errors))
	}
	c.publishTransition(ctx, req.HandoffID, StateValidated)

	handoffID := req.HandoffID
	if handoffID == "" {
		handoffID = uuid.NewString()
	}

	if _, err := c.contextStore.PreserveContext(ctx, handoffID, req.Context); err != nil {
		return c.terminal(ctx, req, StateFailed, err)
	}
	c.publishTransition(ctx, handoffID, StatePreserved)
	c.publishTransition(ctx, handoffID, StateExecuting)

	result, err := c.recovery.ExecuteToolWithRetry(ctx, execute)
	if err == nil {
		outcome := Outcome{HandoffID: handoffID, FinalState: StateSucceeded, Result: result}
		c.record(ctx, outcome)
		return outcome, nil
	}

	c.publishTransition(ctx, handoffID, StateFallingBack)

	fbResult, fbErr := c.fallback.ExecuteWithFallback(ctx, "handoff", fallback.PrimaryExecutor(execute), req)
	if fbErr != nil {
		_ = c.contextStore.RollbackContext(ctx, handoffID)
		return c.terminal(ctx, req, StateRolledBack, errs.Wrap(errs.KindTerminal, "handoff failed after fallback", fbErr))
	}

	outcome = Outcome{HandoffID: handoffID, FinalState: StateFallbackSucceeded, Result: fbResult}
	c.record(ctx, outcome)
	return outcome, nil
}

func (c *Coordinator) terminal(ctx context.Context, req Request, toState State, err error) (Outcome, error) {
	outcome := Outcome{HandoffID: req.HandoffID, FinalState: toState}
	c.record(ctx, outcome)
	return outcome, err
}

// publishTransition emits a non-terminal state-machine transition to the
// bus, purely for observability (the IDE front-end pane tails these via
// bus/wsfeed). Terminal transitions are emitted by record instead, since
// they also carry the outcome's Result.
func (c *Coordinator) publishTransition(ctx context.Context, handoffID string, state State) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(ctx, bus.Event{
		ID:        "handoff." + handoffID + "." + string(state) + "." + time.Now().UTC().Format(time.RFC3339Nano),
		Type:      "handoff.transition." + string(state),
		Timestamp: time.Now().UnixMilli(),
		Source:    "handoff.Coordinator",
		Payload:   map[string]any{"handoffId": handoffID, "state": string(state)},
	})
}

func (c *Coordinator) record(ctx context.Context, outcome Outcome) {
	if err := c.auditLog.RecordOutcome(ctx, outcome); err != nil {
		c.logger.Warn(ctx, "failed to record handoff outcome", "handoffId", outcome.HandoffID, "err", err.Error())
	}
	if c.bus != nil {
		c.bus.Publish(ctx, bus.Event{
			ID:        "handoff." + outcome.HandoffID + "." + time.Now().UTC().Format(time.RFC3339Nano),
			Type:      "handoff." + string(outcome.FinalState),
			Timestamp: time.Now().UnixMilli(),
			Source:    "handoff.Coordinator",
			Payload:   outcome,
		})
	}
	c.metrics.IncCounter("handoff."+string(outcome.FinalState), 1)
}
