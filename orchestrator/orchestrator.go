// Package orchestrator implements OrchestratorCore: persona resolution,
// agent deployment, and the two pre-wired workflows (deployment, testing)
// that compose ErrorRecoveryManager-gated stage tools into an end-to-end
// pipeline, per spec §4.10.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/pairdev/orchestrator-core/bus"
	"github.com/pairdev/orchestrator-core/errs"
	"github.com/pairdev/orchestrator-core/persona"
	"github.com/pairdev/orchestrator-core/recovery"
	"github.com/pairdev/orchestrator-core/telemetry"
	"github.com/pairdev/orchestrator-core/validator"
)

// Stage is one named step of a pre-wired workflow.
type Stage string

const (
	StageValidator  Stage = "VALIDATOR"
	StageTest       Stage = "TEST"
	StageReviewer   Stage = "REVIEWER"
	StageDeployer   Stage = "DEPLOYER"
	StageIntegrator Stage = "INTEGRATOR"
	StageDebug      Stage = "DEBUG"
)

// DeploymentStages is the fixed sequence the deployment workflow runs, in
// order, per spec §4.10.
var DeploymentStages = []Stage{StageValidator, StageTest, StageReviewer, StageDeployer, StageIntegrator}

// DefaultMaxTestIterations bounds the TEST<->DEBUG loop when RunTestingWorkflow
// is not given an explicit maxIterations.
const DefaultMaxTestIterations = 5

const (
	// EventAgentDeployed is emitted by DeployAgent on success.
	EventAgentDeployed = "agent.deployed"
	// EventAgentDeploymentFailed is emitted by DeployAgent when the persona
	// cannot be resolved.
	EventAgentDeploymentFailed = "agent.deployment.failed"
	// EventWorkflowStageFailed is emitted by RunDeploymentWorkflow when a
	// stage has no tool wired or its ExecuteToolWithRetry call is exhausted.
	EventWorkflowStageFailed = "workflow.stage.failed"
	// EventWorkflowCompleted is emitted when a workflow runs to completion
	// (success or not).
	EventWorkflowCompleted = "workflow.completed"
	// EventModeChanged is emitted by SwitchMode on a valid transition.
	EventModeChanged = "mode.changed"
	// EventModeChangeFailed is emitted by SwitchMode when the requested
	// transition fails structural validation.
	EventModeChangeFailed = "mode.change.failed"
)

type (
	// AgentStatus is the closed set of states a deployed agent can report.
	AgentStatus string

	// StageTool is the minimal contract a workflow stage needs: run once
	// against the prior stage's output (or the workflow's initial input for
	// the first stage) and produce the next stage's input.
	StageTool interface {
		Run(ctx context.Context, input any) (any, error)
	}

	// StageToolFunc adapts a plain function to StageTool.
	StageToolFunc func(ctx context.Context, input any) (any, error)

	// TestOutcome is the structured result a TEST-stage tool must return so
	// RunTestingWorkflow can evaluate its terminal criterion.
	TestOutcome struct {
		Failures int
		Detail   any
	}

	// DeployResult is the outcome of DeployAgent (spec §4.10's
	// "/deploy <persona>" surface).
	DeployResult struct {
		AgentID string
		Status  AgentStatus
		Persona persona.Config
		Metrics map[string]any
	}

	// WorkflowResult is the outcome of RunDeploymentWorkflow.
	WorkflowResult struct {
		Success        bool
		ExecutionPath  []Stage
		Errors         []string
		StageStoppedAt Stage
		Outputs        map[Stage]any
	}

	// IterationMetric records one TEST/DEBUG round of RunTestingWorkflow.
	IterationMetric struct {
		Iteration int
		Failures  int
		Debugged  bool
	}

	// TestingWorkflowResult is the outcome of RunTestingWorkflow.
	TestingWorkflowResult struct {
		Success       bool
		Iterations    []IterationMetric
		FinalFailures int
	}

	// Options configures a Core. Personas and Recovery are required
	// collaborators.
	Options struct {
		Personas *persona.Loader
		Recovery *recovery.Manager
		// Tools maps each Stage to the tool invoked for it. Deployment
		// workflows need VALIDATOR/TEST/REVIEWER/DEPLOYER/INTEGRATOR;
		// testing workflows need TEST/DEBUG. Missing stages fail with
		// errs.KindUnsupported when the workflow reaches them.
		Tools   map[Stage]StageTool
		Bus     *bus.Bus
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
		// Validator, if set, enables SwitchMode. Nil means mode switching
		// fails with errs.KindUnsupported.
		Validator *validator.Validator
	}

	// Core is the OrchestratorCore.
	Core struct {
		personas  *persona.Loader
		recovery  *recovery.Manager
		tools     map[Stage]StageTool
		bus       *bus.Bus
		logger    telemetry.Logger
		metrics   telemetry.Metrics
		tracer    telemetry.Tracer
		validator *validator.Validator
	}
)

const (
	AgentInitializing AgentStatus = "initializing"
	AgentActive       AgentStatus = "active"
	AgentFailed       AgentStatus = "failed"
)

// Run implements StageTool for StageToolFunc.
func (f StageToolFunc) Run(ctx context.Context, input any) (any, error) { return f(ctx, input) }

// New constructs a Core per opts. opts.Personas and opts.Recovery are required.
func New(opts Options) (*Core, error) {
	if opts.Personas == nil {
		return nil, errs.New(errs.KindValidation, "persona loader is required")
	}
	if opts.Recovery == nil {
		return nil, errs.New(errs.KindValidation, "recovery manager is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tools := opts.Tools
	if tools == nil {
		tools = map[Stage]StageTool{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Core{
		personas:  opts.Personas,
		recovery:  opts.Recovery,
		tools:     tools,
		bus:       opts.Bus,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
		validator: opts.Validator,
	}, nil
}

// SwitchMode runs req through validateModeTransition and reports the
// outcome as a mode.changed or mode.change.failed event. Fails with
// errs.KindUnsupported if no Validator was configured.
func (c *Core) SwitchMode(ctx context.Context, req validator.ModeTransitionRequest) (mode string, err error) {
	ctx, span := c.tracer.Start(ctx, "orchestrator.SwitchMode")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if c.validator == nil {
		return "", errs.New(errs.KindUnsupported, "mode switching is not configured")
	}

	vr := c.validator.ValidateModeTransition(req)
	if !vr.IsValid {
		err = errs.Errorf(errs.KindValidation, "invalid mode transition: %v", vr.Errors)
		c.publish(ctx, EventModeChangeFailed, map[string]any{"fromMode": req.FromMode, "toMode": req.ToMode, "error": err.Error()})
		c.metrics.IncCounter("orchestrator.mode.change.failed", 1, "fromMode", req.FromMode, "toMode", req.ToMode)
		return "", err
	}

	c.publish(ctx, EventModeChanged, map[string]any{"fromMode": req.FromMode, "toMode": req.ToMode, "reason": req.Reason})
	c.metrics.IncCounter("orchestrator.mode.changed", 1, "fromMode", req.FromMode, "toMode", req.ToMode)
	return req.ToMode, nil
}

// DeployAgent resolves personaName (case-insensitively) and reports the
// result as an agent deployment, per spec §4.10 and §6's "/deploy
// <persona>" CLI surface. A persona that cannot be resolved reports
// AgentFailed rather than returning only an error, matching the
// {agentId, status, persona, metrics} shape callers expect even on failure.
func (c *Core) DeployAgent(ctx context.Context, personaName string) (DeployResult, error) {
	ctx, span := c.tracer.Start(ctx, "orchestrator.DeployAgent")
	defer span.End()

	cfg, ok := c.personas.Resolve(personaName)
	if !ok {
		err := errs.Errorf(errs.KindValidation, "unknown persona %q", personaName)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.publish(ctx, EventAgentDeploymentFailed, map[string]any{"persona": personaName, "error": err.Error()})
		return DeployResult{Status: AgentFailed}, err
	}

	agentID := uuid.NewString()
	result := DeployResult{
		AgentID: agentID,
		Status:  AgentActive,
		Persona: cfg,
		Metrics: map[string]any{"deployedAt": time.Now().UTC().Format(time.RFC3339Nano)},
	}
	c.publish(ctx, EventAgentDeployed, map[string]any{"agentId": agentID, "persona": cfg.Name})
	c.metrics.IncCounter("orchestrator.agent.deployed", 1, "persona", cfg.Name)
	return result, nil
}

// RunDeploymentWorkflow runs DeploymentStages in order, invoking each
// stage's tool through ErrorRecoveryManager. A stage's output becomes the
// next stage's input (the first stage receives input unchanged). On the
// first stage whose retries are exhausted, the workflow stops and reports
// {success:false, executionPath, errors, stageStoppedAt} per spec §4.10/§7.
func (c *Core) RunDeploymentWorkflow(ctx context.Context, input any) WorkflowResult {
	path := make([]Stage, 0, len(DeploymentStages))
	outputs := make(map[Stage]any, len(DeploymentStages))
	current := input

	for _, stage := range DeploymentStages {
		path = append(path, stage)

		result, err := c.runStage(ctx, stage, current)
		if err != nil {
			wr := WorkflowResult{Success: false, ExecutionPath: path, Errors: []string{err.Error()}, StageStoppedAt: stage, Outputs: outputs}
			c.publish(ctx, EventWorkflowStageFailed, map[string]any{"stage": string(stage), "error": err.Error()})
			c.publish(ctx, EventWorkflowCompleted, map[string]any{"success": false, "stageStoppedAt": string(stage)})
			return wr
		}
		outputs[stage] = result
		current = result
	}

	c.publish(ctx, EventWorkflowCompleted, map[string]any{"success": true})
	return WorkflowResult{Success: true, ExecutionPath: path, Outputs: outputs}
}

// RunTestingWorkflow iterates TEST -> DEBUG until the TEST stage reports
// zero failures or maxIterations is reached (DefaultMaxTestIterations if
// maxIterations <= 0), aggregating per-iteration metrics, per spec §4.10.
// The TEST tool must return a TestOutcome; any other return type fails the
// workflow with errs.KindValidation.
func (c *Core) RunTestingWorkflow(ctx context.Context, input any, maxIterations int) (TestingWorkflowResult, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxTestIterations
	}

	var metrics []IterationMetric
	current := input
	lastFailures := 0

	for i := 0; i < maxIterations; i++ {
		raw, err := c.runStage(ctx, StageTest, current)
		if err != nil {
			c.publish(ctx, EventWorkflowCompleted, map[string]any{"success": false, "stageStoppedAt": string(StageTest)})
			return TestingWorkflowResult{Success: false, Iterations: metrics, FinalFailures: lastFailures}, err
		}
		outcome, ok := raw.(TestOutcome)
		if !ok {
			return TestingWorkflowResult{Success: false, Iterations: metrics}, errs.New(errs.KindValidation, "TEST stage tool must return orchestrator.TestOutcome")
		}
		lastFailures = outcome.Failures

		if outcome.Failures == 0 {
			metrics = append(metrics, IterationMetric{Iteration: i, Failures: 0})
			c.publish(ctx, EventWorkflowCompleted, map[string]any{"success": true, "iterations": i + 1})
			return TestingWorkflowResult{Success: true, Iterations: metrics, FinalFailures: 0}, nil
		}

		debugged, err := c.runStage(ctx, StageDebug, outcome)
		if err != nil {
			metrics = append(metrics, IterationMetric{Iteration: i, Failures: outcome.Failures, Debugged: false})
			c.publish(ctx, EventWorkflowCompleted, map[string]any{"success": false, "stageStoppedAt": string(StageDebug)})
			return TestingWorkflowResult{Success: false, Iterations: metrics, FinalFailures: outcome.Failures}, err
		}
		metrics = append(metrics, IterationMetric{Iteration: i, Failures: outcome.Failures, Debugged: true})
		current = debugged
	}

	c.publish(ctx, EventWorkflowCompleted, map[string]any{"success": false, "stageStoppedAt": string(StageTest), "maxIterationsReached": true})
	return TestingWorkflowResult{Success: false, Iterations: metrics, FinalFailures: lastFailures}, nil
}

func (c *Core) runStage(ctx context.Context, stage Stage, input any) (result any, err error) {
	ctx, span := c.tracer.Start(ctx, "orchestrator.stage."+string(stage))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tool, ok := c.tools[stage]
	if !ok {
		return nil, errs.Errorf(errs.KindUnsupported, "no tool wired for stage %q", stage)
	}
	return c.recovery.ExecuteToolWithRetry(ctx, func(ctx context.Context) (any, error) {
		return tool.Run(ctx, input)
	})
}

func (c *Core) publish(ctx context.Context, eventType string, payload any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(ctx, bus.Event{
		ID:        eventType + "." + time.Now().UTC().Format(time.RFC3339Nano),
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Source:    "orchestrator.Core",
		Payload:   payload,
	})
}
