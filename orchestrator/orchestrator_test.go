package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pairdev/orchestrator-core/bus"
	"github.com/pairdev/orchestrator-core/errs"
	"github.com/pairdev/orchestrator-core/orchestrator"
	"github.com/pairdev/orchestrator-core/persona"
	"github.com/pairdev/orchestrator-core/recovery"
	"github.com/pairdev/orchestrator-core/validator"
)

func newCore(t *testing.T, tools map[orchestrator.Stage]orchestrator.StageTool) (*orchestrator.Core, *bus.Bus) {
	t.Helper()
	loader := persona.NewLoader()
	require.NoError(t, loader.Register(persona.Config{Name: "Architect", Description: "Designs systems"}))

	b := bus.New()
	rec := recovery.New(recovery.Options{Bus: b, BaseDelay: time.Millisecond})
	core, err := orchestrator.New(orchestrator.Options{Personas: loader, Recovery: rec, Tools: tools, Bus: b})
	require.NoError(t, err)
	return core, b
}

func TestDeployAgentResolvesKnownPersona(t *testing.T) {
	core, _ := newCore(t, nil)

	result, err := core.DeployAgent(context.Background(), "architect")
	require.NoError(t, err)
	require.Equal(t, orchestrator.AgentActive, result.Status)
	require.Equal(t, "Architect", result.Persona.Name)
	require.NotEmpty(t, result.AgentID)
}

func TestDeployAgentUnknownPersonaFails(t *testing.T) {
	core, _ := newCore(t, nil)

	result, err := core.DeployAgent(context.Background(), "nonexistent")
	require.Error(t, err)
	require.Equal(t, orchestrator.AgentFailed, result.Status)
}

func TestDeploymentWorkflowRunsAllStagesOnSuccess(t *testing.T) {
	tools := map[orchestrator.Stage]orchestrator.StageTool{}
	for _, stage := range orchestrator.DeploymentStages {
		stage := stage
		tools[stage] = orchestrator.StageToolFunc(func(ctx context.Context, input any) (any, error) {
			return string(stage) + ":ok", nil
		})
	}
	core, _ := newCore(t, tools)

	result := core.RunDeploymentWorkflow(context.Background(), "task")
	require.True(t, result.Success)
	require.Equal(t, orchestrator.DeploymentStages, result.ExecutionPath)
	require.Empty(t, result.StageStoppedAt)
}

func TestDeploymentWorkflowStopsAtFailingStage(t *testing.T) {
	tools := map[orchestrator.Stage]orchestrator.StageTool{
		orchestrator.StageValidator: orchestrator.StageToolFunc(func(ctx context.Context, input any) (any, error) {
			return "validated", nil
		}),
		orchestrator.StageTest: orchestrator.StageToolFunc(func(ctx context.Context, input any) (any, error) {
			return nil, errors.New("tests failed")
		}),
	}
	core, _ := newCore(t, tools)

	result := core.RunDeploymentWorkflow(context.Background(), "task")
	require.False(t, result.Success)
	require.Equal(t, orchestrator.StageTest, result.StageStoppedAt)
	require.Equal(t, []orchestrator.Stage{orchestrator.StageValidator, orchestrator.StageTest}, result.ExecutionPath)
	require.Len(t, result.Errors, 1)
}

func TestDeploymentWorkflowMissingStageToolIsUnsupported(t *testing.T) {
	core, _ := newCore(t, nil)

	result := core.RunDeploymentWorkflow(context.Background(), "task")
	require.False(t, result.Success)
	require.Equal(t, orchestrator.StageValidator, result.StageStoppedAt)
}

func TestTestingWorkflowStopsOnZeroFailures(t *testing.T) {
	attempts := 0
	tools := map[orchestrator.Stage]orchestrator.StageTool{
		orchestrator.StageTest: orchestrator.StageToolFunc(func(ctx context.Context, input any) (any, error) {
			attempts++
			if attempts < 3 {
				return orchestrator.TestOutcome{Failures: 1}, nil
			}
			return orchestrator.TestOutcome{Failures: 0}, nil
		}),
		orchestrator.StageDebug: orchestrator.StageToolFunc(func(ctx context.Context, input any) (any, error) {
			return "fixed", nil
		}),
	}
	core, _ := newCore(t, tools)

	result, err := core.RunTestingWorkflow(context.Background(), "code", 5)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 3, len(result.Iterations))
	require.Equal(t, 0, result.FinalFailures)
}

func TestTestingWorkflowStopsAtMaxIterations(t *testing.T) {
	tools := map[orchestrator.Stage]orchestrator.StageTool{
		orchestrator.StageTest: orchestrator.StageToolFunc(func(ctx context.Context, input any) (any, error) {
			return orchestrator.TestOutcome{Failures: 2}, nil
		}),
		orchestrator.StageDebug: orchestrator.StageToolFunc(func(ctx context.Context, input any) (any, error) {
			return "still failing", nil
		}),
	}
	core, _ := newCore(t, tools)

	result, err := core.RunTestingWorkflow(context.Background(), "code", 2)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, 2, len(result.Iterations))
	require.Equal(t, 2, result.FinalFailures)
}

func TestDeploymentWorkflowEmitsCompletionEvent(t *testing.T) {
	tools := map[orchestrator.Stage]orchestrator.StageTool{}
	for _, stage := range orchestrator.DeploymentStages {
		tools[stage] = orchestrator.StageToolFunc(func(ctx context.Context, input any) (any, error) { return "ok", nil })
	}
	core, b := newCore(t, tools)

	var seen []string
	b.Subscribe(orchestrator.EventWorkflowCompleted, func(_ context.Context, ev bus.Event) error {
		seen = append(seen, ev.Type)
		return nil
	})

	core.RunDeploymentWorkflow(context.Background(), "task")
	require.Equal(t, []string{orchestrator.EventWorkflowCompleted}, seen)
}

func newCoreWithModes(t *testing.T, modes []string) (*orchestrator.Core, *bus.Bus) {
	t.Helper()
	loader := persona.NewLoader()
	b := bus.New()
	rec := recovery.New(recovery.Options{Bus: b, BaseDelay: time.Millisecond})
	v := validator.New(validator.Options{Modes: modes})
	core, err := orchestrator.New(orchestrator.Options{Personas: loader, Recovery: rec, Bus: b, Validator: v})
	require.NoError(t, err)
	return core, b
}

func TestSwitchModeEmitsModeChangedOnValidTransition(t *testing.T) {
	core, b := newCoreWithModes(t, []string{"ask", "code"})

	var seen []string
	b.Subscribe(bus.Wildcard, func(_ context.Context, ev bus.Event) error {
		seen = append(seen, ev.Type)
		return nil
	})

	mode, err := core.SwitchMode(context.Background(), validator.ModeTransitionRequest{FromMode: "ask", ToMode: "code"})
	require.NoError(t, err)
	require.Equal(t, "code", mode)
	require.Contains(t, seen, orchestrator.EventModeChanged)
}

func TestSwitchModeEmitsModeChangeFailedOnUnknownMode(t *testing.T) {
	core, b := newCoreWithModes(t, []string{"ask", "code"})

	var seen []string
	b.Subscribe(bus.Wildcard, func(_ context.Context, ev bus.Event) error {
		seen = append(seen, ev.Type)
		return nil
	})

	_, err := core.SwitchMode(context.Background(), validator.ModeTransitionRequest{FromMode: "ask", ToMode: "debug"})
	require.Error(t, err)
	require.Contains(t, seen, orchestrator.EventModeChangeFailed)
}

func TestSwitchModeWithoutValidatorIsUnsupported(t *testing.T) {
	core, _ := newCore(t, nil)

	_, err := core.SwitchMode(context.Background(), validator.ModeTransitionRequest{FromMode: "ask", ToMode: "code"})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindUnsupported))
}
