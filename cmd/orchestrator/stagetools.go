package main

import (
	"context"
	"fmt"

	"github.com/pairdev/orchestrator-core/errs"
	"github.com/pairdev/orchestrator-core/orchestrator"
	"github.com/pairdev/orchestrator-core/sandbox"
	"github.com/pairdev/orchestrator-core/validator"
)

// builtinStageTools wires the five deployment-workflow stages and the
// testing workflow's DEBUG stage for `orchestrator deploy`/workflow runs.
// VALIDATOR rejects an empty task, TEST runs the task through the sandbox
// manager, and REVIEWER, DEPLOYER, INTEGRATOR and DEBUG only annotate their
// input; v is not consulted. Task input is a plain string (the task
// description); each stage's output becomes the next stage's input.
func builtinStageTools(sb *sandbox.Manager, v *validator.Validator) map[orchestrator.Stage]orchestrator.StageTool {
	return map[orchestrator.Stage]orchestrator.StageTool{
		orchestrator.StageValidator: orchestrator.StageToolFunc(func(ctx context.Context, input any) (any, error) {
			task, _ := input.(string)
			if task == "" {
				return nil, errs.New(errs.KindValidation, "task must be non-empty")
			}
			return task, nil
		}),
		orchestrator.StageTest: orchestrator.StageToolFunc(func(ctx context.Context, input any) (any, error) {
			task := fmt.Sprint(input)
			result, err := sb.ExecuteCodeInSandbox(ctx, fmt.Sprintf("print(%q)", task), "python", 0)
			if err != nil {
				return nil, err
			}
			if result.ExitCode != 0 {
				return orchestrator.TestOutcome{Failures: 1, Detail: result}, nil
			}
			return orchestrator.TestOutcome{Failures: 0, Detail: result}, nil
		}),
		orchestrator.StageReviewer: orchestrator.StageToolFunc(func(ctx context.Context, input any) (any, error) {
			return fmt.Sprintf("reviewed: %v", input), nil
		}),
		orchestrator.StageDeployer: orchestrator.StageToolFunc(func(ctx context.Context, input any) (any, error) {
			return fmt.Sprintf("deployed: %v", input), nil
		}),
		orchestrator.StageIntegrator: orchestrator.StageToolFunc(func(ctx context.Context, input any) (any, error) {
			return fmt.Sprintf("integrated: %v", input), nil
		}),
		orchestrator.StageDebug: orchestrator.StageToolFunc(func(ctx context.Context, input any) (any, error) {
			outcome, _ := input.(orchestrator.TestOutcome)
			return fmt.Sprintf("debugged after %d failures", outcome.Failures), nil
		}),
	}
}
