package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/pairdev/orchestrator-core/errs"
	"github.com/pairdev/orchestrator-core/orchestrator"
	"github.com/pairdev/orchestrator-core/persona"
)

var deployCmd = &cobra.Command{
	Use:   "deploy <persona> [task]",
	Short: "Deploy an agent for a persona and optionally run its deployment workflow",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Flags())
	if err != nil {
		return err
	}

	personaName := args[0]
	result, err := a.orchestrator.DeployAgent(context.Background(), personaName)
	if err != nil {
		return err
	}

	printf("agent %s deployed (status=%s, persona=%s)\n", result.AgentID, result.Status, result.Persona.Name)
	printf("%s\n", persona.RenderDescriptionPlain(result.Persona))

	if len(args) < 2 {
		return nil
	}

	task := args[1]
	wf := a.orchestrator.RunDeploymentWorkflow(context.Background(), task)
	if !wf.Success {
		printf("workflow failed at stage %s: %v\n", wf.StageStoppedAt, wf.Errors)
		return errs.Errorf(errs.KindTerminal, "deployment workflow failed at stage %s: %v", wf.StageStoppedAt, wf.Errors)
	}
	printf("workflow succeeded: %s\n", formatExecutionPath(wf.ExecutionPath))
	return nil
}

func formatExecutionPath(path []orchestrator.Stage) string {
	out := ""
	for i, stage := range path {
		if i > 0 {
			out += " -> "
		}
		out += string(stage)
	}
	return out
}
