package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/pairdev/orchestrator-core/handoff"
)

var handoffCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Run a single handoff from one agent to another",
	RunE:  runHandoff,
}

func init() {
	handoffCmd.Flags().String("from", "", "Source agent id (required)")
	handoffCmd.Flags().String("to", "", "Target agent id (required)")
	handoffCmd.Flags().String("task", "", "Task id (required)")
	handoffCmd.Flags().String("context", "", "Task context, a plain string (optional)")
	_ = handoffCmd.MarkFlagRequired("from")
	_ = handoffCmd.MarkFlagRequired("to")
	_ = handoffCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(handoffCmd)
}

func runHandoff(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Flags())
	if err != nil {
		return err
	}

	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	task, _ := cmd.Flags().GetString("task")
	taskContext, _ := cmd.Flags().GetString("context")
	if taskContext == "" {
		taskContext = task
	}

	req := handoff.Request{
		SourceAgentID: from,
		TargetAgentID: to,
		TaskID:        task,
		Context:       map[string]any{"task": taskContext},
	}

	outcome, err := a.handoff.Handoff(rootContext, req, func(ctx context.Context) (any, error) {
		if _, ok := a.personas.Resolve(to); !ok {
			return nil, errors.New("target agent persona not recognized: " + to)
		}
		return map[string]any{"acknowledged": true, "by": to}, nil
	})
	if err != nil {
		printf("handoff %s ended in state %s: %v\n", outcome.HandoffID, outcome.FinalState, err)
		return err
	}

	printf("handoff %s succeeded (state=%s): %v\n", outcome.HandoffID, outcome.FinalState, outcome.Result)
	return nil
}
