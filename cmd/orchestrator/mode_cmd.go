package main

import (
	"github.com/spf13/cobra"

	"github.com/pairdev/orchestrator-core/validator"
)

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Inspect and drive mode transitions",
}

var modeSwitchCmd = &cobra.Command{
	Use:   "switch",
	Short: "Validate and apply a mode transition",
	RunE:  runModeSwitch,
}

func init() {
	modeSwitchCmd.Flags().String("from", "", "Current mode (required)")
	modeSwitchCmd.Flags().String("to", "", "Requested mode (required)")
	modeSwitchCmd.Flags().String("reason", "", "Reason for the transition (optional)")
	_ = modeSwitchCmd.MarkFlagRequired("from")
	_ = modeSwitchCmd.MarkFlagRequired("to")
	modeCmd.AddCommand(modeSwitchCmd)
	rootCmd.AddCommand(modeCmd)
}

func runModeSwitch(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Flags())
	if err != nil {
		return err
	}

	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	reason, _ := cmd.Flags().GetString("reason")

	mode, err := a.orchestrator.SwitchMode(rootContext, validator.ModeTransitionRequest{
		FromMode: from,
		ToMode:   to,
		Reason:   reason,
	})
	if err != nil {
		printf("mode transition %s -> %s rejected: %v\n", from, to, err)
		return err
	}

	printf("mode is now %s\n", mode)
	return nil
}
