package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pairdev/orchestrator-core/bus"
	"github.com/pairdev/orchestrator-core/sandbox"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Inspect sandbox execution state",
}

var sandboxStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the sandbox manager's current admission state",
	RunE:  runSandboxStatus,
}

var sandboxExecCmd = &cobra.Command{
	Use:   "exec <language> <code>",
	Short: "Run one snippet in an ephemeral sandbox and print its result",
	Args:  cobra.ExactArgs(2),
	RunE:  runSandboxExec,
}

func init() {
	sandboxStatusCmd.Flags().Bool("watch", false, "Keep printing execution events as they happen, until interrupted")
	sandboxCmd.AddCommand(sandboxStatusCmd)

	sandboxExecCmd.Flags().String("timeout", "", "Execution timeout in milliseconds (0 or unset uses the sandbox default)")
	sandboxCmd.AddCommand(sandboxExecCmd)

	rootCmd.AddCommand(sandboxCmd)
}

func runSandboxExec(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Flags())
	if err != nil {
		return err
	}

	language, code := args[0], args[1]
	timeoutFlag, _ := cmd.Flags().GetString("timeout")
	timeoutMs := parseTimeoutMs(timeoutFlag)

	result, err := a.sandbox.ExecuteCodeInSandbox(rootContext, code, language, timeoutMs)
	if err != nil {
		return err
	}
	printf("exitCode=%d\n", result.ExitCode)
	if result.Stdout != "" {
		printf("stdout:\n%s\n", result.Stdout)
	}
	if result.Stderr != "" {
		printf("stderr:\n%s\n", result.Stderr)
	}
	return nil
}

func runSandboxStatus(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Flags())
	if err != nil {
		return err
	}

	printStatus := func() {
		status := a.sandbox.GetConcurrencyStatus()
		printf("concurrency: current=%d max=%d available=%d\n", status.Current, status.Max, status.Available)
	}
	printStatus()

	watch, _ := cmd.Flags().GetBool("watch")
	if !watch {
		return nil
	}

	unsubscribe := a.bus.Subscribe(bus.Wildcard, func(ctx context.Context, ev bus.Event) error {
		switch ev.Type {
		case sandbox.EventExecutionCompleted, sandbox.EventExecutionFailed:
			printf("%s %v\n", ev.Type, ev.Payload)
			printStatus()
		}
		return nil
	})
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(rootContext, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}
