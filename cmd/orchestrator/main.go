// Command orchestrator is the CLI surface for the agent orchestration and
// validation core: deploy, handoff, fidelity report, sandbox status, and a
// long-lived serve mode exposing the event feed and metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"goa.design/clue/log"
)

// console is the CLI's own zerolog logger, distinct from the
// telemetry.Logger each component receives: this one talks to the operator
// at the terminal, the other instruments the running components.
var console zerolog.Logger

// rootContext carries the clue-configured logging context commands should
// use instead of a bare context.Background(), so that when
// --telemetry-backend=clue is selected, telemetry.ClueLogger's calls into
// goa.design/clue/log actually pick up the configured format and debug
// settings rather than clue's own unconfigured defaults.
var rootContext = context.Background()

func main() {
	if err := rootCmd.Execute(); err != nil {
		console.Error().Err(err).Msg("command failed")
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Agent orchestration and validation core CLI",
	Long: `orchestrator drives the agent swarm's event bus, handoff
coordinator, error-recovery pipeline, sandbox manager, and fidelity
tracker from the command line.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOut, _ := cmd.Flags().GetBool("log-json")
		console = newConsoleLogger(level, jsonOut)

		if backend, _ := cmd.Flags().GetString("telemetry-backend"); backend == "clue" {
			format := log.FormatTerminal
			if jsonOut {
				format = log.FormatJSON
			}
			ctx := log.Context(context.Background(), log.WithFormat(format))
			if level == "debug" {
				ctx = log.Context(ctx, log.WithDebug())
			}
			rootContext = ctx
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("personas-dir", "", "Directory of persona YAML documents (optional; built-in personas are always registered)")
	rootCmd.PersistentFlags().String("audit-db", ":memory:", "Path to the handoff audit ledger (sqlite); \":memory:\" for a non-persisted ledger")
	rootCmd.PersistentFlags().Int("max-concurrency", 0, "Sandbox concurrency ceiling (0 = sandbox.DefaultMaxConcurrency)")
	rootCmd.PersistentFlags().Int("metrics-port", 0, "If set, serve Prometheus metrics and the event websocket feed on this port")
	rootCmd.PersistentFlags().String("pulse-redis-addr", "", "If set, mirror every bus event onto goa.design/pulse streams at this Redis address")
	rootCmd.PersistentFlags().String("telemetry-backend", "noop", "Logging/metrics/tracing backend: \"noop\" or \"clue\" (goa.design/clue/log + OpenTelemetry)")
}

func newConsoleLogger(level string, jsonOutput bool) zerolog.Logger {
	var lvl zerolog.Level
	switch level {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	default:
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if jsonOutput {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

func printf(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format, args...)
}
