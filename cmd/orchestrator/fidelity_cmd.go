package main

import (
	"encoding/json"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pairdev/orchestrator-core/fidelity"
)

var fidelityCmd = &cobra.Command{
	Use:   "fidelity",
	Short: "Inspect fidelity metrics",
}

var fidelityReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the current per-category fidelity report",
	RunE:  runFidelityReport,
}

func init() {
	fidelityReportCmd.Flags().Bool("json", false, "Print the report as JSON")
	fidelityCmd.AddCommand(fidelityReportCmd)
	rootCmd.AddCommand(fidelityCmd)
}

func runFidelityReport(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Flags())
	if err != nil {
		return err
	}

	// GetFidelityRates recomputes the same per-category rates and pushes
	// them to the metrics backend as gauges for out-of-process scraping;
	// the printed report below is built from ValidateFidelity directly.
	a.fidelity.GetFidelityRates()

	report := a.fidelity.ValidateFidelity()
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		buf, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		printf("%s\n", buf)
		return nil
	}

	categories := make([]fidelity.Category, 0, len(report.PerCategory))
	for c := range report.PerCategory {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	for _, c := range categories {
		r := report.PerCategory[c]
		status := "OK"
		if !r.OK {
			status = "BELOW THRESHOLD"
		}
		printf("%-28s rate=%.4f threshold=%.4f %s\n", c, r.Rate, r.Threshold, status)
	}
	printf("overall=%.4f allOperationsMeetThreshold=%v\n", report.OverallFidelity, report.AllOperationsMeetThreshold)
	return nil
}
