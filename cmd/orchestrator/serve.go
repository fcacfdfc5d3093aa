package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator as a long-lived process, serving the event feed and metrics",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe builds the app with --metrics-port honored and keeps an HTTP
// server up exposing the websocket event feed at "/events" and, when
// metrics-port was set, Prometheus metrics at "/metrics". It blocks until
// the server errors or the process receives a shutdown signal.
func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Flags())
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/events", a.wsFeed)
	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics.Handler())
	}

	port, _ := cmd.Flags().GetInt("metrics-port")
	addr := ":8080"
	if port > 0 {
		addr = ":" + strconv.Itoa(port)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	routes := "/events"
	if a.metrics != nil {
		routes += ", /metrics"
	}
	printf("serving on %s (%s)\n", addr, routes)
	err = srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
