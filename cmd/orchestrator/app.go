package main

import (
	"strconv"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/pairdev/orchestrator-core/bus"
	"github.com/pairdev/orchestrator-core/bus/pulsebridge"
	"github.com/pairdev/orchestrator-core/bus/wsfeed"
	"github.com/pairdev/orchestrator-core/contextstore"
	"github.com/pairdev/orchestrator-core/fallback"
	"github.com/pairdev/orchestrator-core/fidelity"
	"github.com/pairdev/orchestrator-core/handoff"
	"github.com/pairdev/orchestrator-core/handoff/auditlog"
	"github.com/pairdev/orchestrator-core/orchestrator"
	"github.com/pairdev/orchestrator-core/persona"
	"github.com/pairdev/orchestrator-core/recovery"
	"github.com/pairdev/orchestrator-core/sandbox"
	"github.com/pairdev/orchestrator-core/sandbox/inmem"
	"github.com/pairdev/orchestrator-core/team"
	"github.com/pairdev/orchestrator-core/telemetry"
	"github.com/pairdev/orchestrator-core/validator"
)

// modeSet is the closed set of personas/modes the Validator and
// HandoffCoordinator recognize, per spec §3's ModeTransitionRequest.
var modeSet = []string{"ask", "code", "review", "debug", "architect"}

// app wires the full component graph for one CLI invocation. Per spec §9's
// open question, nothing here persists across process restarts: the audit
// ledger defaults to ":memory:" and every in-process store starts empty.
type app struct {
	bus          *bus.Bus
	team         *team.Manager
	contextStore *contextstore.Store
	validator    *validator.Validator
	recovery     *recovery.Manager
	fallback     *fallback.Registry
	fidelity     *fidelity.Tracker
	sandbox      *sandbox.Manager
	handoff      *handoff.Coordinator
	orchestrator *orchestrator.Core
	personas     *persona.Loader
	wsFeed       *wsfeed.Feed
	auditLog     *auditlog.Log
	metrics      *telemetry.PrometheusMetrics
	pulseClient  pulsebridge.Client
}

func buildApp(cmd cobraFlags) (*app, error) {
	b := bus.New()

	// telemetry-backend=clue swaps the Clue+OpenTelemetry logger, metrics,
	// and tracer in for the no-op defaults. metrics-port takes precedence
	// over it for the Metrics seam specifically, since Prometheus is the
	// backend serveCmd's "/metrics" endpoint actually exposes.
	var logger telemetry.Logger
	var metrics telemetry.Metrics
	var tracer telemetry.Tracer
	if backend, _ := cmd.GetString("telemetry-backend"); backend == "clue" {
		logger = telemetry.NewClueLogger()
		metrics = telemetry.NewClueMetrics()
		tracer = telemetry.NewClueTracer()
	}

	// metrics-port > 0 opts every component into real Prometheus
	// instrumentation instead of whatever the block above selected; see
	// serveCmd, which is the only command that reads this recorder's
	// Handler().
	var promMetrics *telemetry.PrometheusMetrics
	if port, _ := cmd.GetInt("metrics-port"); port > 0 {
		promMetrics = telemetry.NewPrometheusMetrics()
		metrics = promMetrics
	}

	personas := persona.NewLoader()
	registerBuiltinPersonas(personas)
	if dir, _ := cmd.GetString("personas-dir"); dir != "" {
		if err := personas.LoadDir(dir); err != nil {
			return nil, err
		}
	}

	auditPath, _ := cmd.GetString("audit-db")
	audit, err := auditlog.Open(auditlog.Options{Path: auditPath})
	if err != nil {
		return nil, err
	}

	v := validator.New(validator.Options{Modes: modeSet})
	cs := contextstore.New(contextstore.Options{Bus: b, Logger: logger, Metrics: metrics})
	rec := recovery.New(recovery.Options{Bus: b, Logger: logger, Metrics: metrics})
	fb := fallback.New(fallback.Options{Bus: b, Logger: logger, Metrics: metrics})
	ft := fidelity.New(fidelity.Options{Bus: b, Logger: logger, Metrics: metrics})
	tm := team.New(team.Options{Bus: b, Logger: logger, Metrics: metrics})

	maxConcurrency, _ := cmd.GetInt("max-concurrency")
	sb, err := sandbox.New(sandbox.Options{
		Provider:       inmem.New(),
		Bus:            b,
		MaxConcurrency: maxConcurrency,
		Throttle:       rate.NewLimiter(rate.Limit(50), 10),
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
	})
	if err != nil {
		return nil, err
	}

	hc := handoff.New(handoff.Options{
		Validator:    v,
		ContextStore: cs,
		Recovery:     rec,
		Fallback:     fb,
		AuditLog:     audit,
		Bus:          b,
		Logger:       logger,
		Metrics:      metrics,
		Tracer:       tracer,
	})

	oc, err := orchestrator.New(orchestrator.Options{
		Personas:  personas,
		Recovery:  rec,
		Tools:     builtinStageTools(sb, v),
		Bus:       b,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
		Validator: v,
	})
	if err != nil {
		return nil, err
	}

	feed := wsfeed.New(wsfeed.Options{Bus: b})

	// pulse-redis-addr > 0-length opts the bus into mirroring every event
	// onto goa.design/pulse streams, so an out-of-process collaborator can
	// tail the same history the in-process bus only ever delivers once.
	var pulseClient pulsebridge.Client
	if addr, _ := cmd.GetString("pulse-redis-addr"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		pc, err := pulsebridge.New(pulsebridge.Options{Redis: rdb})
		if err != nil {
			return nil, err
		}
		sink, err := pulsebridge.NewSink(pulsebridge.SinkOptions{Client: pc})
		if err != nil {
			return nil, err
		}
		b.Subscribe(bus.Wildcard, sink.Handler())
		pulseClient = pc
	}

	return &app{
		bus:          b,
		team:         tm,
		contextStore: cs,
		validator:    v,
		recovery:     rec,
		fallback:     fb,
		fidelity:     ft,
		sandbox:      sb,
		handoff:      hc,
		orchestrator: oc,
		personas:     personas,
		wsFeed:       feed,
		auditLog:     audit,
		metrics:      promMetrics,
		pulseClient:  pulseClient,
	}, nil
}

// cobraFlags is the subset of *cobra.Command's flag accessors app
// construction needs, so tests can supply a fake without importing cobra.
type cobraFlags interface {
	GetString(name string) (string, error)
	GetInt(name string) (int, error)
}

func registerBuiltinPersonas(l *persona.Loader) {
	defaults := []persona.Config{
		{
			Name:           "architect",
			Description:    "Designs system structure and component boundaries.",
			ExpertiseAreas: []string{"architecture", "api-design"},
			PromptTemplate: "You are the architect. Propose a structure for: {{.Task}}",
		},
		{
			Name:           "reviewer",
			Description:    "Reviews code changes for correctness and style.",
			ExpertiseAreas: []string{"code-review"},
			PromptTemplate: "You are the reviewer. Review: {{.Task}}",
		},
		{
			Name:           "debugger",
			Description:    "Diagnoses and fixes failing tests.",
			ExpertiseAreas: []string{"debugging"},
			PromptTemplate: "You are the debugger. Fix: {{.Task}}",
		},
		{
			Name:              "integrator",
			Description:       "Wires reviewed changes into the target branch.",
			ExpertiseAreas:    []string{"integration", "architecture"},
			PromptTemplate:    "You are the integrator. Integrate: {{.Task}}",
			Weights:           []float64{0.6, 0.4},
			TokenOptimization: persona.TokenOptimizationStandard,
		},
	}
	for _, cfg := range defaults {
		_ = l.Register(cfg)
	}
}

func parseTimeoutMs(s string) int {
	ms, _ := strconv.Atoi(s)
	return ms
}
