// Package team implements the shared team-state manager: membership with
// set semantics, a shallow-merged shared context, and a bounded per-team
// history of applied updates. Every mutation emits a bus event so the rest
// of the core can react without polling.
package team

import (
	"context"
	"sync"
	"time"

	"github.com/pairdev/orchestrator-core/bus"
	"github.com/pairdev/orchestrator-core/errs"
	"github.com/pairdev/orchestrator-core/telemetry"
)

const (
	// DefaultMaxHistoryPerTeam bounds the per-team update history when Options
	// does not override it.
	DefaultMaxHistoryPerTeam = 100

	// EventTeamCreated is emitted by CreateTeamState.
	EventTeamCreated = "teamCreated"
	// EventTeamUpdated is emitted by UpdateTeamState and its sugar methods.
	EventTeamUpdated = "teamUpdated"
	// EventTeamDeleted is emitted by DeleteTeamState.
	EventTeamDeleted = "teamDeleted"
)

type (
	// TeamState is the current membership and shared context for a team.
	// Members preserves insertion order of distinct member ids; duplicates
	// are rejected silently rather than producing an error.
	TeamState struct {
		TeamID        string
		Members       []string
		SharedContext map[string]any
		Version       int64
		LastUpdated   time.Time
	}

	// TeamUpdateRecord captures one applied mutation for replay/audit via
	// GetTeamUpdateHistory. Changes mirrors only the fields the caller
	// actually supplied.
	TeamUpdateRecord struct {
		TeamID    string
		UpdaterID string
		Changes   Changes
		Timestamp time.Time
	}

	// Changes is a partial TeamState: nil fields mean "leave unchanged".
	Changes struct {
		Members       []string
		SharedContext map[string]any
	}

	// Options configures a Manager. MaxHistoryPerTeam, Bus, Logger, and
	// Metrics all default to usable zero values when left unset.
	Options struct {
		MaxHistoryPerTeam int
		Bus               *bus.Bus
		Logger            telemetry.Logger
		Metrics           telemetry.Metrics
	}

	// Manager is the TeamStateManager: each team's state is guarded by its
	// own lock so operations on distinct teamIds never contend.
	Manager struct {
		maxHistory int
		bus        *bus.Bus
		logger     telemetry.Logger
		metrics    telemetry.Metrics

		mu    sync.RWMutex
		teams map[string]*teamEntry
	}

	teamEntry struct {
		mu      sync.Mutex
		state   TeamState
		history []TeamUpdateRecord
	}
)

// New constructs a Manager per opts.
func New(opts Options) *Manager {
	maxHistory := opts.MaxHistoryPerTeam
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistoryPerTeam
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Manager{
		maxHistory: maxHistory,
		bus:        opts.Bus,
		logger:     logger,
		metrics:    metrics,
		teams:      make(map[string]*teamEntry),
	}
}

// CreateTeamState creates a fresh TeamState with version 1. members and
// sharedContext default to empty when nil. Fails with errs.KindValidation
// (AlreadyExists) if teamId is already in use.
func (m *Manager) CreateTeamState(ctx context.Context, teamID string, members []string, sharedContext map[string]any) (TeamState, error) {
	if teamID == "" {
		return TeamState{}, errs.New(errs.KindValidation, "teamId must be non-empty")
	}

	m.mu.Lock()
	if _, exists := m.teams[teamID]; exists {
		m.mu.Unlock()
		return TeamState{}, errs.Errorf(errs.KindValidation, "team %q already exists", teamID)
	}
	entry := &teamEntry{
		state: TeamState{
			TeamID:        teamID,
			Members:       dedupeMembers(members),
			SharedContext: copyContext(sharedContext),
			Version:       1,
			LastUpdated:   now(),
		},
	}
	m.teams[teamID] = entry
	m.mu.Unlock()

	state := entry.state
	m.publish(ctx, EventTeamCreated, teamID, state)
	m.metrics.IncCounter("team.created", 1, "team_id", teamID)
	return state.clone(), nil
}

// UpdateTeamState applies changes to teamId: Members, if present, replaces
// the membership list wholesale (after dedupe); SharedContext, if present,
// is shallow-merged over the existing map. Version increments and a
// TeamUpdateRecord is appended to history, evicting the oldest entry once
// history exceeds MaxHistoryPerTeam. Fails with errs.KindValidation
// (NotFound) if teamId is absent.
func (m *Manager) UpdateTeamState(ctx context.Context, teamID, updaterID string, changes Changes) (TeamState, error) {
	entry, err := m.lookup(teamID)
	if err != nil {
		return TeamState{}, err
	}

	entry.mu.Lock()
	if changes.Members != nil {
		entry.state.Members = dedupeMembers(changes.Members)
	}
	if changes.SharedContext != nil {
		entry.state.SharedContext = mergeContext(entry.state.SharedContext, changes.SharedContext)
	}
	entry.state.Version++
	entry.state.LastUpdated = now()
	record := TeamUpdateRecord{
		TeamID:    teamID,
		UpdaterID: updaterID,
		Changes:   changes,
		Timestamp: entry.state.LastUpdated,
	}
	entry.appendHistory(record, m.maxHistory)
	state := entry.state.clone()
	entry.mu.Unlock()

	m.publish(ctx, EventTeamUpdated, teamID, updatePayload{State: state, Record: record})
	m.metrics.IncCounter("team.updated", 1, "team_id", teamID)
	return state, nil
}

// AddTeamMember is idempotent: if memberID is already a member, the current
// state is returned unchanged with no version bump and no event.
func (m *Manager) AddTeamMember(ctx context.Context, teamID, updaterID, memberID string) (TeamState, error) {
	entry, err := m.lookup(teamID)
	if err != nil {
		return TeamState{}, err
	}

	entry.mu.Lock()
	for _, existing := range entry.state.Members {
		if existing == memberID {
			state := entry.state.clone()
			entry.mu.Unlock()
			return state, nil
		}
	}
	entry.mu.Unlock()

	return m.UpdateTeamState(ctx, teamID, updaterID, Changes{Members: append(append([]string{}, entry.membersSnapshot()...), memberID)})
}

// RemoveTeamMember is a no-op (no version bump, no event) if memberID is
// not currently a member.
func (m *Manager) RemoveTeamMember(ctx context.Context, teamID, updaterID, memberID string) (TeamState, error) {
	entry, err := m.lookup(teamID)
	if err != nil {
		return TeamState{}, err
	}

	before := entry.membersSnapshot()
	after := make([]string, 0, len(before))
	removed := false
	for _, existing := range before {
		if existing == memberID {
			removed = true
			continue
		}
		after = append(after, existing)
	}
	if !removed {
		return entry.stateSnapshot(), nil
	}
	return m.UpdateTeamState(ctx, teamID, updaterID, Changes{Members: after})
}

// UpdateSharedContext is sugar over UpdateTeamState touching only
// sharedContext.
func (m *Manager) UpdateSharedContext(ctx context.Context, teamID, updaterID string, partial map[string]any) (TeamState, error) {
	return m.UpdateTeamState(ctx, teamID, updaterID, Changes{SharedContext: partial})
}

// GetTeamUpdateHistory returns up to limit of the most recent update
// records in chronological order. limit <= 0 means "all retained entries".
// Unknown teams return an empty, non-nil slice.
func (m *Manager) GetTeamUpdateHistory(teamID string, limit int) []TeamUpdateRecord {
	entry, err := m.lookup(teamID)
	if err != nil {
		return []TeamUpdateRecord{}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	history := entry.history
	if limit > 0 && limit < len(history) {
		history = history[len(history)-limit:]
	}
	out := make([]TeamUpdateRecord, len(history))
	copy(out, history)
	return out
}

// DeleteTeamState purges teamId's state and history, emitting
// EventTeamDeleted. Returns false if teamId was unknown.
func (m *Manager) DeleteTeamState(ctx context.Context, teamID string) bool {
	m.mu.Lock()
	_, exists := m.teams[teamID]
	if exists {
		delete(m.teams, teamID)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}
	m.publish(ctx, EventTeamDeleted, teamID, teamID)
	m.metrics.IncCounter("team.deleted", 1, "team_id", teamID)
	return true
}

type updatePayload struct {
	State  TeamState
	Record TeamUpdateRecord
}

func (m *Manager) lookup(teamID string) (*teamEntry, error) {
	m.mu.RLock()
	entry, ok := m.teams[teamID]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.Errorf(errs.KindValidation, "team %q not found", teamID)
	}
	return entry, nil
}

func (m *Manager) publish(ctx context.Context, eventType, teamID string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, bus.Event{
		ID:        eventType + "." + teamID + "." + time.Now().UTC().Format(time.RFC3339Nano),
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Source:    "team.Manager",
		Payload:   payload,
	})
}

func (e *teamEntry) appendHistory(record TeamUpdateRecord, maxHistory int) {
	e.history = append(e.history, record)
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
}

func (e *teamEntry) membersSnapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.state.Members...)
}

func (e *teamEntry) stateSnapshot() TeamState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

func (s TeamState) clone() TeamState {
	out := s
	out.Members = append([]string{}, s.Members...)
	out.SharedContext = copyContext(s.SharedContext)
	return out
}

func dedupeMembers(members []string) []string {
	out := make([]string, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, id := range members {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func copyContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}

func mergeContext(base, partial map[string]any) map[string]any {
	out := copyContext(base)
	for k, v := range partial {
		out[k] = v
	}
	return out
}

func now() time.Time {
	return time.Now()
}
