package team_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairdev/orchestrator-core/bus"
	"github.com/pairdev/orchestrator-core/team"
)

func TestCreateTeamState(t *testing.T) {
	m := team.New(team.Options{})
	ctx := context.Background()

	state, err := m.CreateTeamState(ctx, "t1", []string{"a", "a", "b"}, map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Version)
	assert.Equal(t, []string{"a", "b"}, state.Members)

	_, err = m.CreateTeamState(ctx, "t1", nil, nil)
	assert.Error(t, err)
}

func TestUpdateTeamStateVersionMonotonicity(t *testing.T) {
	m := team.New(team.Options{})
	ctx := context.Background()
	_, err := m.CreateTeamState(ctx, "t1", nil, nil)
	require.NoError(t, err)

	prev := int64(1)
	for i := 0; i < 5; i++ {
		state, err := m.UpdateTeamState(ctx, "t1", "updater", team.Changes{SharedContext: map[string]any{"i": i}})
		require.NoError(t, err)
		assert.Equal(t, prev+1, state.Version)
		prev = state.Version
	}
}

func TestAddTeamMemberIdempotent(t *testing.T) {
	m := team.New(team.Options{})
	ctx := context.Background()
	_, err := m.CreateTeamState(ctx, "t1", []string{"a"}, nil)
	require.NoError(t, err)

	state, err := m.AddTeamMember(ctx, "t1", "updater", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Version)

	state, err = m.AddTeamMember(ctx, "t1", "updater", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Version, "re-adding an existing member must not bump version")
}

func TestRemoveTeamMemberNoOp(t *testing.T) {
	m := team.New(team.Options{})
	ctx := context.Background()
	_, err := m.CreateTeamState(ctx, "t1", []string{"a"}, nil)
	require.NoError(t, err)

	state, err := m.RemoveTeamMember(ctx, "t1", "updater", "nonexistent")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Version)

	state, err = m.RemoveTeamMember(ctx, "t1", "updater", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Version)
	assert.Empty(t, state.Members)
}

// TestHistoryBound mirrors scenario S6: maxHistoryPerTeam=3, five updates,
// history retains the three most recent in chronological order, version
// equals 6 (1 initial + 5 updates).
func TestHistoryBound(t *testing.T) {
	m := team.New(team.Options{MaxHistoryPerTeam: 3})
	ctx := context.Background()
	_, err := m.CreateTeamState(ctx, "T", nil, nil)
	require.NoError(t, err)

	var last team.TeamState
	for i := 0; i < 5; i++ {
		last, err = m.UpdateTeamState(ctx, "T", "updater", team.Changes{SharedContext: map[string]any{"update": i}})
		require.NoError(t, err)
	}

	history := m.GetTeamUpdateHistory("T", 0)
	require.Len(t, history, 3)
	assert.Equal(t, 2, history[0].Changes.SharedContext["update"])
	assert.Equal(t, 3, history[1].Changes.SharedContext["update"])
	assert.Equal(t, 4, history[2].Changes.SharedContext["update"])
	assert.Equal(t, int64(6), last.Version)
}

func TestGetTeamUpdateHistoryUnknownTeam(t *testing.T) {
	m := team.New(team.Options{})
	assert.Empty(t, m.GetTeamUpdateHistory("ghost", 0))
}

func TestDeleteTeamState(t *testing.T) {
	m := team.New(team.Options{})
	ctx := context.Background()
	_, err := m.CreateTeamState(ctx, "t1", nil, nil)
	require.NoError(t, err)

	assert.True(t, m.DeleteTeamState(ctx, "t1"))
	assert.False(t, m.DeleteTeamState(ctx, "t1"))
	assert.Empty(t, m.GetTeamUpdateHistory("t1", 0))
}

func TestTeamStateManagerEmitsBusEvents(t *testing.T) {
	b := bus.New()
	m := team.New(team.Options{Bus: b})
	ctx := context.Background()

	var seen []string
	b.Subscribe(bus.Wildcard, func(_ context.Context, ev bus.Event) error {
		seen = append(seen, ev.Type)
		return nil
	})

	_, err := m.CreateTeamState(ctx, "t1", nil, nil)
	require.NoError(t, err)
	_, err = m.UpdateTeamState(ctx, "t1", "updater", team.Changes{SharedContext: map[string]any{"k": "v"}})
	require.NoError(t, err)
	m.DeleteTeamState(ctx, "t1")

	assert.Equal(t, []string{team.EventTeamCreated, team.EventTeamUpdated, team.EventTeamDeleted}, seen)
}

// TestConcurrentTeamsAreIndependent exercises the shared-resource policy:
// operations on distinct teamIds never contend.
func TestConcurrentTeamsAreIndependent(t *testing.T) {
	m := team.New(team.Options{})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := m.CreateTeamState(ctx, id, nil, nil)
		require.NoError(t, err)
	}

	done := make(chan struct{})
	for _, id := range []string{"a", "b", "c"} {
		id := id
		go func() {
			for i := 0; i < 50; i++ {
				_, _ = m.UpdateTeamState(ctx, id, "updater", team.Changes{SharedContext: map[string]any{"i": i}})
			}
			done <- struct{}{}
		}()
	}
	for range []string{"a", "b", "c"} {
		<-done
	}

	for _, id := range []string{"a", "b", "c"} {
		history := m.GetTeamUpdateHistory(id, 0)
		assert.LessOrEqual(t, len(history), team.DefaultMaxHistoryPerTeam)
	}
}
