package auditlog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairdev/orchestrator-core/handoff"
	"github.com/pairdev/orchestrator-core/handoff/auditlog"
)

func TestRecordAndRecent(t *testing.T) {
	l, err := auditlog.Open(auditlog.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	ctx := context.Background()
	require.NoError(t, l.RecordOutcome(ctx, handoff.Outcome{HandoffID: "h1", FinalState: handoff.StateSucceeded, Result: "ok"}))
	require.NoError(t, l.RecordOutcome(ctx, handoff.Outcome{HandoffID: "h2", FinalState: handoff.StateRolledBack}))

	records, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "h2", records[0].HandoffID)
	assert.Equal(t, "h1", records[1].HandoffID)
}

func TestForHandoffReturnsOldestFirst(t *testing.T) {
	l, err := auditlog.Open(auditlog.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	ctx := context.Background()
	require.NoError(t, l.RecordOutcome(ctx, handoff.Outcome{HandoffID: "h1", FinalState: handoff.StateFallingBack}))
	require.NoError(t, l.RecordOutcome(ctx, handoff.Outcome{HandoffID: "h1", FinalState: handoff.StateFallbackSucceeded}))
	require.NoError(t, l.RecordOutcome(ctx, handoff.Outcome{HandoffID: "h2", FinalState: handoff.StateSucceeded}))

	records, err := l.ForHandoff(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, string(handoff.StateFallingBack), records[0].FinalState)
	assert.Equal(t, string(handoff.StateFallbackSucceeded), records[1].FinalState)
}

func TestMaxRowsReapsOldest(t *testing.T) {
	l, err := auditlog.Open(auditlog.Options{MaxRows: 2})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	ctx := context.Background()
	require.NoError(t, l.RecordOutcome(ctx, handoff.Outcome{HandoffID: "a", FinalState: handoff.StateSucceeded}))
	require.NoError(t, l.RecordOutcome(ctx, handoff.Outcome{HandoffID: "b", FinalState: handoff.StateSucceeded}))
	require.NoError(t, l.RecordOutcome(ctx, handoff.Outcome{HandoffID: "c", FinalState: handoff.StateSucceeded}))

	records, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].HandoffID)
	assert.Equal(t, "b", records[1].HandoffID)
}
