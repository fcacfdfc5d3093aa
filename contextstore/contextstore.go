// Package contextstore implements the content-addressed handoff context
// store: a canonical, deterministic encoding of an opaque structured value
// plus a checksum verified at restore time, with per-handoffId critical
// sections so distinct handoffs never contend.
package contextstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/pairdev/orchestrator-core/bus"
	"github.com/pairdev/orchestrator-core/errs"
	"github.com/pairdev/orchestrator-core/telemetry"
)

const (
	// EventContextPreserved is emitted by PreserveContext.
	EventContextPreserved = "context.preserved"
	// EventContextRestored is emitted by RestoreContext on success.
	EventContextRestored = "context.restored"
	// EventContextRestorationFailed is emitted by RestoreContext on failure.
	EventContextRestorationFailed = "context.restoration.failed"
	// EventContextRollback is emitted by RollbackContext, even when the
	// handoffId had no entry.
	EventContextRollback = "context.rollback"
	// EventContextPreservationFailed is emitted by PreserveContext when
	// ctxValue fails the serializability check or JSON encoding itself.
	EventContextPreservationFailed = "context.preservation.failed"
)

type (
	// PreservedContext is the stored record for one handoffId: the
	// canonical serialized payload, its checksum, and bookkeeping fields.
	PreservedContext struct {
		HandoffID string
		Payload   []byte
		Checksum  string
		SizeBytes int
		CreatedAt time.Time
	}

	// Statistics summarizes the store's current contents.
	Statistics struct {
		PreservedCount   int
		TotalSizeBytes   int
		OldestContextAge time.Duration
		NewestContextAge time.Duration
	}

	// Options configures a Store.
	Options struct {
		Bus     *bus.Bus
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
	}

	// Store is the ContextPreservationStore.
	Store struct {
		bus     *bus.Bus
		logger  telemetry.Logger
		metrics telemetry.Metrics

		mu      sync.RWMutex
		entries map[string]*handoffEntry
	}

	handoffEntry struct {
		mu      sync.Mutex
		record  PreservedContext
		present bool
	}
)

// New constructs a Store per opts.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Store{
		bus:     opts.Bus,
		logger:  logger,
		metrics: metrics,
		entries: make(map[string]*handoffEntry),
	}
}

// PreserveContext serializes ctxValue to the canonical encoding, computes
// its checksum, and stores it under handoffId, overwriting any prior entry.
// Fails with errs.KindIntegrity if ctxValue contains a cycle or a
// non-serializable primitive.
func (s *Store) PreserveContext(ctx context.Context, handoffID string, ctxValue any) (PreservedContext, error) {
	if err := validateSerializable(ctxValue); err != nil {
		s.publish(ctx, EventContextPreservationFailed, handoffID, map[string]any{"handoffId": handoffID, "error": err.Error()})
		return PreservedContext{}, err
	}
	payload, err := json.Marshal(ctxValue)
	if err != nil {
		wrapped := errs.Wrap(errs.KindIntegrity, "serialize context", err)
		s.publish(ctx, EventContextPreservationFailed, handoffID, map[string]any{"handoffId": handoffID, "error": wrapped.Error()})
		return PreservedContext{}, wrapped
	}

	record := PreservedContext{
		HandoffID: handoffID,
		Payload:   payload,
		Checksum:  checksum(payload),
		SizeBytes: len(payload),
		CreatedAt: time.Now(),
	}

	entry := s.entryFor(handoffID)
	entry.mu.Lock()
	entry.record = record
	entry.present = true
	entry.mu.Unlock()

	s.publish(ctx, EventContextPreserved, handoffID, map[string]any{
		"handoffId": handoffID,
		"sizeBytes": record.SizeBytes,
		"checksum":  record.Checksum,
	})
	s.metrics.IncCounter("contextstore.preserved", 1, "handoff_id", handoffID)
	return record, nil
}

// RestoreContext fetches the entry for handoffId, recomputes the checksum
// over the stored bytes, and deserializes on a match. Fails with
// errs.KindValidation if absent, errs.KindIntegrity on checksum mismatch.
func (s *Store) RestoreContext(ctx context.Context, handoffID string) (any, error) {
	entry, ok := s.lookup(handoffID)
	if !ok {
		err := errs.Errorf(errs.KindValidation, "no preserved context for handoff %q", handoffID)
		s.publish(ctx, EventContextRestorationFailed, handoffID, map[string]any{"handoffId": handoffID, "error": err.Error()})
		return nil, err
	}

	entry.mu.Lock()
	record := entry.record
	entry.mu.Unlock()

	if checksum(record.Payload) != record.Checksum {
		err := errs.Errorf(errs.KindIntegrity, "checksum mismatch restoring handoff %q", handoffID)
		s.publish(ctx, EventContextRestorationFailed, handoffID, map[string]any{"handoffId": handoffID, "error": err.Error()})
		return nil, err
	}

	var value any
	if err := json.Unmarshal(record.Payload, &value); err != nil {
		wrapped := errs.Wrap(errs.KindIntegrity, "deserialize context", err)
		s.publish(ctx, EventContextRestorationFailed, handoffID, map[string]any{"handoffId": handoffID, "error": wrapped.Error()})
		return nil, wrapped
	}

	s.publish(ctx, EventContextRestored, handoffID, map[string]any{"handoffId": handoffID})
	s.metrics.IncCounter("contextstore.restored", 1, "handoff_id", handoffID)
	return value, nil
}

// RollbackContext evicts the entry for handoffId and always emits
// EventContextRollback, even when no entry existed.
func (s *Store) RollbackContext(ctx context.Context, handoffID string) error {
	s.mu.Lock()
	delete(s.entries, handoffID)
	s.mu.Unlock()

	s.publish(ctx, EventContextRollback, handoffID, map[string]any{"handoffId": handoffID})
	s.metrics.IncCounter("contextstore.rollback", 1, "handoff_id", handoffID)
	return nil
}

// GetStatistics summarizes the store's current contents.
func (s *Store) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{}
	now := time.Now()
	var oldest, newest time.Time
	for _, entry := range s.entries {
		entry.mu.Lock()
		rec := entry.record
		entry.mu.Unlock()

		stats.PreservedCount++
		stats.TotalSizeBytes += rec.SizeBytes
		if oldest.IsZero() || rec.CreatedAt.Before(oldest) {
			oldest = rec.CreatedAt
		}
		if newest.IsZero() || rec.CreatedAt.After(newest) {
			newest = rec.CreatedAt
		}
	}
	if stats.PreservedCount > 0 {
		stats.OldestContextAge = now.Sub(oldest)
		stats.NewestContextAge = now.Sub(newest)
	}
	return stats
}

func (s *Store) entryFor(handoffID string) *handoffEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[handoffID]
	if !ok {
		entry = &handoffEntry{}
		s.entries[handoffID] = entry
	}
	return entry
}

func (s *Store) lookup(handoffID string) (*handoffEntry, bool) {
	s.mu.RLock()
	entry, ok := s.entries[handoffID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	entry.mu.Lock()
	present := entry.present
	entry.mu.Unlock()
	return entry, present
}

func (s *Store) publish(ctx context.Context, eventType, handoffID string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, bus.Event{
		ID:        eventType + "." + handoffID,
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Source:    "contextstore.Store",
		Payload:   payload,
	})
}

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
