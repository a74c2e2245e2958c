// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package purge hard-deletes old room history in the background.
//
// A purge names a room and a topological boundary; everything
// strictly before the boundary becomes eligible for deletion, except
// events still referenced by current state or forward extremities.
// Deletion runs in bounded batches, one transaction each, so readers
// paginating concurrently see each batch atomically and the database
// is never locked for the whole run.
package purge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/hearth"
	"github.com/bureau-foundation/hearth/lib/clock"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/store"
	"github.com/bureau-foundation/hearth/token"
)

// State is a purge run's lifecycle state.
type State string

const (
	StateActive   State = "active"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// Status is a snapshot of one purge run.
type Status struct {
	ID            string
	RoomID        ref.RoomID
	State         State
	EventsDeleted int64

	// Error holds the failure message when State is StateFailed.
	Error string
}

// DefaultBatchSize bounds how many events one purge transaction may
// delete.
const DefaultBatchSize = 100

// Config configures a purge manager.
type Config struct {
	// Store is the event store to purge. Required.
	Store *store.Store

	// Clock timestamps completed checkpoints.
	// Required.
	Clock clock.Clock

	// BatchSize bounds each deletion transaction. Zero means
	// DefaultBatchSize.
	BatchSize int

	// Logger receives purge progress. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Manager runs purges and tracks their status.
//
// The status registry is never evicted: a long-lived process that
// purges continually accumulates completed entries. Callers that
// care can restart the process; an eviction policy is future work.
type Manager struct {
	store     *store.Store
	clock     clock.Clock
	logger    *slog.Logger
	batchSize int

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu          sync.Mutex
	statuses    map[string]*Status
	activeRooms map[string]string // room ID -> purge ID
}

// NewManager returns a purge manager ready to accept purges.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, hearth.Internal("purge: Store is required")
	}
	if cfg.Clock == nil {
		return nil, hearth.Internal("purge: Clock is required")
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:       cfg.Store,
		clock:       cfg.Clock,
		logger:      logger,
		batchSize:   batchSize,
		baseCtx:     baseCtx,
		cancel:      cancel,
		statuses:    make(map[string]*Status),
		activeRooms: make(map[string]string),
	}, nil
}

// Close stops in-flight purges and waits for their goroutines. A
// purge interrupted by Close reports failed; re-running it after
// restart is safe because completed work is excluded by the
// checkpoint and deletion itself is idempotent.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// StartPurge begins purging room history strictly before upTo and
// returns the purge ID for status polling.
//
// One purge per room may be active at a time; a second request
// conflicts rather than queueing. A boundary at or before the
// room's completed checkpoint is already satisfied: the purge
// completes immediately without touching the database.
func (m *Manager) StartPurge(ctx context.Context, roomID ref.RoomID, upTo token.TopologicalToken, deleteLocal bool) (string, error) {
	exists, err := m.store.RoomExists(ctx, roomID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", hearth.NotFound("room %s not found", roomID)
	}

	checkpoint, hasCheckpoint, err := m.store.LoadPurgeCheckpoint(ctx, roomID)
	if err != nil {
		return "", err
	}

	purgeID, err := newPurgeID()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if activeID, busy := m.activeRooms[roomID.String()]; busy {
		m.mu.Unlock()
		return "", hearth.Conflict("purge %s already active for %s", activeID, roomID)
	}

	status := &Status{ID: purgeID, RoomID: roomID, State: StateActive}
	m.statuses[purgeID] = status

	if hasCheckpoint && !checkpoint.Boundary().Less(upTo) {
		status.State = StateComplete
		m.mu.Unlock()
		m.logger.Info("purge already satisfied",
			"purge", purgeID,
			"room", roomID.String(),
			"boundary", upTo.Encode(),
		)
		return purgeID, nil
	}

	m.activeRooms[roomID.String()] = purgeID
	m.mu.Unlock()

	m.logger.Info("purge started",
		"purge", purgeID,
		"room", roomID.String(),
		"boundary", upTo.Encode(),
		"delete_local", deleteLocal,
	)

	m.wg.Add(1)
	go m.run(purgeID, roomID, upTo, deleteLocal)
	return purgeID, nil
}

// Status returns a purge run's current status.
func (m *Manager) Status(purgeID string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[purgeID]
	if !ok {
		return Status{}, hearth.NotFound("purge %s not found", purgeID)
	}
	return *status, nil
}

func (m *Manager) run(purgeID string, roomID ref.RoomID, upTo token.TopologicalToken, deleteLocal bool) {
	defer m.wg.Done()

	var total int64
	for {
		if err := m.baseCtx.Err(); err != nil {
			m.finish(purgeID, roomID, StateFailed, total, "purge interrupted by shutdown")
			return
		}

		deleted, err := m.store.DeleteEventBatch(m.baseCtx, roomID, upTo, m.batchSize, !deleteLocal)
		total += int64(deleted)
		if err != nil {
			m.logger.Error("purge batch failed",
				"purge", purgeID,
				"room", roomID.String(),
				"error", err,
			)
			m.finish(purgeID, roomID, StateFailed, total, err.Error())
			return
		}
		if deleted < m.batchSize {
			break
		}
	}

	err := m.store.SavePurgeCheckpoint(m.baseCtx, roomID, store.PurgeCheckpoint{
		Depth:         upTo.Depth,
		Ordering:      upTo.Ordering,
		CompletedAt:   m.clock.Now().UnixMilli(),
		EventsDeleted: total,
	})
	if err != nil {
		m.finish(purgeID, roomID, StateFailed, total, err.Error())
		return
	}

	m.finish(purgeID, roomID, StateComplete, total, "")
	m.logger.Info("purge complete",
		"purge", purgeID,
		"room", roomID.String(),
		"events_deleted", total,
	)
}

func (m *Manager) finish(purgeID string, roomID ref.RoomID, state State, total int64, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.activeRooms, roomID.String())
	status := m.statuses[purgeID]
	status.State = state
	status.EventsDeleted = total
	status.Error = message
}

func newPurgeID() (string, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", hearth.Internal("purge: generate ID: %v", err)
	}
	return hex.EncodeToString(raw), nil
}
