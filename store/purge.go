// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hearth/lib/codec"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/token"
)

// PurgeCheckpoint records how far a completed purge advanced a
// room's retention boundary. Stored as a CBOR blob.
type PurgeCheckpoint struct {
	Depth         int64 `cbor:"depth"`
	Ordering      int64 `cbor:"ordering"`
	CompletedAt   int64 `cbor:"completed_at"`
	EventsDeleted int64 `cbor:"events_deleted"`
}

// Boundary returns the checkpoint's retention boundary token.
func (c PurgeCheckpoint) Boundary() token.TopologicalToken {
	return token.TopologicalToken{Depth: c.Depth, Ordering: c.Ordering}
}

// DeleteEventBatch hard-deletes up to batchSize events in roomID
// strictly before upTo in topological order, together with their
// graph edges. Events referenced by current state or by a forward
// extremity are never deleted; when keepLocal is set, locally
// authored events are also retained. Returns the number of events
// deleted.
//
// Each call is one IMMEDIATE transaction. WAL mode gives concurrent
// readers a stable snapshot across the batch.
func (s *Store) DeleteEventBatch(ctx context.Context, roomID ref.RoomID, upTo token.TopologicalToken, batchSize int, keepLocal bool) (deleted int, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: delete batch: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("store: begin delete transaction: %w", err)
	}
	defer endTransaction(&err)

	query := `
		SELECT event_id FROM events
		WHERE room_id = ?
		  AND (depth < ? OR (depth = ? AND stream_ordering < ?))
		  AND event_id NOT IN (SELECT event_id FROM room_state WHERE room_id = ?)
		  AND event_id NOT IN (SELECT event_id FROM forward_extremities WHERE room_id = ?)`
	args := []any{roomID.String(), upTo.Depth, upTo.Depth, upTo.Ordering, roomID.String(), roomID.String()}
	if keepLocal {
		query += "\n\t\t  AND local = 0"
	}
	query += "\n\t\tORDER BY depth ASC, stream_ordering ASC\n\t\tLIMIT ?"
	args = append(args, batchSize)

	var doomed []string
	err = sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			doomed = append(doomed, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("store: select purge batch in %s: %w", roomID, err)
	}

	for _, eventID := range doomed {
		err = sqlitex.Execute(conn,
			"DELETE FROM event_edges WHERE event_id = ? OR prev_event_id = ?",
			&sqlitex.ExecOptions{Args: []any{eventID, eventID}})
		if err != nil {
			return deleted, fmt.Errorf("store: delete edges of %s: %w", eventID, err)
		}
		err = sqlitex.Execute(conn,
			"DELETE FROM events WHERE event_id = ?",
			&sqlitex.ExecOptions{Args: []any{eventID}})
		if err != nil {
			return deleted, fmt.Errorf("store: delete event %s: %w", eventID, err)
		}
		deleted++
	}
	return deleted, nil
}

// SavePurgeCheckpoint records a completed purge boundary for the
// room, replacing any earlier checkpoint.
func (s *Store) SavePurgeCheckpoint(ctx context.Context, roomID ref.RoomID, checkpoint PurgeCheckpoint) error {
	encoded, err := codec.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("store: encode purge checkpoint: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: save purge checkpoint: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO purge_checkpoints (room_id, checkpoint)
		VALUES (?, ?)
		ON CONFLICT (room_id) DO UPDATE SET checkpoint = excluded.checkpoint`,
		&sqlitex.ExecOptions{Args: []any{roomID.String(), encoded}})
	if err != nil {
		return fmt.Errorf("store: save purge checkpoint %s: %w", roomID, err)
	}
	return nil
}

// LoadPurgeCheckpoint returns the room's completed purge boundary,
// and whether one exists.
func (s *Store) LoadPurgeCheckpoint(ctx context.Context, roomID ref.RoomID) (PurgeCheckpoint, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return PurgeCheckpoint{}, false, fmt.Errorf("store: load purge checkpoint: %w", err)
	}
	defer s.pool.Put(conn)

	var checkpoint PurgeCheckpoint
	var found bool
	err = sqlitex.Execute(conn,
		"SELECT checkpoint FROM purge_checkpoints WHERE room_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				encoded := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, encoded)
				if err := codec.Unmarshal(encoded, &checkpoint); err != nil {
					return fmt.Errorf("decode checkpoint: %w", err)
				}
				found = true
				return nil
			},
		})
	if err != nil {
		return PurgeCheckpoint{}, false, fmt.Errorf("store: load purge checkpoint %s: %w", roomID, err)
	}
	return checkpoint, found, nil
}

// RoomExists reports whether the room is known to this server.
func (s *Store) RoomExists(ctx context.Context, roomID ref.RoomID) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("store: room exists: %w", err)
	}
	defer s.pool.Put(conn)

	var exists bool
	err = sqlitex.Execute(conn,
		"SELECT 1 FROM rooms WHERE room_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				exists = true
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("store: room exists %s: %w", roomID, err)
	}
	return exists, nil
}
