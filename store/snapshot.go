// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hearth/auth"
	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// memberState is one user's derived membership in a room.
type memberState struct {
	membership event.Membership
	inviter    ref.UserID
	ordering   int64
}

// RoomSnapshot is a consistent view of one room's authorization-
// relevant state. Implements auth.StateSnapshot. Immutable once
// loaded.
type RoomSnapshot struct {
	roomID        ref.RoomID
	exists        bool
	creator       ref.UserID
	public        bool
	worldReadable bool
	powerLevels   auth.PowerLevels
	members       map[string]memberState
}

// Exists reports whether the room is known to this server.
func (r *RoomSnapshot) Exists() bool { return r.exists }

// Creator returns the room creator, or the zero UserID when the room
// does not exist.
func (r *RoomSnapshot) Creator() ref.UserID { return r.creator }

// Public reports the room's directory visibility.
func (r *RoomSnapshot) Public() bool { return r.public }

// WorldReadable reports whether history visibility opens the room to
// non-members.
func (r *RoomSnapshot) WorldReadable() bool { return r.worldReadable }

// Membership returns the user's current membership in the room.
func (r *RoomSnapshot) Membership(user ref.UserID) event.Membership {
	return r.members[user.String()].membership
}

// Inviter returns who invited the user, or the zero UserID.
func (r *RoomSnapshot) Inviter(user ref.UserID) ref.UserID {
	return r.members[user.String()].inviter
}

// MembershipOrdering returns the stream ordering of the member event
// behind the user's current membership, or 0.
func (r *RoomSnapshot) MembershipOrdering(user ref.UserID) int64 {
	return r.members[user.String()].ordering
}

// PowerLevels returns the room's parsed permission configuration.
func (r *RoomSnapshot) PowerLevels() auth.PowerLevels { return r.powerLevels }

// Snapshot loads a consistent authorization snapshot of a room. For
// an unknown room the snapshot exists (Exists() == false) so that
// the authorization engine can produce the correct denial kind.
func (s *Store) Snapshot(ctx context.Context, roomID ref.RoomID) (*RoomSnapshot, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: snapshot: %w", err)
	}
	defer s.pool.Put(conn)

	return s.loadSnapshot(conn, roomID)
}

// loadSnapshot reads the snapshot on an already-borrowed connection.
// The persist path calls this under the room write lock so the
// snapshot it authorizes against cannot race another writer.
func (s *Store) loadSnapshot(conn *sqlite.Conn, roomID ref.RoomID) (*RoomSnapshot, error) {
	snapshot := &RoomSnapshot{
		roomID:  roomID,
		members: make(map[string]memberState),
	}

	err := sqlitex.Execute(conn,
		"SELECT creator, visibility FROM rooms WHERE room_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				creator, err := ref.ParseUserID(stmt.ColumnText(0))
				if err != nil {
					return fmt.Errorf("stored creator: %w", err)
				}
				snapshot.exists = true
				snapshot.creator = creator
				snapshot.public = stmt.ColumnText(1) == "public"
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: snapshot %s: %w", roomID, err)
	}

	if !snapshot.exists {
		snapshot.powerLevels = auth.ParsePowerLevels(nil, ref.UserID{})
		return snapshot, nil
	}

	// Power levels and history visibility come from current state
	// events; both default sensibly when absent.
	powerContent, err := s.stateContent(conn, roomID, event.TypePowerLevels, "")
	if err != nil {
		return nil, err
	}
	snapshot.powerLevels = auth.ParsePowerLevels(powerContent, snapshot.creator)

	historyContent, err := s.stateContent(conn, roomID, event.TypeHistoryVisibility, "")
	if err != nil {
		return nil, err
	}
	if historyContent != nil {
		visibility, _ := historyContent[event.FieldHistoryVisibility].(string)
		snapshot.worldReadable = visibility == event.HistoryVisibilityWorldReadable
	}

	err = sqlitex.Execute(conn,
		"SELECT user_id, membership, inviter, stream_ordering FROM room_memberships WHERE room_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				membership, err := event.ParseMembership(stmt.ColumnText(1))
				if err != nil {
					return fmt.Errorf("stored membership for %s: %w", stmt.ColumnText(0), err)
				}
				state := memberState{
					membership: membership,
					ordering:   stmt.ColumnInt64(3),
				}
				if !stmt.ColumnIsNull(2) && stmt.ColumnText(2) != "" {
					inviter, err := ref.ParseUserID(stmt.ColumnText(2))
					if err != nil {
						return fmt.Errorf("stored inviter: %w", err)
					}
					state.inviter = inviter
				}
				snapshot.members[stmt.ColumnText(0)] = state
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: snapshot members %s: %w", roomID, err)
	}

	return snapshot, nil
}

// stateContent returns the decoded content of the current state
// event for (type, stateKey), or nil when the room has none.
func (s *Store) stateContent(conn *sqlite.Conn, roomID ref.RoomID, eventType, stateKey string) (map[string]any, error) {
	var content map[string]any
	err := sqlitex.Execute(conn, `
		SELECT e.content, e.content_codec, e.content_size
		FROM room_state rs JOIN events e ON e.event_id = rs.event_id
		WHERE rs.room_id = ? AND rs.type = ? AND rs.state_key = ?`,
		&sqlitex.ExecOptions{
			Args: []any{roomID.String(), eventType, stateKey},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stored := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, stored)
				decoded, err := decodeContent(stored, contentCodec(stmt.ColumnInt(1)), stmt.ColumnInt(2))
				if err != nil {
					return err
				}
				content = decoded
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: state %s/%s in %s: %w", eventType, stateKey, roomID, err)
	}
	return content, nil
}
