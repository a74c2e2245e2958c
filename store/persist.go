// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hearth"
	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// PersistEvent authorizes and persists a candidate event, returning
// the stored form with ID, parents, depth, and stream ordering
// assigned. The candidate is not mutated.
//
// For a room-creation event with a zero RoomID, a fresh room ID is
// minted and the room row is created in the same transaction.
//
// The room's write lock is held from the authorization snapshot
// through commit: at most one write enters a room's graph at a time,
// so the extremity and current-state updates are atomic with respect
// to other writers. Writes to different rooms proceed in parallel.
func (s *Store) PersistEvent(ctx context.Context, candidate *event.Event) (*event.Event, error) {
	persisted := *candidate
	persisted.Content = candidate.Content
	persisted.PrevEventIDs = append([]ref.EventID(nil), candidate.PrevEventIDs...)

	creation := persisted.Type == event.TypeCreate && persisted.IsState()
	if creation && persisted.RoomID.IsZero() {
		roomID, err := event.NewRoomID(s.serverName)
		if err != nil {
			return nil, err
		}
		persisted.RoomID = roomID
	}
	if persisted.RoomID.IsZero() {
		return nil, hearth.BadRequest("event has no room ID")
	}
	if persisted.OriginServerTS == 0 {
		persisted.OriginServerTS = s.clock.Now().UnixMilli()
	}
	persisted.Local = persisted.Sender.Server() == s.serverName.String()

	lock := s.roomLock(persisted.RoomID)
	lock.Lock()
	defer lock.Unlock()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: persist: %w", err)
	}
	defer s.pool.Put(conn)

	snapshot, err := s.loadSnapshot(conn, persisted.RoomID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizer.CheckEventAllowed(snapshot, &persisted); err != nil {
		return nil, err
	}

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("store: begin persist transaction: %w", err)
	}
	defer endTransaction(&err)

	// Parents default to the room's forward extremities. An event
	// arriving with explicit parents (federation backfill) keeps
	// them, but every referenced parent must already be persisted.
	if len(persisted.PrevEventIDs) == 0 && !creation {
		persisted.PrevEventIDs, err = s.extremities(conn, persisted.RoomID)
		if err != nil {
			return nil, err
		}
	}

	maxParentDepth := int64(0)
	for _, parentID := range persisted.PrevEventIDs {
		depth, found, err := s.eventDepth(conn, parentID)
		if err != nil {
			return nil, err
		}
		if !found {
			s.logger.Error("event references missing parent",
				"room", persisted.RoomID.String(),
				"parent", parentID.String(),
			)
			return nil, hearth.Internal("event graph inconsistency in %s", persisted.RoomID)
		}
		if depth > maxParentDepth {
			maxParentDepth = depth
		}
	}
	persisted.Depth = maxParentDepth + 1

	if persisted.ID.IsZero() {
		persisted.ID, err = event.DeriveID(&persisted)
		if err != nil {
			return nil, err
		}
	}

	stored, codec, plainSize, err := encodeContent(persisted.Content)
	if err != nil {
		return nil, err
	}

	var stateKey any
	if persisted.StateKey != nil {
		stateKey = *persisted.StateKey
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO events
			(event_id, room_id, type, state_key, sender, depth,
			 origin_server_ts, local, content, content_codec, content_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				persisted.ID.String(),
				persisted.RoomID.String(),
				persisted.Type,
				stateKey,
				persisted.Sender.String(),
				persisted.Depth,
				persisted.OriginServerTS,
				boolToInt(persisted.Local),
				stored,
				int(codec),
				plainSize,
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: insert event %s: %w", persisted.ID, err)
	}
	persisted.StreamOrdering = conn.LastInsertRowID()

	for _, parentID := range persisted.PrevEventIDs {
		err = sqlitex.Execute(conn,
			"INSERT OR IGNORE INTO event_edges (event_id, prev_event_id) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{persisted.ID.String(), parentID.String()}})
		if err != nil {
			return nil, fmt.Errorf("store: insert edge: %w", err)
		}
	}

	// Forward extremities after E = (before E) − E.prev ∪ {E}.
	for _, parentID := range persisted.PrevEventIDs {
		err = sqlitex.Execute(conn,
			"DELETE FROM forward_extremities WHERE room_id = ? AND event_id = ?",
			&sqlitex.ExecOptions{Args: []any{persisted.RoomID.String(), parentID.String()}})
		if err != nil {
			return nil, fmt.Errorf("store: retire extremity: %w", err)
		}
	}
	err = sqlitex.Execute(conn,
		"INSERT OR IGNORE INTO forward_extremities (room_id, event_id) VALUES (?, ?)",
		&sqlitex.ExecOptions{Args: []any{persisted.RoomID.String(), persisted.ID.String()}})
	if err != nil {
		return nil, fmt.Errorf("store: add extremity: %w", err)
	}

	if creation {
		if err = s.insertRoom(conn, &persisted); err != nil {
			return nil, err
		}
	}

	if persisted.IsState() {
		err = sqlitex.Execute(conn, `
			INSERT INTO room_state (room_id, type, state_key, event_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (room_id, type, state_key) DO UPDATE SET event_id = excluded.event_id`,
			&sqlitex.ExecOptions{
				Args: []any{persisted.RoomID.String(), persisted.Type, *persisted.StateKey, persisted.ID.String()},
			})
		if err != nil {
			return nil, fmt.Errorf("store: update current state: %w", err)
		}
	}

	if persisted.Kind() == event.KindMembership {
		if err = s.applyMembership(conn, snapshot, &persisted); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("event persisted",
		"room", persisted.RoomID.String(),
		"event", persisted.ID.String(),
		"type", persisted.Type,
		"stream_ordering", persisted.StreamOrdering,
		"depth", persisted.Depth,
	)
	return &persisted, nil
}

// insertRoom creates the room row for a creation event. Directory
// visibility comes from the creation content, falling back to the
// server default; anything other than "public" is private.
func (s *Store) insertRoom(conn *sqlite.Conn, creation *event.Event) error {
	visibility := creation.ContentString(event.FieldVisibility)
	if visibility == "" {
		visibility = s.defaultVisibility
	}
	if visibility != "public" {
		visibility = "private"
	}
	err := sqlitex.Execute(conn,
		"INSERT INTO rooms (room_id, creator, visibility, created_at) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{creation.RoomID.String(), creation.Sender.String(), visibility, creation.OriginServerTS},
		})
	if err != nil {
		return fmt.Errorf("store: insert room %s: %w", creation.RoomID, err)
	}
	return nil
}

// applyMembership updates the derived membership row for a member
// event, and mirrors join-time profile fields into the profile table.
// The inviter is recorded when the event is an invite and preserved
// across later transitions so an invite can still be attributed after
// it is acted on.
func (s *Store) applyMembership(conn *sqlite.Conn, snapshot *RoomSnapshot, member *event.Event) error {
	target, err := member.MembershipTarget()
	if err != nil {
		return hearth.BadRequest("member event target: %v", err)
	}
	requested, err := member.RequestedMembership()
	if err != nil {
		return hearth.BadRequest("member event content: %v", err)
	}

	var inviter any
	if requested == event.MembershipInvite {
		inviter = member.Sender.String()
	} else if existing := snapshot.Inviter(target); !existing.IsZero() {
		inviter = existing.String()
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO room_memberships
			(room_id, user_id, membership, inviter, event_id, stream_ordering)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (room_id, user_id) DO UPDATE SET
			membership = excluded.membership,
			inviter = excluded.inviter,
			event_id = excluded.event_id,
			stream_ordering = excluded.stream_ordering`,
		&sqlitex.ExecOptions{
			Args: []any{
				member.RoomID.String(),
				target.String(),
				requested.String(),
				inviter,
				member.ID.String(),
				member.StreamOrdering,
			},
		})
	if err != nil {
		return fmt.Errorf("store: update membership: %w", err)
	}

	if requested == event.MembershipJoin {
		displayname := member.ContentString(event.FieldDisplayname)
		avatarURL := member.ContentString(event.FieldAvatarURL)
		if displayname != "" || avatarURL != "" {
			err = sqlitex.Execute(conn, `
				INSERT INTO profiles (user_id, displayname, avatar_url)
				VALUES (?, ?, ?)
				ON CONFLICT (user_id) DO UPDATE SET
					displayname = excluded.displayname,
					avatar_url = excluded.avatar_url`,
				&sqlitex.ExecOptions{
					Args: []any{target.String(), displayname, avatarURL},
				})
			if err != nil {
				return fmt.Errorf("store: update profile: %w", err)
			}
		}
	}
	return nil
}

// extremities returns the room's current forward extremities.
func (s *Store) extremities(conn *sqlite.Conn, roomID ref.RoomID) ([]ref.EventID, error) {
	var extremities []ref.EventID
	err := sqlitex.Execute(conn,
		"SELECT event_id FROM forward_extremities WHERE room_id = ? ORDER BY event_id",
		&sqlitex.ExecOptions{
			Args: []any{roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				eventID, err := ref.ParseEventID(stmt.ColumnText(0))
				if err != nil {
					return fmt.Errorf("stored extremity: %w", err)
				}
				extremities = append(extremities, eventID)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: extremities %s: %w", roomID, err)
	}
	return extremities, nil
}

// eventDepth returns an event's depth and whether it exists.
func (s *Store) eventDepth(conn *sqlite.Conn, eventID ref.EventID) (int64, bool, error) {
	var depth int64
	var found bool
	err := sqlitex.Execute(conn,
		"SELECT depth FROM events WHERE event_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{eventID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				depth = stmt.ColumnInt64(0)
				found = true
				return nil
			},
		})
	if err != nil {
		return 0, false, fmt.Errorf("store: depth of %s: %w", eventID, err)
	}
	return depth, found, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
