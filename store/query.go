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
	"github.com/bureau-foundation/hearth/token"
)

// eventColumns is the select list every event query uses, in the
// order scanEvent expects.
const eventColumns = `event_id, room_id, type, state_key, sender, depth,
	origin_server_ts, local, content, content_codec, content_size, stream_ordering`

// scanEvent builds an event from a row produced with eventColumns.
// Parents are not loaded here; see loadParents.
func scanEvent(stmt *sqlite.Stmt) (*event.Event, error) {
	eventID, err := ref.ParseEventID(stmt.ColumnText(0))
	if err != nil {
		return nil, fmt.Errorf("stored event ID: %w", err)
	}
	roomID, err := ref.ParseRoomID(stmt.ColumnText(1))
	if err != nil {
		return nil, fmt.Errorf("stored room ID: %w", err)
	}
	sender, err := ref.ParseUserID(stmt.ColumnText(4))
	if err != nil {
		return nil, fmt.Errorf("stored sender: %w", err)
	}

	stored := make([]byte, stmt.ColumnLen(8))
	stmt.ColumnBytes(8, stored)
	content, err := decodeContent(stored, contentCodec(stmt.ColumnInt(9)), stmt.ColumnInt(10))
	if err != nil {
		return nil, err
	}

	loaded := &event.Event{
		ID:             eventID,
		RoomID:         roomID,
		Type:           stmt.ColumnText(2),
		Sender:         sender,
		Content:        content,
		Depth:          stmt.ColumnInt64(5),
		OriginServerTS: stmt.ColumnInt64(6),
		Local:          stmt.ColumnInt64(7) != 0,
		StreamOrdering: stmt.ColumnInt64(11),
	}
	if !stmt.ColumnIsNull(3) {
		stateKey := stmt.ColumnText(3)
		loaded.StateKey = &stateKey
	}
	return loaded, nil
}

// loadParents fills in each event's DAG parents from the edge table.
func (s *Store) loadParents(conn *sqlite.Conn, events []*event.Event) error {
	for _, loaded := range events {
		err := sqlitex.Execute(conn,
			"SELECT prev_event_id FROM event_edges WHERE event_id = ? ORDER BY prev_event_id",
			&sqlitex.ExecOptions{
				Args: []any{loaded.ID.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					parentID, err := ref.ParseEventID(stmt.ColumnText(0))
					if err != nil {
						return fmt.Errorf("stored edge: %w", err)
					}
					loaded.PrevEventIDs = append(loaded.PrevEventIDs, parentID)
					return nil
				},
			})
		if err != nil {
			return fmt.Errorf("store: edges of %s: %w", loaded.ID, err)
		}
	}
	return nil
}

// queryEvents runs an event query with the standard select list and
// returns fully loaded events.
func (s *Store) queryEvents(conn *sqlite.Conn, query string, args []any) ([]*event.Event, error) {
	var events []*event.Event
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			loaded, err := scanEvent(stmt)
			if err != nil {
				return err
			}
			events = append(events, loaded)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if err := s.loadParents(conn, events); err != nil {
		return nil, err
	}
	return events, nil
}

// EventByID returns a stored event. Fails with a not-found error for
// an unknown (or purged) event ID.
func (s *Store) EventByID(ctx context.Context, eventID ref.EventID) (*event.Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: event by ID: %w", err)
	}
	defer s.pool.Put(conn)

	events, err := s.queryEvents(conn,
		"SELECT "+eventColumns+" FROM events WHERE event_id = ?",
		[]any{eventID.String()})
	if err != nil {
		return nil, fmt.Errorf("store: event %s: %w", eventID, err)
	}
	if len(events) == 0 {
		return nil, hearth.NotFound("event %s not found", eventID)
	}
	return events[0], nil
}

// TopologicalBefore returns up to limit events in roomID at or before
// the cursor in topological order, newest first. The event sitting at
// exactly (depth, ordering) is included, so a token minted from an
// event names that event as the first result of a backward scan.
func (s *Store) TopologicalBefore(ctx context.Context, roomID ref.RoomID, from token.TopologicalToken, limit int) ([]*event.Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: topological scan: %w", err)
	}
	defer s.pool.Put(conn)

	events, err := s.queryEvents(conn, `
		SELECT `+eventColumns+` FROM events
		WHERE room_id = ?
		  AND (depth < ? OR (depth = ? AND stream_ordering <= ?))
		ORDER BY depth DESC, stream_ordering DESC
		LIMIT ?`,
		[]any{roomID.String(), from.Depth, from.Depth, from.Ordering, limit})
	if err != nil {
		return nil, fmt.Errorf("store: topological before in %s: %w", roomID, err)
	}
	return events, nil
}

// TopologicalAfter returns up to limit events in roomID strictly
// after the cursor in topological order, oldest first.
func (s *Store) TopologicalAfter(ctx context.Context, roomID ref.RoomID, from token.TopologicalToken, limit int) ([]*event.Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: topological scan: %w", err)
	}
	defer s.pool.Put(conn)

	events, err := s.queryEvents(conn, `
		SELECT `+eventColumns+` FROM events
		WHERE room_id = ?
		  AND (depth > ? OR (depth = ? AND stream_ordering > ?))
		ORDER BY depth ASC, stream_ordering ASC
		LIMIT ?`,
		[]any{roomID.String(), from.Depth, from.Depth, from.Ordering, limit})
	if err != nil {
		return nil, fmt.Errorf("store: topological after in %s: %w", roomID, err)
	}
	return events, nil
}

// StreamBefore returns up to limit events in roomID at or before the
// cursor in stream order, newest first. The event at exactly the
// cursor ordering is included.
func (s *Store) StreamBefore(ctx context.Context, roomID ref.RoomID, from token.StreamToken, limit int) ([]*event.Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: stream scan: %w", err)
	}
	defer s.pool.Put(conn)

	events, err := s.queryEvents(conn, `
		SELECT `+eventColumns+` FROM events
		WHERE room_id = ? AND stream_ordering <= ?
		ORDER BY stream_ordering DESC
		LIMIT ?`,
		[]any{roomID.String(), from.Ordering, limit})
	if err != nil {
		return nil, fmt.Errorf("store: stream before in %s: %w", roomID, err)
	}
	return events, nil
}

// StreamAfter returns up to limit events in roomID strictly after the
// cursor in stream order, oldest first.
func (s *Store) StreamAfter(ctx context.Context, roomID ref.RoomID, from token.StreamToken, limit int) ([]*event.Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: stream scan: %w", err)
	}
	defer s.pool.Put(conn)

	events, err := s.queryEvents(conn, `
		SELECT `+eventColumns+` FROM events
		WHERE room_id = ? AND stream_ordering > ?
		ORDER BY stream_ordering ASC
		LIMIT ?`,
		[]any{roomID.String(), from.Ordering, limit})
	if err != nil {
		return nil, fmt.Errorf("store: stream after in %s: %w", roomID, err)
	}
	return events, nil
}

// RoomNewest returns the tokens of the room's newest event by each
// ordering, and whether the room holds any events at all.
func (s *Store) RoomNewest(ctx context.Context, roomID ref.RoomID) (token.TopologicalToken, token.StreamToken, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return token.TopologicalToken{}, token.StreamToken{}, false, fmt.Errorf("store: room newest: %w", err)
	}
	defer s.pool.Put(conn)

	var topological token.TopologicalToken
	var stream token.StreamToken
	var found bool
	err = sqlitex.Execute(conn, `
		SELECT depth, stream_ordering FROM events
		WHERE room_id = ?
		ORDER BY depth DESC, stream_ordering DESC
		LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				topological = token.TopologicalToken{
					Depth:    stmt.ColumnInt64(0),
					Ordering: stmt.ColumnInt64(1),
				}
				found = true
				return nil
			},
		})
	if err != nil {
		return token.TopologicalToken{}, token.StreamToken{}, false, fmt.Errorf("store: room newest %s: %w", roomID, err)
	}
	if !found {
		return token.TopologicalToken{}, token.StreamToken{}, false, nil
	}

	// Highest stream ordering may belong to a different event than
	// the topological maximum when events arrive out of causal order.
	err = sqlitex.Execute(conn,
		"SELECT MAX(stream_ordering) FROM events WHERE room_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stream = token.StreamToken{Ordering: stmt.ColumnInt64(0)}
				return nil
			},
		})
	if err != nil {
		return token.TopologicalToken{}, token.StreamToken{}, false, fmt.Errorf("store: room newest %s: %w", roomID, err)
	}
	return topological, stream, true, nil
}

// Members returns the room's current m.room.member state events, one
// per user ever seen in the room.
func (s *Store) Members(ctx context.Context, roomID ref.RoomID) ([]*event.Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: members: %w", err)
	}
	defer s.pool.Put(conn)

	events, err := s.queryEvents(conn, `
		SELECT `+eventColumns+` FROM events
		WHERE event_id IN (
			SELECT event_id FROM room_state
			WHERE room_id = ? AND type = ?
		)
		ORDER BY stream_ordering ASC`,
		[]any{roomID.String(), event.TypeMember})
	if err != nil {
		return nil, fmt.Errorf("store: members of %s: %w", roomID, err)
	}
	return events, nil
}

// StateEvent returns the current state event for (type, stateKey) in
// the room, or a not-found error when the room has none.
func (s *Store) StateEvent(ctx context.Context, roomID ref.RoomID, eventType, stateKey string) (*event.Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: state event: %w", err)
	}
	defer s.pool.Put(conn)

	events, err := s.queryEvents(conn, `
		SELECT `+eventColumns+` FROM events
		WHERE event_id = (
			SELECT event_id FROM room_state
			WHERE room_id = ? AND type = ? AND state_key = ?
		)`,
		[]any{roomID.String(), eventType, stateKey})
	if err != nil {
		return nil, fmt.Errorf("store: state %s/%s in %s: %w", eventType, stateKey, roomID, err)
	}
	if len(events) == 0 {
		return nil, hearth.NotFound("no %s state in %s", eventType, roomID)
	}
	return events[0], nil
}

// RoomInfo is a public-directory listing entry.
type RoomInfo struct {
	RoomID        ref.RoomID
	Name          string
	Topic         string
	JoinedMembers int64
}

// PublicRooms lists rooms with public directory visibility, newest
// first.
func (s *Store) PublicRooms(ctx context.Context) ([]RoomInfo, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: public rooms: %w", err)
	}
	defer s.pool.Put(conn)

	var rooms []RoomInfo
	err = sqlitex.Execute(conn, `
		SELECT room_id,
		       (SELECT COUNT(*) FROM room_memberships m
		        WHERE m.room_id = rooms.room_id AND m.membership = 'join')
		FROM rooms WHERE visibility = 'public'
		ORDER BY created_at DESC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				roomID, err := ref.ParseRoomID(stmt.ColumnText(0))
				if err != nil {
					return fmt.Errorf("stored room ID: %w", err)
				}
				rooms = append(rooms, RoomInfo{
					RoomID:        roomID,
					JoinedMembers: stmt.ColumnInt64(1),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: public rooms: %w", err)
	}

	for i := range rooms {
		if content, err := s.stateContent(conn, rooms[i].RoomID, event.TypeName, ""); err == nil && content != nil {
			rooms[i].Name, _ = content["name"].(string)
		} else if err != nil {
			return nil, err
		}
		if content, err := s.stateContent(conn, rooms[i].RoomID, event.TypeTopic, ""); err == nil && content != nil {
			rooms[i].Topic, _ = content[event.FieldTopic].(string)
		} else if err != nil {
			return nil, err
		}
	}
	return rooms, nil
}

// RoomIDs lists every room known to the store.
func (s *Store) RoomIDs(ctx context.Context) ([]ref.RoomID, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: room IDs: %w", err)
	}
	defer s.pool.Put(conn)

	var roomIDs []ref.RoomID
	err = sqlitex.Execute(conn,
		"SELECT room_id FROM rooms ORDER BY room_id",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				roomID, err := ref.ParseRoomID(stmt.ColumnText(0))
				if err != nil {
					return fmt.Errorf("stored room ID: %w", err)
				}
				roomIDs = append(roomIDs, roomID)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: room IDs: %w", err)
	}
	return roomIDs, nil
}

// Profile is a user's current displayed identity, mirrored from
// their most recent join events.
type Profile struct {
	UserID      ref.UserID
	Displayname string
	AvatarURL   string
}

// Profile returns a user's stored profile, or a not-found error for
// a user never seen joining a room with profile fields.
func (s *Store) Profile(ctx context.Context, userID ref.UserID) (Profile, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Profile{}, fmt.Errorf("store: profile: %w", err)
	}
	defer s.pool.Put(conn)

	profile := Profile{UserID: userID}
	var found bool
	err = sqlitex.Execute(conn,
		"SELECT displayname, avatar_url FROM profiles WHERE user_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{userID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				profile.Displayname = stmt.ColumnText(0)
				profile.AvatarURL = stmt.ColumnText(1)
				found = true
				return nil
			},
		})
	if err != nil {
		return Profile{}, fmt.Errorf("store: profile %s: %w", userID, err)
	}
	if !found {
		return Profile{}, hearth.NotFound("no profile for %s", userID)
	}
	return profile, nil
}
