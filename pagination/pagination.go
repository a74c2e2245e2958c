// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pagination walks room history in pages.
//
// A page request names a room, a direction, an opaque cursor, and an
// event filter. Traversal runs in the ordering of the cursor's kind:
// stream cursors walk the persist sequence, topological cursors walk
// (depth, stream ordering). Visibility and filter are applied before
// events count toward the page limit, so a page is short only when
// the traversal reached the edge of the room's retained history.
package pagination

import (
	"context"
	"io"
	"log/slog"

	"github.com/bureau-foundation/hearth"
	"github.com/bureau-foundation/hearth/auth"
	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/filter"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/store"
	"github.com/bureau-foundation/hearth/token"
)

// Direction selects which way a page walks from its cursor.
type Direction int

const (
	// Backwards walks toward older events.
	Backwards Direction = iota

	// Forwards walks toward newer events.
	Forwards
)

// ParseDirection maps the wire forms "b" and "f".
func ParseDirection(raw string) (Direction, error) {
	switch raw {
	case "b":
		return Backwards, nil
	case "f":
		return Forwards, nil
	default:
		return 0, hearth.BadRequest("invalid pagination direction %q", raw)
	}
}

// fetchBatch is how many candidate rows each store scan requests.
// Filtering can reject most of a batch, so it is deliberately larger
// than typical page limits.
const fetchBatch = 100

// Request is one history page request.
type Request struct {
	RoomID    ref.RoomID
	Requester ref.UserID
	Direction Direction

	// From is the position to walk from. A Backwards walk includes
	// the event sitting at exactly this position, so a token minted
	// from an event starts the page at that event; a Forwards walk
	// starts strictly after it. Nil means the traversal edge for the
	// direction: the newest event for Backwards, the start of history
	// for Forwards. Topological ordering is used when From is nil.
	From token.Token

	// Limit caps the number of returned events. Non-positive means
	// the filter's effective limit was not applied by the caller;
	// the engine substitutes the default.
	Limit int

	// Filter selects which events count toward the limit. Nil means
	// match everything.
	Filter *filter.EventFilter
}

// Response is one page of room history.
type Response struct {
	// Chunk holds the page's events in traversal order: newest first
	// for Backwards, oldest first for Forwards.
	Chunk []*event.Event

	// Start is the cursor this page was walked from. Passing it back
	// with the same direction re-reads this page.
	Start token.Token

	// End is the boundary one past the last returned event in the
	// traversal direction. Continuing in the same direction from End
	// never repeats an event, and walking the opposite direction from
	// End re-reads the boundary event first, so a page reverses
	// without losing anything. When the page is empty, End equals
	// Start: the cursor pointed at or beyond the edge of retained
	// history, which is an empty page, not an error.
	End token.Token
}

// Engine walks room history against a store, enforcing read
// visibility per event.
type Engine struct {
	store  *store.Store
	auth   *auth.Engine
	logger *slog.Logger
}

// NewEngine returns a pagination engine. A nil logger discards.
func NewEngine(eventStore *store.Store, authorizer *auth.Engine, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{store: eventStore, auth: authorizer, logger: logger}
}

// Paginate returns one page of room history.
//
// The requester must be able to read the room. Events the requester
// cannot see (for example, sent after they left) and events rejected
// by the filter are skipped without counting toward the limit. A
// cursor pointing into purged history yields an empty page whose End
// equals its Start.
func (e *Engine) Paginate(ctx context.Context, req Request) (*Response, error) {
	snapshot, err := e.store.Snapshot(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	if err := e.auth.CheckCanReadRoom(snapshot, req.Requester); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = filter.DefaultLimit
	}
	eventFilter := req.Filter
	if eventFilter == nil {
		eventFilter = filter.MatchAll()
	}

	from := req.From
	if from == nil {
		from, err = e.edgeCursor(ctx, req.RoomID, req.Direction)
		if err != nil {
			return nil, err
		}
	}

	keep := func(candidate *event.Event) bool {
		if e.auth.CheckCanReadEvent(snapshot, req.Requester, candidate) != nil {
			return false
		}
		return eventFilter.MatchesEvent(candidate)
	}

	var chunk []*event.Event
	var end token.Token
	switch cursor := from.(type) {
	case token.TopologicalToken:
		chunk, end, err = e.walkTopological(ctx, req.RoomID, cursor, req.Direction, limit, keep)
	case token.StreamToken:
		chunk, end, err = e.walkStream(ctx, req.RoomID, cursor, req.Direction, limit, keep)
	default:
		return nil, hearth.BadRequest("unsupported pagination token kind")
	}
	if err != nil {
		return nil, err
	}

	e.logger.Debug("page walked",
		"room", req.RoomID.String(),
		"from", from.Encode(),
		"end", end.Encode(),
		"returned", len(chunk),
	)
	return &Response{Chunk: chunk, Start: from, End: end}, nil
}

// edgeCursor returns the implicit starting cursor for a direction:
// the room's newest event for Backwards, before everything for
// Forwards. Backward walks include the event at the cursor, so the
// newest event's own token puts it in the first page.
func (e *Engine) edgeCursor(ctx context.Context, roomID ref.RoomID, direction Direction) (token.Token, error) {
	if direction == Forwards {
		return token.TopologicalToken{}, nil
	}
	newest, _, found, err := e.store.RoomNewest(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !found {
		return token.TopologicalToken{}, nil
	}
	return newest, nil
}

func (e *Engine) walkTopological(ctx context.Context, roomID ref.RoomID, from token.TopologicalToken, direction Direction, limit int, keep func(*event.Event) bool) ([]*event.Event, token.Token, error) {
	var chunk []*event.Event
	cursor := from
	end := token.Token(from)
	for len(chunk) < limit {
		var batch []*event.Event
		var err error
		if direction == Backwards {
			batch, err = e.store.TopologicalBefore(ctx, roomID, cursor, fetchBatch)
		} else {
			batch, err = e.store.TopologicalAfter(ctx, roomID, cursor, fetchBatch)
		}
		if err != nil {
			return nil, nil, err
		}
		for _, candidate := range batch {
			// The cursor is the boundary one past the candidate in the
			// traversal direction: just below it for Backwards (the
			// at-or-before scan would otherwise return it again), its
			// own position for Forwards.
			if direction == Backwards {
				cursor = token.TopologicalToken{Depth: candidate.Depth, Ordering: candidate.StreamOrdering - 1}
			} else {
				cursor = token.TopologicalToken{Depth: candidate.Depth, Ordering: candidate.StreamOrdering}
			}
			if !keep(candidate) {
				continue
			}
			chunk = append(chunk, candidate)
			end = cursor
			if len(chunk) == limit {
				break
			}
		}
		if len(batch) < fetchBatch {
			break
		}
	}
	return chunk, end, nil
}

func (e *Engine) walkStream(ctx context.Context, roomID ref.RoomID, from token.StreamToken, direction Direction, limit int, keep func(*event.Event) bool) ([]*event.Event, token.Token, error) {
	var chunk []*event.Event
	cursor := from
	end := token.Token(from)
	for len(chunk) < limit {
		var batch []*event.Event
		var err error
		if direction == Backwards {
			batch, err = e.store.StreamBefore(ctx, roomID, cursor, fetchBatch)
		} else {
			batch, err = e.store.StreamAfter(ctx, roomID, cursor, fetchBatch)
		}
		if err != nil {
			return nil, nil, err
		}
		for _, candidate := range batch {
			if direction == Backwards {
				cursor = token.StreamToken{Ordering: candidate.StreamOrdering - 1}
			} else {
				cursor = token.StreamToken{Ordering: candidate.StreamOrdering}
			}
			if !keep(candidate) {
				continue
			}
			chunk = append(chunk, candidate)
			end = cursor
			if len(chunk) == limit {
				break
			}
		}
		if len(batch) < fetchBatch {
			break
		}
	}
	return chunk, end, nil
}

// ContextResponse is the neighborhood of one event: the event itself
// plus filtered, visible events on either side in topological order.
type ContextResponse struct {
	Event        *event.Event
	EventsBefore []*event.Event // newest first, walking away from Event
	EventsAfter  []*event.Event // oldest first, walking away from Event
	Start        token.Token    // cursor for paginating further back
	End          token.Token    // cursor for paginating further forward
}

// Context returns the events surrounding eventID in its room. The
// limit is split evenly between the two sides. An event that does
// not exist, lives in a different room, or is not visible to the
// requester reports not-found; visibility failures deliberately do
// not disclose that the event exists.
func (e *Engine) Context(ctx context.Context, roomID ref.RoomID, eventID ref.EventID, requester ref.UserID, limit int, eventFilter *filter.EventFilter) (*ContextResponse, error) {
	base, err := e.store.EventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if base.RoomID != roomID {
		return nil, hearth.NotFound("event %s not found", eventID)
	}

	snapshot, err := e.store.Snapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := e.auth.CheckCanReadRoom(snapshot, requester); err != nil {
		return nil, hearth.NotFound("event %s not found", eventID)
	}
	if err := e.auth.CheckCanReadEvent(snapshot, requester, base); err != nil {
		return nil, hearth.NotFound("event %s not found", eventID)
	}

	if limit <= 0 {
		limit = filter.DefaultLimit
	}
	if eventFilter == nil {
		eventFilter = filter.MatchAll()
	}
	keep := func(candidate *event.Event) bool {
		if e.auth.CheckCanReadEvent(snapshot, requester, candidate) != nil {
			return false
		}
		return eventFilter.MatchesEvent(candidate)
	}

	baseToken := token.TopologicalToken{Depth: base.Depth, Ordering: base.StreamOrdering}
	// The backward walk starts one position below the base event so
	// the event itself appears only in Event, not in EventsBefore.
	beforeToken := token.TopologicalToken{Depth: base.Depth, Ordering: base.StreamOrdering - 1}
	before, start, err := e.walkTopological(ctx, roomID, beforeToken, Backwards, limit/2, keep)
	if err != nil {
		return nil, err
	}
	after, end, err := e.walkTopological(ctx, roomID, baseToken, Forwards, limit-limit/2, keep)
	if err != nil {
		return nil, err
	}

	return &ContextResponse{
		Event:        base,
		EventsBefore: before,
		EventsAfter:  after,
		Start:        start,
		End:          end,
	}, nil
}
