// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package search ranks room events against a free-text term.
//
// Candidates are gathered per room, gated by the same read
// visibility rules pagination applies, narrowed by an event filter,
// and ranked with BM25 over the requested content keys. Search never
// widens what a requester can see: an event invisible to pagination
// is invisible to search.
package search

import (
	"context"
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/bureau-foundation/hearth"
	"github.com/bureau-foundation/hearth/auth"
	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/filter"
	"github.com/bureau-foundation/hearth/lib/bm25"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/store"
	"github.com/bureau-foundation/hearth/token"
)

// DefaultKeys are the content keys scored when a request names none.
var DefaultKeys = []string{"content.body", "content.name", "content.topic"}

// DefaultLimit caps results when a request does not.
const DefaultLimit = 10

// candidateCap bounds how many recent events per room are considered.
// Ranking is in-memory; an unbounded candidate set would make search
// cost proportional to total retained history.
const candidateCap = 1000

// ProfileSource resolves a user's current profile for result
// decoration. The store implements it.
type ProfileSource interface {
	Profile(ctx context.Context, userID ref.UserID) (store.Profile, error)
}

// Request is one search query.
type Request struct {
	Requester ref.UserID
	Term      string

	// Keys names the content fields to score, as "content.<field>"
	// paths. Empty means DefaultKeys.
	Keys []string

	// Filter narrows candidates before ranking. Nil matches all.
	Filter *filter.EventFilter

	// RoomIDs restricts the search. Empty means every room the
	// requester can read.
	RoomIDs []ref.RoomID

	// IncludeProfile attaches each result sender's current profile.
	IncludeProfile bool

	// Limit caps results. Non-positive means DefaultLimit.
	Limit int
}

// Result is one ranked hit.
type Result struct {
	Event *event.Event

	// Score is the BM25 relevance score; higher ranks earlier.
	Score float64

	// SenderProfile is the sender's current profile, set only when
	// the request asked for profiles and the sender has one.
	SenderProfile *store.Profile
}

// Engine ranks room history against free-text queries.
type Engine struct {
	store    *store.Store
	auth     *auth.Engine
	profiles ProfileSource
	logger   *slog.Logger
}

// NewEngine returns a search engine. A nil logger discards.
func NewEngine(eventStore *store.Store, authorizer *auth.Engine, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{store: eventStore, auth: authorizer, profiles: eventStore, logger: logger}
}

// Search returns events matching the term, most relevant first.
func (e *Engine) Search(ctx context.Context, req Request) ([]Result, error) {
	if strings.TrimSpace(req.Term) == "" {
		return nil, hearth.BadRequest("search term is empty")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	eventFilter := req.Filter
	if eventFilter == nil {
		eventFilter = filter.MatchAll()
	}
	keys := req.Keys
	if len(keys) == 0 {
		keys = DefaultKeys
	}
	fields, err := contentFields(keys)
	if err != nil {
		return nil, err
	}

	roomIDs := req.RoomIDs
	if len(roomIDs) == 0 {
		roomIDs, err = e.store.RoomIDs(ctx)
		if err != nil {
			return nil, err
		}
	}

	candidates := make(map[string]*event.Event)
	var documents []bm25.Document
	for _, roomID := range roomIDs {
		snapshot, err := e.store.Snapshot(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if e.auth.CheckCanReadRoom(snapshot, req.Requester) != nil {
			continue
		}

		roomEvents, err := e.recentEvents(ctx, roomID)
		if err != nil {
			return nil, err
		}
		for _, candidate := range roomEvents {
			if e.auth.CheckCanReadEvent(snapshot, req.Requester, candidate) != nil {
				continue
			}
			if !eventFilter.MatchesEvent(candidate) {
				continue
			}
			document, hasText := buildDocument(candidate, fields)
			if !hasText {
				continue
			}
			candidates[candidate.ID.String()] = candidate
			documents = append(documents, document)
		}
	}

	hits := bm25.New(documents).Search(req.Term, limit)
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		matched := candidates[hit.Name]
		result := Result{Event: matched, Score: hit.Score}
		if req.IncludeProfile {
			profile, err := e.profiles.Profile(ctx, matched.Sender)
			if err == nil {
				result.SenderProfile = &profile
			} else if !hearth.IsNotFound(err) {
				return nil, err
			}
		}
		results = append(results, result)
	}

	e.logger.Debug("search complete",
		"term", req.Term,
		"rooms", len(roomIDs),
		"candidates", len(documents),
		"results", len(results),
	)
	return results, nil
}

// recentEvents pulls the room's newest events up to candidateCap, in
// stream order.
func (e *Engine) recentEvents(ctx context.Context, roomID ref.RoomID) ([]*event.Event, error) {
	edge := token.StreamToken{Ordering: math.MaxInt64}
	var collected []*event.Event
	cursor := edge
	for len(collected) < candidateCap {
		batch, err := e.store.StreamBefore(ctx, roomID, cursor, candidateCap-len(collected))
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		collected = append(collected, batch...)
		cursor = token.StreamToken{Ordering: batch[len(batch)-1].StreamOrdering - 1}
	}
	return collected, nil
}

// contentFields maps "content.<field>" key paths to content field
// names.
func contentFields(keys []string) ([]string, error) {
	fields := make([]string, 0, len(keys))
	for _, key := range keys {
		field, ok := strings.CutPrefix(key, "content.")
		if !ok || field == "" {
			return nil, hearth.BadRequest("invalid search key %q", key)
		}
		fields = append(fields, field)
	}
	return fields, nil
}

// buildDocument extracts the scored text of one event. Events with
// no text under any requested field produce no document.
func buildDocument(candidate *event.Event, fields []string) (bm25.Document, bool) {
	document := bm25.Document{Name: candidate.ID.String()}
	hasText := false
	for _, field := range fields {
		text := candidate.ContentString(field)
		if text == "" {
			continue
		}
		hasText = true
		document.Fields = append(document.Fields, bm25.Field{Text: text, Weight: 1})
	}
	return document, hasText
}
