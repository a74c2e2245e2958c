// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package search

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/hearth"
	"github.com/bureau-foundation/hearth/auth"
	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/filter"
	"github.com/bureau-foundation/hearth/lib/clock"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/store"
)

var (
	testCreator  = ref.MustParseUserID("@creator:hearth.local")
	testStranger = ref.MustParseUserID("@stranger:hearth.local")
)

type fixture struct {
	store  *store.Store
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	authorizer := auth.NewEngine(nil)
	eventStore, err := store.Open(store.Config{
		Path:       filepath.Join(t.TempDir(), "search_test.db"),
		PoolSize:   2,
		ServerName: ref.MustParseServerName("hearth.local"),
		Authorizer: authorizer,
		Clock:      clock.Fake(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		if err := eventStore.Close(); err != nil {
			t.Errorf("store.Close: %v", err)
		}
	})
	return &fixture{
		store:  eventStore,
		engine: NewEngine(eventStore, authorizer, slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
}

func (f *fixture) persist(t *testing.T, candidate *event.Event) *event.Event {
	t.Helper()
	persisted, err := f.store.PersistEvent(context.Background(), candidate)
	if err != nil {
		t.Fatalf("PersistEvent(%s): %v", candidate.Type, err)
	}
	return persisted
}

// newRoom creates a room with the creator joined. displayname, when
// non-empty, is set on the creator's join for profile decoration.
func (f *fixture) newRoom(t *testing.T, displayname string) ref.RoomID {
	t.Helper()
	key := ""
	creation := f.persist(t, &event.Event{
		Type:     event.TypeCreate,
		StateKey: &key,
		Sender:   testCreator,
		Content:  map[string]any{"creator": testCreator.String()},
	})

	memberKey := testCreator.String()
	content := map[string]any{event.FieldMembership: "join"}
	if displayname != "" {
		content[event.FieldDisplayname] = displayname
	}
	f.persist(t, &event.Event{
		RoomID:   creation.RoomID,
		Type:     event.TypeMember,
		StateKey: &memberKey,
		Sender:   testCreator,
		Content:  content,
	})
	return creation.RoomID
}

func (f *fixture) message(t *testing.T, roomID ref.RoomID, body string) *event.Event {
	t.Helper()
	return f.persist(t, &event.Event{
		RoomID:  roomID,
		Type:    event.TypeMessage,
		Sender:  testCreator,
		Content: map[string]any{event.FieldBody: body},
	})
}

func TestSearchFindsMessage(t *testing.T) {
	f := newFixture(t)
	roomID := f.newRoom(t, "")
	f.message(t, roomID, "deploy checklist for the staging cluster")
	f.message(t, roomID, "lunch plans")
	needle := f.message(t, roomID, "the staging deploy finished cleanly")

	results, err := f.engine.Search(context.Background(), Request{
		Requester: testCreator,
		Term:      "staging deploy",
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, result := range results {
		if result.Score <= 0 {
			t.Errorf("result %s has score %f", result.Event.ID, result.Score)
		}
	}
	found := false
	for _, result := range results {
		if result.Event.ID == needle.ID {
			found = true
		}
	}
	if !found {
		t.Error("best match missing from results")
	}
}

func TestSearchEmptyTerm(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Search(context.Background(), Request{
		Requester: testCreator,
		Term:      "   ",
	}); !hearth.IsBadRequest(err) {
		t.Errorf("empty term: %v, want bad request", err)
	}
}

func TestSearchInvalidKey(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Search(context.Background(), Request{
		Requester: testCreator,
		Term:      "anything",
		Keys:      []string{"sender"},
	}); !hearth.IsBadRequest(err) {
		t.Errorf("non-content key: %v, want bad request", err)
	}
}

func TestSearchRespectsVisibility(t *testing.T) {
	f := newFixture(t)
	roomID := f.newRoom(t, "")
	f.message(t, roomID, "confidential roadmap discussion")

	// A stranger searching all rooms sees nothing: the unreadable room
	// is skipped, not an error.
	results, err := f.engine.Search(context.Background(), Request{
		Requester: testStranger,
		Term:      "roadmap",
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("stranger found %d results", len(results))
	}
}

func TestSearchRoomScope(t *testing.T) {
	f := newFixture(t)
	first := f.newRoom(t, "")
	second := f.newRoom(t, "")
	f.message(t, first, "incident retrospective notes")
	f.message(t, second, "incident followup actions")

	results, err := f.engine.Search(context.Background(), Request{
		Requester: testCreator,
		Term:      "incident",
		RoomIDs:   []ref.RoomID{first},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Event.RoomID != first {
		t.Errorf("result from room %s, want %s", results[0].Event.RoomID, first)
	}
}

func TestSearchFilterNarrowsCandidates(t *testing.T) {
	f := newFixture(t)
	roomID := f.newRoom(t, "")
	f.message(t, roomID, "budget review")

	key := ""
	f.persist(t, &event.Event{
		RoomID:   roomID,
		Type:     event.TypeTopic,
		StateKey: &key,
		Sender:   testCreator,
		Content:  map[string]any{event.FieldTopic: "budget planning"},
	})

	messagesOnly := filter.Compile(filter.Spec{Types: []string{event.TypeMessage}})
	results, err := f.engine.Search(context.Background(), Request{
		Requester: testCreator,
		Term:      "budget",
		Filter:    messagesOnly,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Event.Type != event.TypeMessage {
		t.Errorf("result type = %s, want message", results[0].Event.Type)
	}
}

func TestSearchKeys(t *testing.T) {
	f := newFixture(t)
	roomID := f.newRoom(t, "")
	f.message(t, roomID, "quarterly report")

	key := ""
	topic := f.persist(t, &event.Event{
		RoomID:   roomID,
		Type:     event.TypeTopic,
		StateKey: &key,
		Sender:   testCreator,
		Content:  map[string]any{event.FieldTopic: "quarterly numbers"},
	})

	// Restricting to the topic key excludes the message hit.
	results, err := f.engine.Search(context.Background(), Request{
		Requester: testCreator,
		Term:      "quarterly",
		Keys:      []string{"content.topic"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Event.ID != topic.ID {
		t.Fatalf("results = %v, want only the topic event", results)
	}
}

func TestSearchIncludeProfile(t *testing.T) {
	f := newFixture(t)
	roomID := f.newRoom(t, "Creator")
	f.message(t, roomID, "profile decoration check")

	results, err := f.engine.Search(context.Background(), Request{
		Requester:      testCreator,
		Term:           "decoration",
		IncludeProfile: true,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	profile := results[0].SenderProfile
	if profile == nil {
		t.Fatal("SenderProfile not attached")
	}
	if profile.Displayname != "Creator" {
		t.Errorf("Displayname = %q, want %q", profile.Displayname, "Creator")
	}
}

func TestSearchLimit(t *testing.T) {
	f := newFixture(t)
	roomID := f.newRoom(t, "")
	for i := 0; i < 5; i++ {
		f.message(t, roomID, "repeated phrase about gophers")
	}

	results, err := f.engine.Search(context.Background(), Request{
		Requester: testCreator,
		Term:      "gophers",
		Limit:     2,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}
