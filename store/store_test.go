// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/hearth"
	"github.com/bureau-foundation/hearth/auth"
	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/lib/clock"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/token"
)

var storeTestClockEpoch = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

var (
	testCreator  = ref.MustParseUserID("@creator:hearth.local")
	testMember   = ref.MustParseUserID("@member:hearth.local")
	testStranger = ref.MustParseUserID("@stranger:hearth.local")
	testRemote   = ref.MustParseUserID("@remote:elsewhere.org")
)

func openTestStore(t *testing.T) (*Store, *clock.FakeClock) {
	t.Helper()

	fakeClock := clock.Fake(storeTestClockEpoch)
	store, err := Open(Config{
		Path:       filepath.Join(t.TempDir(), "hearth_test.db"),
		PoolSize:   2,
		ServerName: ref.MustParseServerName("hearth.local"),
		Authorizer: auth.NewEngine(nil),
		Clock:      fakeClock,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("store.Close: %v", err)
		}
	})
	return store, fakeClock
}

func persist(t *testing.T, store *Store, candidate *event.Event) *event.Event {
	t.Helper()
	persisted, err := store.PersistEvent(context.Background(), candidate)
	if err != nil {
		t.Fatalf("PersistEvent(%s): %v", candidate.Type, err)
	}
	return persisted
}

func creationEvent(creator ref.UserID, visibility string) *event.Event {
	key := ""
	content := map[string]any{"creator": creator.String()}
	if visibility != "" {
		content[event.FieldVisibility] = visibility
	}
	return &event.Event{
		Type:     event.TypeCreate,
		StateKey: &key,
		Sender:   creator,
		Content:  content,
	}
}

func joinEvent(roomID ref.RoomID, user ref.UserID) *event.Event {
	key := user.String()
	return &event.Event{
		RoomID:   roomID,
		Type:     event.TypeMember,
		StateKey: &key,
		Sender:   user,
		Content:  map[string]any{event.FieldMembership: "join"},
	}
}

func inviteEvent(roomID ref.RoomID, sender, target ref.UserID) *event.Event {
	key := target.String()
	return &event.Event{
		RoomID:   roomID,
		Type:     event.TypeMember,
		StateKey: &key,
		Sender:   sender,
		Content:  map[string]any{event.FieldMembership: "invite"},
	}
}

func messageEvent(roomID ref.RoomID, sender ref.UserID, body string) *event.Event {
	return &event.Event{
		RoomID:  roomID,
		Type:    event.TypeMessage,
		Sender:  sender,
		Content: map[string]any{event.FieldBody: body},
	}
}

// newRoom creates a room with the creator joined and returns its ID.
func newRoom(t *testing.T, store *Store, visibility string) ref.RoomID {
	t.Helper()
	creation := persist(t, store, creationEvent(testCreator, visibility))
	persist(t, store, joinEvent(creation.RoomID, testCreator))
	return creation.RoomID
}

func TestPersistCreationMintsRoom(t *testing.T) {
	store, _ := openTestStore(t)

	creation := persist(t, store, creationEvent(testCreator, ""))
	if creation.RoomID.IsZero() {
		t.Fatal("creation event has no room ID")
	}
	if !strings.HasSuffix(creation.RoomID.String(), ":hearth.local") {
		t.Errorf("room ID %q not minted on this server", creation.RoomID)
	}
	if creation.ID.IsZero() {
		t.Error("creation event has no event ID")
	}
	if creation.Depth != 1 {
		t.Errorf("creation depth = %d, want 1", creation.Depth)
	}
	if creation.StreamOrdering == 0 {
		t.Error("creation has no stream ordering")
	}
	if len(creation.PrevEventIDs) != 0 {
		t.Errorf("creation has parents: %v", creation.PrevEventIDs)
	}
	if !creation.Local {
		t.Error("creation not marked local")
	}
	if creation.OriginServerTS != storeTestClockEpoch.UnixMilli() {
		t.Errorf("OriginServerTS = %d, want clock time", creation.OriginServerTS)
	}

	exists, err := store.RoomExists(context.Background(), creation.RoomID)
	if err != nil {
		t.Fatalf("RoomExists: %v", err)
	}
	if !exists {
		t.Error("room row missing after creation")
	}
}

func TestDefaultRoomVisibility(t *testing.T) {
	fakeClock := clock.Fake(storeTestClockEpoch)
	store, err := Open(Config{
		Path:                  filepath.Join(t.TempDir(), "hearth_test.db"),
		PoolSize:              2,
		ServerName:            ref.MustParseServerName("hearth.local"),
		Authorizer:            auth.NewEngine(nil),
		Clock:                 fakeClock,
		DefaultRoomVisibility: "public",
		Logger:                slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("store.Close: %v", err)
		}
	})

	// No visibility in the creation content: the server default wins.
	creation := persist(t, store, creationEvent(testCreator, ""))
	snapshot, err := store.Snapshot(context.Background(), creation.RoomID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snapshot.Public() {
		t.Error("room should inherit the public server default")
	}

	// An explicit visibility overrides the default.
	private := persist(t, store, creationEvent(testMember, "private"))
	snapshot, err = store.Snapshot(context.Background(), private.RoomID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.Public() {
		t.Error("explicit private visibility ignored")
	}
}

func TestPersistLinearChain(t *testing.T) {
	store, _ := openTestStore(t)
	roomID := newRoom(t, store, "")

	first := persist(t, store, messageEvent(roomID, testCreator, "one"))
	second := persist(t, store, messageEvent(roomID, testCreator, "two"))

	// Each event's parents are the extremities at persist time, so a
	// sequential room forms a chain.
	if len(second.PrevEventIDs) != 1 || second.PrevEventIDs[0] != first.ID {
		t.Errorf("second.PrevEventIDs = %v, want [%s]", second.PrevEventIDs, first.ID)
	}
	if second.Depth != first.Depth+1 {
		t.Errorf("second.Depth = %d, want %d", second.Depth, first.Depth+1)
	}
	if second.StreamOrdering <= first.StreamOrdering {
		t.Errorf("stream ordering did not advance: %d then %d", first.StreamOrdering, second.StreamOrdering)
	}
}

func TestPersistExplicitParents(t *testing.T) {
	store, _ := openTestStore(t)
	roomID := newRoom(t, store, "")

	base := persist(t, store, messageEvent(roomID, testCreator, "base"))
	persist(t, store, messageEvent(roomID, testCreator, "tip"))

	// A late event naming an older parent forks the graph; the next
	// implicit event merges both extremities.
	fork := messageEvent(roomID, testCreator, "fork")
	fork.PrevEventIDs = []ref.EventID{base.ID}
	forked := persist(t, store, fork)
	if forked.Depth != base.Depth+1 {
		t.Errorf("forked.Depth = %d, want %d", forked.Depth, base.Depth+1)
	}

	merge := persist(t, store, messageEvent(roomID, testCreator, "merge"))
	if len(merge.PrevEventIDs) != 2 {
		t.Errorf("merge has %d parents, want 2: %v", len(merge.PrevEventIDs), merge.PrevEventIDs)
	}
}

func TestPersistMissingParent(t *testing.T) {
	store, _ := openTestStore(t)
	roomID := newRoom(t, store, "")

	orphan := messageEvent(roomID, testCreator, "orphan")
	orphan.PrevEventIDs = []ref.EventID{ref.MustParseEventID("$bm9zdWNo")}
	_, err := store.PersistEvent(context.Background(), orphan)
	if !hearth.IsCode(err, hearth.ErrCodeInternal) {
		t.Errorf("persist with missing parent: %v, want internal error", err)
	}
}

func TestPersistAuthorizationDenials(t *testing.T) {
	store, _ := openTestStore(t)
	roomID := newRoom(t, store, "")

	_, err := store.PersistEvent(context.Background(), messageEvent(roomID, testStranger, "hi"))
	if !hearth.IsForbidden(err) {
		t.Errorf("message from stranger: %v, want forbidden", err)
	}

	ghost := ref.MustParseRoomID("!missing:hearth.local")
	_, err = store.PersistEvent(context.Background(), joinEvent(ghost, testStranger))
	if !hearth.IsNotFound(err) {
		t.Errorf("join of unknown room: %v, want not-found", err)
	}
	_, err = store.PersistEvent(context.Background(), messageEvent(ghost, testStranger, "hi"))
	if !hearth.IsForbidden(err) {
		t.Errorf("message to unknown room: %v, want forbidden", err)
	}
}

func TestStreamOrderingGlobal(t *testing.T) {
	store, _ := openTestStore(t)
	first := newRoom(t, store, "")
	second := newRoom(t, store, "")

	a := persist(t, store, messageEvent(first, testCreator, "a"))
	b := persist(t, store, messageEvent(second, testCreator, "b"))
	c := persist(t, store, messageEvent(first, testCreator, "c"))

	// Stream ordering is one sequence across all rooms.
	if !(a.StreamOrdering < b.StreamOrdering && b.StreamOrdering < c.StreamOrdering) {
		t.Errorf("orderings not globally increasing: %d, %d, %d",
			a.StreamOrdering, b.StreamOrdering, c.StreamOrdering)
	}
}

func TestPersistRemoteSender(t *testing.T) {
	store, _ := openTestStore(t)
	roomID := newRoom(t, store, "")
	persist(t, store, inviteEvent(roomID, testCreator, testRemote))
	persist(t, store, joinEvent(roomID, testRemote))

	remote := persist(t, store, messageEvent(roomID, testRemote, "hello from afar"))
	if remote.Local {
		t.Error("event from a remote sender marked local")
	}
}

func TestEventByID(t *testing.T) {
	store, _ := openTestStore(t)
	roomID := newRoom(t, store, "")
	sent := persist(t, store, messageEvent(roomID, testCreator, "findable"))

	loaded, err := store.EventByID(context.Background(), sent.ID)
	if err != nil {
		t.Fatalf("EventByID: %v", err)
	}
	if loaded.ContentString(event.FieldBody) != "findable" {
		t.Errorf("body = %q, want %q", loaded.ContentString(event.FieldBody), "findable")
	}
	if loaded.StreamOrdering != sent.StreamOrdering {
		t.Errorf("StreamOrdering = %d, want %d", loaded.StreamOrdering, sent.StreamOrdering)
	}
	if len(loaded.PrevEventIDs) != len(sent.PrevEventIDs) {
		t.Errorf("PrevEventIDs = %v, want %v", loaded.PrevEventIDs, sent.PrevEventIDs)
	}

	_, err = store.EventByID(context.Background(), ref.MustParseEventID("$bm9zdWNo"))
	if !hearth.IsNotFound(err) {
		t.Errorf("unknown event: %v, want not-found", err)
	}
}

func TestCompressedContentRoundtrip(t *testing.T) {
	store, _ := openTestStore(t)
	roomID := newRoom(t, store, "")

	// Well past the compression threshold, and compressible.
	body := strings.Repeat("the quick brown fox jumps over the lazy dog ", 100)
	sent := persist(t, store, messageEvent(roomID, testCreator, body))

	loaded, err := store.EventByID(context.Background(), sent.ID)
	if err != nil {
		t.Fatalf("EventByID: %v", err)
	}
	if loaded.ContentString(event.FieldBody) != body {
		t.Error("large body did not round-trip")
	}
}

func TestSnapshot(t *testing.T) {
	store, _ := openTestStore(t)
	roomID := newRoom(t, store, "public")
	persist(t, store, inviteEvent(roomID, testCreator, testMember))

	snapshot, err := store.Snapshot(context.Background(), roomID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snapshot.Exists() {
		t.Fatal("room should exist")
	}
	if !snapshot.Public() {
		t.Error("room should be public")
	}
	if snapshot.Creator() != testCreator {
		t.Errorf("Creator = %s, want %s", snapshot.Creator(), testCreator)
	}
	if got := snapshot.Membership(testCreator); got != event.MembershipJoin {
		t.Errorf("creator membership = %v, want join", got)
	}
	if got := snapshot.Membership(testMember); got != event.MembershipInvite {
		t.Errorf("member membership = %v, want invite", got)
	}
	if got := snapshot.Inviter(testMember); got != testCreator {
		t.Errorf("inviter = %s, want %s", got, testCreator)
	}
	if snapshot.WorldReadable() {
		t.Error("room should not be world readable yet")
	}

	key := ""
	persist(t, store, &event.Event{
		RoomID:   roomID,
		Type:     event.TypeHistoryVisibility,
		StateKey: &key,
		Sender:   testCreator,
		Content:  map[string]any{event.FieldHistoryVisibility: event.HistoryVisibilityWorldReadable},
	})
	snapshot, err = store.Snapshot(context.Background(), roomID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snapshot.WorldReadable() {
		t.Error("room should be world readable after the state event")
	}
}

func TestSnapshotAbsentRoom(t *testing.T) {
	store, _ := openTestStore(t)
	snapshot, err := store.Snapshot(context.Background(), ref.MustParseRoomID("!missing:hearth.local"))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.Exists() {
		t.Error("absent room reported as existing")
	}
}

func TestTopologicalScans(t *testing.T) {
	store, _ := openTestStore(t)
	roomID := newRoom(t, store, "")

	var sent []*event.Event
	for _, body := range []string{"one", "two", "three", "four"} {
		sent = append(sent, persist(t, store, messageEvent(roomID, testCreator, body)))
	}

	cursor := token.TopologicalToken{Depth: sent[2].Depth, Ordering: sent[2].StreamOrdering}

	before, err := store.TopologicalBefore(context.Background(), roomID, cursor, 2)
	if err != nil {
		t.Fatalf("TopologicalBefore: %v", err)
	}
	// At or before the cursor, newest first: the event at the cursor
	// position leads the scan.
	if len(before) != 2 || before[0].ID != sent[2].ID || before[1].ID != sent[1].ID {
		t.Errorf("TopologicalBefore returned %v", eventBodies(before))
	}

	after, err := store.TopologicalAfter(context.Background(), roomID, cursor, 10)
	if err != nil {
		t.Fatalf("TopologicalAfter: %v", err)
	}
	if len(after) != 1 || after[0].ID != sent[3].ID {
		t.Errorf("TopologicalAfter returned %v", eventBodies(after))
	}
}

func TestStreamScans(t *testing.T) {
	store, _ := openTestStore(t)
	roomID := newRoom(t, store, "")

	first := persist(t, store, messageEvent(roomID, testCreator, "one"))
	second := persist(t, store, messageEvent(roomID, testCreator, "two"))

	after, err := store.StreamAfter(context.Background(), roomID, token.StreamToken{Ordering: first.StreamOrdering}, 10)
	if err != nil {
		t.Fatalf("StreamAfter: %v", err)
	}
	if len(after) != 1 || after[0].ID != second.ID {
		t.Errorf("StreamAfter returned %v", eventBodies(after))
	}

	before, err := store.StreamBefore(context.Background(), roomID, token.StreamToken{Ordering: second.StreamOrdering}, 2)
	if err != nil {
		t.Fatalf("StreamBefore: %v", err)
	}
	// The cursor event itself is included, newest first.
	if len(before) != 2 || before[0].ID != second.ID || before[1].ID != first.ID {
		t.Errorf("StreamBefore returned %v", eventBodies(before))
	}
}

func TestRoomNewest(t *testing.T) {
	store, _ := openTestStore(t)
	roomID := newRoom(t, store, "")
	tip := persist(t, store, messageEvent(roomID, testCreator, "tip"))

	topological, stream, found, err := store.RoomNewest(context.Background(), roomID)
	if err != nil {
		t.Fatalf("RoomNewest: %v", err)
	}
	if !found {
		t.Fatal("RoomNewest found nothing")
	}
	want := token.TopologicalToken{Depth: tip.Depth, Ordering: tip.StreamOrdering}
	if topological != want {
		t.Errorf("topological = %v, want %v", topological, want)
	}
	if stream.Ordering != tip.StreamOrdering {
		t.Errorf("stream = %v, want ordering %d", stream, tip.StreamOrdering)
	}

	_, _, found, err = store.RoomNewest(context.Background(), ref.MustParseRoomID("!missing:hearth.local"))
	if err != nil {
		t.Fatalf("RoomNewest: %v", err)
	}
	if found {
		t.Error("RoomNewest found events in an absent room")
	}
}

func TestMembersAndProfiles(t *testing.T) {
	store, _ := openTestStore(t)
	roomID := newRoom(t, store, "public")

	join := joinEvent(roomID, testMember)
	join.Content[event.FieldDisplayname] = "Member"
	join.Content[event.FieldAvatarURL] = "mxc://hearth.local/member"
	persist(t, store, join)

	members, err := store.Members(context.Background(), roomID)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("Members returned %d events, want 2", len(members))
	}

	profile, err := store.Profile(context.Background(), testMember)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if profile.Displayname != "Member" {
		t.Errorf("Displayname = %q, want %q", profile.Displayname, "Member")
	}
	if profile.AvatarURL != "mxc://hearth.local/member" {
		t.Errorf("AvatarURL = %q", profile.AvatarURL)
	}

	_, err = store.Profile(context.Background(), testStranger)
	if !hearth.IsNotFound(err) {
		t.Errorf("Profile of unseen user: %v, want not-found", err)
	}
}

func TestStateEventAndPublicRooms(t *testing.T) {
	store, _ := openTestStore(t)
	public := newRoom(t, store, "public")
	newRoom(t, store, "")

	key := ""
	persist(t, store, &event.Event{
		RoomID:   public,
		Type:     event.TypeTopic,
		StateKey: &key,
		Sender:   testCreator,
		Content:  map[string]any{event.FieldTopic: "all hands"},
	})

	topic, err := store.StateEvent(context.Background(), public, event.TypeTopic, "")
	if err != nil {
		t.Fatalf("StateEvent: %v", err)
	}
	if topic.ContentString(event.FieldTopic) != "all hands" {
		t.Errorf("topic = %q", topic.ContentString(event.FieldTopic))
	}

	_, err = store.StateEvent(context.Background(), public, event.TypeName, "")
	if !hearth.IsNotFound(err) {
		t.Errorf("missing state: %v, want not-found", err)
	}

	rooms, err := store.PublicRooms(context.Background())
	if err != nil {
		t.Fatalf("PublicRooms: %v", err)
	}
	// Only the public room is listed.
	if len(rooms) != 1 || rooms[0].RoomID != public {
		t.Fatalf("PublicRooms = %v", rooms)
	}
	if rooms[0].Topic != "all hands" {
		t.Errorf("listed topic = %q", rooms[0].Topic)
	}
	if rooms[0].JoinedMembers != 1 {
		t.Errorf("JoinedMembers = %d, want 1", rooms[0].JoinedMembers)
	}
}

func eventBodies(events []*event.Event) []string {
	bodies := make([]string, len(events))
	for i, e := range events {
		bodies[i] = e.ContentString(event.FieldBody)
	}
	return bodies
}
