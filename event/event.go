// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"github.com/bureau-foundation/hearth/lib/ref"
)

// Room event types understood by the authorization engine. Any other
// type is still storable — unknown state types gate on the generic
// state threshold, unknown non-state types on membership.
const (
	TypeCreate            = "m.room.create"
	TypeMember            = "m.room.member"
	TypeMessage           = "m.room.message"
	TypeTopic             = "m.room.topic"
	TypeName              = "m.room.name"
	TypePowerLevels       = "m.room.power_levels"
	TypeHistoryVisibility = "m.room.history_visibility"
)

// Content field names with reserved meaning.
const (
	// FieldLabels is the content field holding an event's labels: an
	// array of strings. Read by the filter package.
	FieldLabels = "org.matrix.labels"

	// FieldMembership is the content field of an m.room.member event
	// holding the requested membership state.
	FieldMembership = "membership"

	// FieldTopic is the content field of an m.room.topic event.
	FieldTopic = "topic"

	// FieldBody is the text body of an m.room.message event.
	FieldBody = "body"

	// FieldVisibility is the content field of an m.room.create event
	// selecting directory visibility: "public" or "private". Absent
	// means private.
	FieldVisibility = "visibility"

	// FieldHistoryVisibility is the content field of an
	// m.room.history_visibility event. The only value with an effect
	// in this core is "world_readable".
	FieldHistoryVisibility = "history_visibility"

	// FieldDisplayname and FieldAvatarURL are the profile fields of
	// an m.room.member event, mirrored into the profile table.
	FieldDisplayname = "displayname"
	FieldAvatarURL   = "avatar_url"
)

// HistoryVisibilityWorldReadable opens a room's history to
// non-members.
const HistoryVisibilityWorldReadable = "world_readable"

// Event is a single record in a room's causal graph.
type Event struct {
	// ID is the event's globally unique identifier, derived from the
	// event's content hash (see DeriveID) for locally created events.
	ID ref.EventID `json:"event_id"`

	// RoomID is the room this event belongs to.
	RoomID ref.RoomID `json:"room_id"`

	// Type tags the event (e.g., "m.room.message").
	Type string `json:"type"`

	// StateKey is non-nil for state events. For membership events it
	// holds the target user ID; for most other state types it is "".
	StateKey *string `json:"state_key,omitempty"`

	// Sender is the user who authored the event.
	Sender ref.UserID `json:"sender"`

	// Content is the opaque event payload. Treated as data everywhere
	// except the reserved fields above.
	Content map[string]any `json:"content"`

	// PrevEventIDs are the DAG parents: the room's forward
	// extremities at the time the event was created. Empty only for
	// the room-creation event.
	PrevEventIDs []ref.EventID `json:"prev_events"`

	// Depth is 1 + max(parents' depth). Assigned at persist time.
	Depth int64 `json:"depth"`

	// StreamOrdering is the process-wide persist sequence number:
	// strictly increasing, never reused, assigned exactly once at
	// persist time.
	StreamOrdering int64 `json:"-"`

	// OriginServerTS is the author's wall clock in milliseconds.
	OriginServerTS int64 `json:"origin_server_ts"`

	// Local reports whether this server authored the event. Purge
	// uses it to decide hard-deletion eligibility.
	Local bool `json:"-"`
}

// IsState reports whether the event is a state event (has a state
// key).
func (e *Event) IsState() bool { return e.StateKey != nil }

// Kind classifies an event for authorization dispatch. The set is
// closed: every event is exactly one of message, membership, or
// other-state. Dispatch happens once per persist call.
type Kind int

const (
	// KindMessage is a timeline event with no state key.
	KindMessage Kind = iota

	// KindMembership is an m.room.member state event.
	KindMembership

	// KindState is any state event other than membership.
	KindState
)

// Kind returns the event's authorization kind.
func (e *Event) Kind() Kind {
	if e.StateKey == nil {
		return KindMessage
	}
	if e.Type == TypeMember {
		return KindMembership
	}
	return KindState
}

// Labels returns the event's labels from the reserved content field,
// or nil if the field is absent or malformed. Malformed label entries
// (non-strings) are skipped rather than rejected — the field is
// advisory, not authoritative.
func (e *Event) Labels() []string {
	raw, ok := e.Content[FieldLabels]
	if !ok {
		return nil
	}
	entries, ok := raw.([]any)
	if !ok {
		// Already-typed slices appear when the content map was built
		// in-process rather than decoded from JSON.
		if typed, ok := raw.([]string); ok {
			return typed
		}
		return nil
	}
	labels := make([]string, 0, len(entries))
	for _, entry := range entries {
		if label, ok := entry.(string); ok {
			labels = append(labels, label)
		}
	}
	return labels
}

// ContentString returns the named content field as a string, or ""
// when absent or not a string.
func (e *Event) ContentString(field string) string {
	value, _ := e.Content[field].(string)
	return value
}

// MembershipTarget returns the member event's target user. Fails if
// the event is not a membership event or the state key is not a valid
// user ID.
func (e *Event) MembershipTarget() (ref.UserID, error) {
	if e.Type != TypeMember || e.StateKey == nil {
		return ref.UserID{}, errNotMembership
	}
	return ref.ParseUserID(*e.StateKey)
}
