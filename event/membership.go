// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"errors"
	"fmt"
)

var errNotMembership = errors.New("event: not a membership event")

// Membership is a user's relationship to a room: the `membership`
// field of the most recent persisted m.room.member event targeting
// that user, or MembershipNone when no such event exists.
type Membership int

const (
	MembershipNone Membership = iota
	MembershipInvite
	MembershipJoin
	MembershipLeave
	MembershipBan
)

// String returns the wire form ("join", "leave", ...). MembershipNone
// has no wire form and returns "none".
func (m Membership) String() string {
	switch m {
	case MembershipInvite:
		return "invite"
	case MembershipJoin:
		return "join"
	case MembershipLeave:
		return "leave"
	case MembershipBan:
		return "ban"
	default:
		return "none"
	}
}

// ParseMembership parses the wire form of a membership state. "none"
// is not a wire value: a user with no relation simply has no member
// event.
func ParseMembership(raw string) (Membership, error) {
	switch raw {
	case "invite":
		return MembershipInvite, nil
	case "join":
		return MembershipJoin, nil
	case "leave":
		return MembershipLeave, nil
	case "ban":
		return MembershipBan, nil
	default:
		return MembershipNone, fmt.Errorf("unknown membership %q", raw)
	}
}

// RequestedMembership returns the membership state a member event
// requests, read from its content. Fails on non-membership events and
// on missing or unknown membership values.
func (e *Event) RequestedMembership() (Membership, error) {
	if e.Type != TypeMember || e.StateKey == nil {
		return MembershipNone, errNotMembership
	}
	raw := e.ContentString(FieldMembership)
	if raw == "" {
		return MembershipNone, fmt.Errorf("member event %s has no membership field", e.ID)
	}
	return ParseMembership(raw)
}
