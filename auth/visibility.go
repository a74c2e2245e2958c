// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"github.com/bureau-foundation/hearth"
	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// CheckCanReadRoom gates access to a room's history and state as a
// whole: currently joined, world-readable room, or previously joined
// (a user who left retains access to history up to their leave
// point — per-event bounds are enforced by CheckCanReadEvent).
//
// A public room is not world-readable by default: non-members are
// denied topic and message reads even when the room is listed in the
// public directory. Directory listing is governed by a server-wide
// flag, not by this check.
func (a *Engine) CheckCanReadRoom(snapshot StateSnapshot, requester ref.UserID) error {
	if !snapshot.Exists() {
		return hearth.Forbidden("room not known to this server")
	}
	if snapshot.WorldReadable() {
		return nil
	}
	switch snapshot.Membership(requester) {
	case event.MembershipJoin, event.MembershipLeave:
		return nil
	default:
		return hearth.Forbidden("%s may not read this room", requester)
	}
}

// CheckCanReadEvent gates a single event: joined requesters see
// everything, requesters who left see events up to and including
// their leave point, world-readable rooms are open. Pagination and
// search apply this per candidate event, before limit counting.
func (a *Engine) CheckCanReadEvent(snapshot StateSnapshot, requester ref.UserID, candidate *event.Event) error {
	if snapshot.WorldReadable() {
		return nil
	}
	switch snapshot.Membership(requester) {
	case event.MembershipJoin:
		return nil
	case event.MembershipLeave:
		if candidate.StreamOrdering <= snapshot.MembershipOrdering(requester) {
			return nil
		}
		return hearth.Forbidden("%s left before this event", requester)
	default:
		return hearth.Forbidden("%s may not read this room", requester)
	}
}

// CheckCanReadMembers gates the member list: joined or previously
// joined. An invite alone does not reveal the member list.
func (a *Engine) CheckCanReadMembers(snapshot StateSnapshot, requester ref.UserID) error {
	if !snapshot.Exists() {
		return hearth.Forbidden("room not known to this server")
	}
	switch snapshot.Membership(requester) {
	case event.MembershipJoin, event.MembershipLeave:
		return nil
	default:
		return hearth.Forbidden("%s may not read the member list", requester)
	}
}
