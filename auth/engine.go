// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"io"
	"log/slog"

	"github.com/bureau-foundation/hearth"
	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// StateSnapshot is a consistent view of one room's state, taken at
// the start of an authorization check. The store implements it; tests
// use lightweight fakes. All methods answer from the snapshot — none
// touch live state, so a check cannot observe a concurrent write.
type StateSnapshot interface {
	// Exists reports whether the room is known to this server.
	Exists() bool

	// Creator is the room creator's user ID. Zero when !Exists.
	Creator() ref.UserID

	// Public reports the room's directory visibility.
	Public() bool

	// WorldReadable reports whether the room's history-visibility
	// state grants reads to non-members.
	WorldReadable() bool

	// Membership returns the user's current membership.
	Membership(user ref.UserID) event.Membership

	// Inviter returns who invited the user, or the zero UserID when
	// the user was never invited.
	Inviter(user ref.UserID) ref.UserID

	// MembershipOrdering returns the stream ordering of the member
	// event that produced the user's current membership, or 0 when
	// none exists. For a LEAVE membership this is the leave point
	// used by historical read access.
	MembershipOrdering(user ref.UserID) int64

	// PowerLevels returns the room's parsed permission
	// configuration.
	PowerLevels() PowerLevels
}

// Engine evaluates authorization rules. Stateless apart from its
// logger; safe for concurrent use.
type Engine struct {
	logger *slog.Logger
}

// NewEngine returns an Engine. A nil logger discards.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{logger: logger}
}

// CheckEventAllowed decides whether the candidate event may be
// persisted against the given room state. Returns nil to allow, or a
// hearth.Error with code M_FORBIDDEN or M_NOT_FOUND.
//
// Room-creation events are allowed only when the room does not exist
// yet; every other event requires the room and dispatches on its
// kind.
func (a *Engine) CheckEventAllowed(snapshot StateSnapshot, candidate *event.Event) error {
	if candidate.Type == event.TypeCreate && candidate.IsState() {
		if snapshot.Exists() {
			return hearth.Forbidden("room already exists")
		}
		return nil
	}

	switch candidate.Kind() {
	case event.KindMembership:
		// Membership writes to an unknown room are NotFound; the
		// message/state paths below report Forbidden for the same
		// condition. Intentional asymmetry — see the package comment.
		if !snapshot.Exists() {
			return hearth.NotFound("room %s not known to this server", candidate.RoomID)
		}
		return a.checkMembershipChange(snapshot, candidate)

	case event.KindState:
		if !snapshot.Exists() {
			return hearth.Forbidden("room %s not known to this server", candidate.RoomID)
		}
		return a.checkStateChange(snapshot, candidate)

	default:
		if !snapshot.Exists() {
			return hearth.Forbidden("room %s not known to this server", candidate.RoomID)
		}
		return a.checkMessage(snapshot, candidate)
	}
}

// checkMessage gates timeline events: the sender must currently be
// joined and meet the events threshold.
func (a *Engine) checkMessage(snapshot StateSnapshot, candidate *event.Event) error {
	if snapshot.Membership(candidate.Sender) != event.MembershipJoin {
		return hearth.Forbidden("%s is not joined to %s", candidate.Sender, candidate.RoomID)
	}
	levels := snapshot.PowerLevels()
	if levels.UserLevel(candidate.Sender) < levels.EventsThreshold() {
		return hearth.Forbidden("%s lacks the level to send events in %s", candidate.Sender, candidate.RoomID)
	}
	return nil
}

// checkStateChange gates non-membership state events: joined sender
// at or above the state threshold. A joined member at the default
// level cannot set a topic; the creator can.
func (a *Engine) checkStateChange(snapshot StateSnapshot, candidate *event.Event) error {
	if snapshot.Membership(candidate.Sender) != event.MembershipJoin {
		return hearth.Forbidden("%s is not joined to %s", candidate.Sender, candidate.RoomID)
	}
	levels := snapshot.PowerLevels()
	if levels.UserLevel(candidate.Sender) < levels.StateThreshold() {
		return hearth.Forbidden("%s lacks the level to set %s in %s", candidate.Sender, candidate.Type, candidate.RoomID)
	}
	return nil
}

// checkMembershipChange runs the membership state machine. The actor
// is the event sender; the target is named by the state key; the
// requested state comes from the content.
func (a *Engine) checkMembershipChange(snapshot StateSnapshot, candidate *event.Event) error {
	target, err := candidate.MembershipTarget()
	if err != nil {
		return hearth.BadRequest("member event target: %v", err)
	}
	requested, err := candidate.RequestedMembership()
	if err != nil {
		return hearth.BadRequest("member event content: %v", err)
	}

	actor := candidate.Sender
	current := snapshot.Membership(target)
	levels := snapshot.PowerLevels()

	deny := func(reason string) error {
		a.logger.Debug("membership change denied",
			"room", candidate.RoomID.String(),
			"actor", actor.String(),
			"target", target.String(),
			"from", current.String(),
			"requested", requested.String(),
			"reason", reason,
		)
		return hearth.Forbidden("%s may not set %s's membership to %s", actor, target, requested)
	}

	switch requested {
	case event.MembershipInvite:
		if current != event.MembershipNone {
			return deny("target not invitable from " + current.String())
		}
		if snapshot.Membership(actor) != event.MembershipJoin {
			return deny("actor not joined")
		}
		if levels.UserLevel(actor) < levels.InviteThreshold() {
			return deny("actor below invite threshold")
		}
		return nil

	case event.MembershipJoin:
		if actor != target {
			return deny("join must be self-initiated")
		}
		switch current {
		case event.MembershipJoin:
			// Idempotent self-join (e.g. a profile update).
			return nil
		case event.MembershipInvite:
			return nil
		case event.MembershipBan:
			return deny("target is banned")
		default:
			if snapshot.Public() {
				return nil
			}
			// The creator's initial join: nobody exists yet to
			// invite them.
			if target == snapshot.Creator() {
				return nil
			}
			return deny("room is invite-only")
		}

	case event.MembershipLeave:
		switch current {
		case event.MembershipJoin:
			if actor == target {
				return nil
			}
			// Kick: threshold met and strictly above the target.
			if levels.UserLevel(actor) >= levels.KickThreshold() &&
				levels.UserLevel(actor) > levels.UserLevel(target) {
				return nil
			}
			return deny("actor may not kick target")
		case event.MembershipInvite:
			if actor == target {
				return nil
			}
			if inviter := snapshot.Inviter(target); !inviter.IsZero() && actor == inviter {
				// The inviter may rescind their own invite.
				return nil
			}
			return deny("only the target or inviter may retract an invite")
		case event.MembershipBan:
			// Unban gates on the ban threshold, not kick.
			if levels.UserLevel(actor) >= levels.BanThreshold() &&
				levels.UserLevel(actor) > levels.UserLevel(target) {
				return nil
			}
			return deny("actor may not unban target")
		default:
			return deny("target has no membership to leave")
		}

	case event.MembershipBan:
		if snapshot.Membership(actor) != event.MembershipJoin {
			return deny("actor not joined")
		}
		if levels.UserLevel(actor) >= levels.BanThreshold() &&
			levels.UserLevel(actor) > levels.UserLevel(target) {
			return nil
		}
		return deny("actor below ban threshold")

	default:
		return deny("membership state not requestable")
	}
}
