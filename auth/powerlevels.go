// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"github.com/bureau-foundation/hearth/lib/ref"
)

// Default power-level thresholds, in force when a room has no
// m.room.power_levels state event or the event omits a key. The
// creator is level 100; everyone else defaults to 0. All
// non-membership state events gate on the single StateDefault
// threshold — there are no per-type tiers.
const (
	DefaultCreatorLevel = 100
	DefaultUsersLevel   = 0
	DefaultEventsLevel  = 0
	DefaultStateLevel   = 50
	DefaultInviteLevel  = 0
	DefaultKickLevel    = 50
	DefaultBanLevel     = 50
)

// PowerLevels is a room's permission configuration, parsed from the
// m.room.power_levels state event content (or defaults when absent).
type PowerLevels struct {
	creator       ref.UserID
	users         map[string]int64
	usersDefault  int64
	stateDefault  int64
	eventsDefault int64
	invite        int64
	kick          int64
	ban           int64
}

// ParsePowerLevels builds a PowerLevels from state event content.
// Pass nil content for a room with no power_levels event; the
// creator then gets DefaultCreatorLevel and everything else the
// package defaults. Malformed entries fall back to defaults rather
// than failing: power levels gate operations, and a room must never
// become unusable because one state event is garbled.
func ParsePowerLevels(content map[string]any, creator ref.UserID) PowerLevels {
	levels := PowerLevels{
		creator:       creator,
		usersDefault:  DefaultUsersLevel,
		stateDefault:  DefaultStateLevel,
		eventsDefault: DefaultEventsLevel,
		invite:        DefaultInviteLevel,
		kick:          DefaultKickLevel,
		ban:           DefaultBanLevel,
	}
	if content == nil {
		return levels
	}

	if users, ok := content["users"].(map[string]any); ok {
		levels.users = make(map[string]int64, len(users))
		for user, rawLevel := range users {
			if level, ok := asInt64(rawLevel); ok {
				levels.users[user] = level
			}
		}
	}
	if value, ok := asInt64(content["users_default"]); ok {
		levels.usersDefault = value
	}
	if value, ok := asInt64(content["state_default"]); ok {
		levels.stateDefault = value
	}
	if value, ok := asInt64(content["events_default"]); ok {
		levels.eventsDefault = value
	}
	if value, ok := asInt64(content["invite"]); ok {
		levels.invite = value
	}
	if value, ok := asInt64(content["kick"]); ok {
		levels.kick = value
	}
	if value, ok := asInt64(content["ban"]); ok {
		levels.ban = value
	}
	return levels
}

// UserLevel returns a user's power level: their explicit entry, else
// DefaultCreatorLevel for the room creator when no entry names them,
// else the users_default.
func (p PowerLevels) UserLevel(user ref.UserID) int64 {
	if level, ok := p.users[user.String()]; ok {
		return level
	}
	if !p.creator.IsZero() && user == p.creator {
		return DefaultCreatorLevel
	}
	return p.usersDefault
}

// StateThreshold is the level required to set any non-membership
// state event.
func (p PowerLevels) StateThreshold() int64 { return p.stateDefault }

// EventsThreshold is the level required to send timeline events.
func (p PowerLevels) EventsThreshold() int64 { return p.eventsDefault }

// InviteThreshold is the level required to invite.
func (p PowerLevels) InviteThreshold() int64 { return p.invite }

// KickThreshold is the level required to kick.
func (p PowerLevels) KickThreshold() int64 { return p.kick }

// BanThreshold is the level required to ban or unban.
func (p PowerLevels) BanThreshold() int64 { return p.ban }

// asInt64 coerces the numeric types a JSON or CBOR decode can
// produce. Booleans, strings, and fractional floats are rejected.
func asInt64(raw any) (int64, bool) {
	switch value := raw.(type) {
	case int64:
		return value, true
	case int:
		return int64(value), true
	case uint64:
		return int64(value), true
	case float64:
		whole := int64(value)
		if float64(whole) != value {
			return 0, false
		}
		return whole, true
	default:
		return 0, false
	}
}
