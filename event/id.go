// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/hearth/lib/codec"
	"github.com/bureau-foundation/hearth/lib/ref"
)

// idDomainKey is the BLAKE3 keyed-hashing domain for event IDs.
// Domain separation keeps event IDs from colliding with any other
// hash computed over the same bytes. The key is the ASCII domain
// name zero-padded to 32 bytes; changing it invalidates every
// existing event ID.
var idDomainKey = [32]byte{
	'h', 'e', 'a', 'r', 't', 'h', '.', 'e', 'v', 'e', 'n', 't', '.', 'i', 'd',
}

// hashedFields is the portion of an event covered by the ID hash.
// Depth and StreamOrdering are store-assigned and excluded; the ID
// must be computable before persistence.
type hashedFields struct {
	RoomID         ref.RoomID     `cbor:"room_id"`
	Type           string         `cbor:"type"`
	StateKey       *string        `cbor:"state_key"`
	Sender         ref.UserID     `cbor:"sender"`
	Content        map[string]any `cbor:"content"`
	PrevEventIDs   []ref.EventID  `cbor:"prev_events"`
	OriginServerTS int64          `cbor:"origin_server_ts"`
}

// DeriveID computes the event's ID: '$' followed by the unpadded
// base64url encoding of a keyed BLAKE3 digest over the deterministic
// CBOR encoding of the event's author-fixed fields. Deterministic
// encoding (sorted keys, canonical integers) makes the ID a pure
// function of the event's logical content.
func DeriveID(e *Event) (ref.EventID, error) {
	encoded, err := codec.Marshal(hashedFields{
		RoomID:         e.RoomID,
		Type:           e.Type,
		StateKey:       e.StateKey,
		Sender:         e.Sender,
		Content:        e.Content,
		PrevEventIDs:   e.PrevEventIDs,
		OriginServerTS: e.OriginServerTS,
	})
	if err != nil {
		return ref.EventID{}, fmt.Errorf("event: encoding for ID hash: %w", err)
	}

	hasher, err := blake3.NewKeyed(idDomainKey[:])
	if err != nil {
		return ref.EventID{}, fmt.Errorf("event: ID hasher: %w", err)
	}
	hasher.Write(encoded)
	digest := hasher.Sum(nil)

	return ref.ParseEventID("$" + base64.RawURLEncoding.EncodeToString(digest))
}

// NewRoomID mints a fresh room ID on the given server: '!' followed
// by 18 random bytes in unpadded base64url. Called exactly once per
// room, when its creation event is persisted.
func NewRoomID(server ref.ServerName) (ref.RoomID, error) {
	var opaque [18]byte
	if _, err := rand.Read(opaque[:]); err != nil {
		return ref.RoomID{}, fmt.Errorf("event: minting room ID: %w", err)
	}
	raw := "!" + base64.RawURLEncoding.EncodeToString(opaque[:]) + ":" + server.String()
	return ref.ParseRoomID(raw)
}
