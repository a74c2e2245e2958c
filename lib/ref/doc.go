// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable identity references
// for the room core: room IDs, user IDs, event IDs, and server names.
//
// All constructors validate their inputs and return errors for
// invalid identifiers. Once constructed, a ref is immutable. Raw
// strings are parsed into ref types at the boundary (transport,
// storage scan, federation ingest) and passed through the core as
// typed values, so interior code never re-validates.
//
// The canonical serialization form is the full Matrix identifier:
//   - UserID:  @localpart:server
//   - RoomID:  !opaque:server
//   - EventID: $opaque
//
// JSON marshaling uses this canonical form via encoding.TextMarshaler.
package ref
