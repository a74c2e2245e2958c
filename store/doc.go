// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists room event graphs in SQLite.
//
// The store is the single owner of durable room state: the
// append-only event log (indexed by stream ordering and by
// (depth, stream ordering)), each room's current state map and
// forward extremities, derived membership rows, and sender profiles.
//
// Writes are serialized per room: PersistEvent holds a room-scoped
// mutex across the authorization check and the insert transaction,
// so current state and extremities always advance atomically.
// Different rooms write fully in parallel. Readers never take room
// locks — WAL mode gives every read statement a consistent snapshot,
// including while a purge batch is mid-commit.
//
// Deletion happens only through the purge batch methods, which the
// purge package drives.
package store
