// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth decides which room operations a participant may
// perform.
//
// The write path is [Engine.CheckEventAllowed]: given a consistent
// snapshot of room state and a candidate event, it returns nil, a
// Forbidden error, or a NotFound error. Dispatch is by event kind —
// message, non-membership state, or membership — and happens exactly
// once per persist call. Authorization failures are terminal for the
// call; nothing here retries.
//
// The read path ([Engine.CheckCanReadEvent] and friends) gates
// pagination, search, and state reads on the requester's membership
// and the room's history-visibility setting.
//
// One deliberate asymmetry, preserved from the system this replaces:
// writing a membership change to a nonexistent room reports NotFound,
// while writing a message or state change to the same nonexistent
// room reports Forbidden. Both are legitimate outcomes of the same
// condition routed through different checks. Do not unify them.
package auth
