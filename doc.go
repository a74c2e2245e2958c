// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hearth holds the shared failure taxonomy for the Hearth
// room core. Every package in this module reports failures through
// [Error] so that the transport layer can map outcomes to status
// codes without inspecting error strings.
//
// The room core itself lives in the sibling packages: event (data
// model), auth (authorization engine), store (event storage), token
// (pagination cursors), filter (event predicates), pagination,
// purge, and search.
package hearth
