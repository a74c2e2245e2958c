// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the room core's data model: the immutable
// Event record, the closed set of event kinds used for authorization
// dispatch, membership states, and event ID derivation.
//
// An Event is created exactly once by a successful authorize+persist
// call and never mutated afterwards. The store assigns Depth and
// StreamOrdering at persist time; everything else is fixed by the
// author.
package event
