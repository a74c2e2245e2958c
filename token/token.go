// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package token encodes and decodes opaque pagination cursors.
//
// Two cursor kinds exist, distinguished on the wire by their leading
// discriminator character:
//
//   - stream token      "s<ordering>"          live/forward traversal
//   - topological token "t<depth>-<ordering>"  historical traversal
//
// Each kind is totally ordered (integer order for stream,
// lexicographic on (depth, ordering) for topological). Cross-kind
// comparison is undefined and deliberately not exported: callers
// carry a Token and compare only within one kind.
package token

import (
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidToken reports a malformed cursor string. The decoder
// rejects anything that is not exactly one of the two wire forms —
// it never coerces.
type ErrInvalidToken struct {
	Raw string
}

func (e *ErrInvalidToken) Error() string {
	return fmt.Sprintf("token: invalid pagination token %q", e.Raw)
}

// Token is a pagination cursor of either kind.
type Token interface {
	// Encode returns the wire form. Decode(Encode(t)) == t.
	Encode() string

	// isToken keeps the set of kinds closed.
	isToken()
}

// StreamToken orders events by their process-wide persist sequence.
type StreamToken struct {
	Ordering int64
}

func (t StreamToken) isToken() {}

// Encode returns "s<ordering>".
func (t StreamToken) Encode() string {
	return "s" + strconv.FormatInt(t.Ordering, 10)
}

// Less reports whether t precedes other in stream order.
func (t StreamToken) Less(other StreamToken) bool {
	return t.Ordering < other.Ordering
}

// TopologicalToken orders events by (causal depth, persist sequence).
// The pair is a total order consistent with causality: an ancestor's
// token always precedes a descendant's.
type TopologicalToken struct {
	Depth    int64
	Ordering int64
}

func (t TopologicalToken) isToken() {}

// Encode returns "t<depth>-<ordering>".
func (t TopologicalToken) Encode() string {
	return "t" + strconv.FormatInt(t.Depth, 10) + "-" + strconv.FormatInt(t.Ordering, 10)
}

// Less reports whether t precedes other in topological order:
// lexicographic on (depth, ordering).
func (t TopologicalToken) Less(other TopologicalToken) bool {
	if t.Depth != other.Depth {
		return t.Depth < other.Depth
	}
	return t.Ordering < other.Ordering
}

// Decode parses a wire-form cursor. Anything that does not match one
// of the two forms exactly — wrong discriminator, wrong component
// count, non-integer components — fails with *ErrInvalidToken.
func Decode(raw string) (Token, error) {
	if len(raw) < 2 {
		return nil, &ErrInvalidToken{Raw: raw}
	}
	switch raw[0] {
	case 's':
		ordering, err := strconv.ParseInt(raw[1:], 10, 64)
		if err != nil {
			return nil, &ErrInvalidToken{Raw: raw}
		}
		return StreamToken{Ordering: ordering}, nil

	case 't':
		depthPart, orderingPart, found := strings.Cut(raw[1:], "-")
		if !found {
			return nil, &ErrInvalidToken{Raw: raw}
		}
		depth, err := strconv.ParseInt(depthPart, 10, 64)
		if err != nil {
			return nil, &ErrInvalidToken{Raw: raw}
		}
		ordering, err := strconv.ParseInt(orderingPart, 10, 64)
		if err != nil {
			return nil, &ErrInvalidToken{Raw: raw}
		}
		return TopologicalToken{Depth: depth, Ordering: ordering}, nil

	default:
		return nil, &ErrInvalidToken{Raw: raw}
	}
}

// DecodeTopological parses a cursor and requires the topological
// kind. Purge boundaries are topological by contract.
func DecodeTopological(raw string) (TopologicalToken, error) {
	parsed, err := Decode(raw)
	if err != nil {
		return TopologicalToken{}, err
	}
	topological, ok := parsed.(TopologicalToken)
	if !ok {
		return TopologicalToken{}, &ErrInvalidToken{Raw: raw}
	}
	return topological, nil
}
