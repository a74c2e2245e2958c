// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package filter parses event filter specifications and compiles them
// into reusable predicates.
//
// A filter is parsed once per request and the compiled predicate is
// shared by every consumer in that request (pagination and search use
// the identical object), so the two paths cannot disagree about what
// matches.
package filter

import (
	"encoding/json"
	"fmt"

	"github.com/bureau-foundation/hearth/event"
)

// Wire keys of a filter specification. Unknown keys are ignored, not
// errors; a spec with no recognized keys matches everything.
const (
	KeyTypes     = "types"
	KeyLabels    = "org.matrix.labels"
	KeyNotLabels = "org.matrix.not_labels"
	KeyLimit     = "limit"
)

// DefaultLimit applies when a spec carries no limit.
const DefaultLimit = 10

// Spec is a parsed filter specification.
type Spec struct {
	// Types is an allow-list of event types. Nil means all types.
	Types []string `json:"types,omitempty"`

	// Labels requires the event to carry at least one of these
	// labels. Nil imposes no requirement.
	Labels []string `json:"org.matrix.labels,omitempty"`

	// NotLabels requires the event to carry none of these labels.
	NotLabels []string `json:"org.matrix.not_labels,omitempty"`

	// Limit caps the number of filter-passing events a traversal
	// returns. Zero means DefaultLimit.
	Limit int `json:"limit,omitempty"`
}

// ParseSpec decodes a wire-form filter. Malformed JSON or wrongly
// typed recognized keys fail; unrecognized keys are dropped silently.
// An empty input is the match-everything spec.
func ParseSpec(raw []byte) (Spec, error) {
	if len(raw) == 0 {
		return Spec{}, nil
	}
	var spec Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return Spec{}, fmt.Errorf("filter: parsing spec: %w", err)
	}
	if spec.Limit < 0 {
		return Spec{}, fmt.Errorf("filter: negative limit %d", spec.Limit)
	}
	return spec, nil
}

// EffectiveLimit returns the spec's limit, or DefaultLimit when
// unset.
func (s Spec) EffectiveLimit() int {
	if s.Limit <= 0 {
		return DefaultLimit
	}
	return s.Limit
}

// EventFilter is the compiled form of a Spec: a pure predicate over
// an event. Compile once per request; Matches is safe for concurrent
// use.
type EventFilter struct {
	types     map[string]struct{}
	labels    map[string]struct{}
	notLabels map[string]struct{}
}

// Compile builds the predicate from a parsed spec.
func Compile(spec Spec) *EventFilter {
	compiled := &EventFilter{}
	if len(spec.Types) > 0 {
		compiled.types = make(map[string]struct{}, len(spec.Types))
		for _, eventType := range spec.Types {
			compiled.types[eventType] = struct{}{}
		}
	}
	if len(spec.Labels) > 0 {
		compiled.labels = make(map[string]struct{}, len(spec.Labels))
		for _, label := range spec.Labels {
			compiled.labels[label] = struct{}{}
		}
	}
	if len(spec.NotLabels) > 0 {
		compiled.notLabels = make(map[string]struct{}, len(spec.NotLabels))
		for _, label := range spec.NotLabels {
			compiled.notLabels[label] = struct{}{}
		}
	}
	return compiled
}

// MatchAll is the predicate of the empty spec.
func MatchAll() *EventFilter { return Compile(Spec{}) }

// Matches reports whether the event passes the filter: its type is
// allow-listed (or no allow-list exists), it carries at least one
// required label (or none are required), and it carries no excluded
// label.
func (f *EventFilter) Matches(eventType string, labels []string) bool {
	if f.types != nil {
		if _, ok := f.types[eventType]; !ok {
			return false
		}
	}
	if f.labels != nil {
		found := false
		for _, label := range labels {
			if _, ok := f.labels[label]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.notLabels != nil {
		for _, label := range labels {
			if _, ok := f.notLabels[label]; ok {
				return false
			}
		}
	}
	return true
}

// MatchesEvent applies the filter to a stored event.
func (f *EventFilter) MatchesEvent(e *event.Event) bool {
	return f.Matches(e.Type, e.Labels())
}
