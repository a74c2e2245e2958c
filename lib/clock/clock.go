// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source behind event timestamps and purge
// checkpoint completion times. Production code injects Real(); tests
// inject Fake() so persisted timestamps are deterministic.
//
// Anything that calls time.Now to stamp persisted data should take a
// Clock (or sit on a struct with a Clock field) instead of calling
// the time package directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}
