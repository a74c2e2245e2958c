// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Event timestamps and purge checkpoint completion times come from a
// Clock rather than time.Now, so tests can pin them. Real() is the
// standard library behavior; Fake() stands still until told to move.
//
// The store and the purge manager take a Clock in their configs:
//
//	eventStore, err := store.Open(store.Config{
//	    Clock: clock.Real(),
//	    // ...
//	})
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))
//	eventStore, err := store.Open(store.Config{Clock: c, /* ... */})
//	// every persisted event now carries the pinned origin_server_ts
//	c.Advance(time.Minute) // later events stamp a later time
package clock
