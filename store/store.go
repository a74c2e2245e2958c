// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hearth/auth"
	"github.com/bureau-foundation/hearth/lib/clock"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/lib/sqlitepool"
)

// Config holds the parameters for opening an event store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. ":memory:" works for single-
	// connection test pools.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative.
	PoolSize int

	// ServerName is this server's name. Events whose sender lives on
	// this server are marked locally authored, which controls purge
	// eligibility. Required.
	ServerName ref.ServerName

	// Authorizer validates every candidate event before it is
	// persisted. Required.
	Authorizer *auth.Engine

	// Clock provides event timestamps. Required.
	Clock clock.Clock

	// DefaultRoomVisibility is the directory visibility applied to
	// rooms whose creation event does not name one. Empty means
	// "private".
	DefaultRoomVisibility string

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Store is the durable event store. Safe for concurrent use.
type Store struct {
	pool              *sqlitepool.Pool
	clock             clock.Clock
	logger            *slog.Logger
	serverName        ref.ServerName
	authorizer        *auth.Engine
	defaultVisibility string

	// roomLocks serializes writers per room. Entries are created on
	// first write to a room and never removed — a room that has seen
	// a write will usually see more.
	roomLocksMu sync.Mutex
	roomLocks   map[string]*sync.Mutex
}

// Open creates or opens an event store. The schema is applied on
// every connection via CREATE IF NOT EXISTS, so opening an existing
// database is a no-op upgrade path.
func Open(cfg Config) (*Store, error) {
	if cfg.ServerName.IsZero() {
		return nil, fmt.Errorf("store: ServerName is required")
	}
	if cfg.Authorizer == nil {
		return nil, fmt.Errorf("store: Authorizer is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("store: Clock is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	return &Store{
		pool:              pool,
		clock:             cfg.Clock,
		logger:            logger,
		serverName:        cfg.ServerName,
		authorizer:        cfg.Authorizer,
		defaultVisibility: cfg.DefaultRoomVisibility,
		roomLocks:         make(map[string]*sync.Mutex),
	}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// roomLock returns the write mutex for a room, creating it on first
// use.
func (s *Store) roomLock(roomID ref.RoomID) *sync.Mutex {
	s.roomLocksMu.Lock()
	defer s.roomLocksMu.Unlock()
	lock, ok := s.roomLocks[roomID.String()]
	if !ok {
		lock = &sync.Mutex{}
		s.roomLocks[roomID.String()] = lock
	}
	return lock
}

// schema is the event store's DDL.
//
// events.stream_ordering is an AUTOINCREMENT rowid: SQLite guarantees
// it is strictly increasing across the whole database and never
// reused after deletion, which is exactly the stream-ordering
// contract. The (room_id, depth, stream_ordering) index serves
// topological range scans; (room_id, stream_ordering) is covered by
// the rowid index plus the room_id prefix index below.
const schema = `
	CREATE TABLE IF NOT EXISTS rooms (
		room_id    TEXT PRIMARY KEY,
		creator    TEXT NOT NULL,
		visibility TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		stream_ordering  INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id         TEXT NOT NULL UNIQUE,
		room_id          TEXT NOT NULL,
		type             TEXT NOT NULL,
		state_key        TEXT,
		sender           TEXT NOT NULL,
		depth            INTEGER NOT NULL,
		origin_server_ts INTEGER NOT NULL,
		local            INTEGER NOT NULL,
		content          BLOB NOT NULL,
		content_codec    INTEGER NOT NULL,
		content_size     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_room_topological
		ON events(room_id, depth, stream_ordering);
	CREATE INDEX IF NOT EXISTS idx_events_room_stream
		ON events(room_id, stream_ordering);

	CREATE TABLE IF NOT EXISTS event_edges (
		event_id      TEXT NOT NULL,
		prev_event_id TEXT NOT NULL,
		PRIMARY KEY (event_id, prev_event_id)
	);

	CREATE TABLE IF NOT EXISTS room_state (
		room_id   TEXT NOT NULL,
		type      TEXT NOT NULL,
		state_key TEXT NOT NULL,
		event_id  TEXT NOT NULL,
		PRIMARY KEY (room_id, type, state_key)
	);

	CREATE TABLE IF NOT EXISTS forward_extremities (
		room_id  TEXT NOT NULL,
		event_id TEXT NOT NULL,
		PRIMARY KEY (room_id, event_id)
	);

	CREATE TABLE IF NOT EXISTS room_memberships (
		room_id         TEXT NOT NULL,
		user_id         TEXT NOT NULL,
		membership      TEXT NOT NULL,
		inviter         TEXT,
		event_id        TEXT NOT NULL,
		stream_ordering INTEGER NOT NULL,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS profiles (
		user_id     TEXT PRIMARY KEY,
		displayname TEXT,
		avatar_url  TEXT
	);

	CREATE TABLE IF NOT EXISTS purge_checkpoints (
		room_id    TEXT PRIMARY KEY,
		checkpoint BLOB NOT NULL
	);
`
