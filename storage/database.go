package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDBFileName is the SQLite filename under app data dir.
	DefaultDBFileName = "rooms.db"
	// DefaultWALCheckpointInterval controls periodic WAL truncation.
	DefaultWALCheckpointInterval = 24 * time.Hour
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS rooms (
  owner_address TEXT NOT NULL,
  room_id       TEXT NOT NULL,
  chat_type     TEXT NOT NULL CHECK(chat_type IN ('private','group')),
  name          TEXT NOT NULL,
  room_key      TEXT NOT NULL DEFAULT '',
  created_at    INTEGER NOT NULL,
  PRIMARY KEY (owner_address, room_id)
);
`,
	`
CREATE TABLE IF NOT EXISTS room_members (
  owner_address TEXT NOT NULL,
  room_id       TEXT NOT NULL,
  wallet        TEXT NOT NULL,
  member_type   TEXT NOT NULL CHECK(member_type IN ('owner','member')) DEFAULT 'member',
  public_key    TEXT NOT NULL DEFAULT '',
  user_name     TEXT NOT NULL DEFAULT '',
  user_avatar   TEXT,
  timestamp     INTEGER NOT NULL,
  PRIMARY KEY (owner_address, room_id, wallet),
  FOREIGN KEY (owner_address, room_id) REFERENCES rooms(owner_address, room_id) ON DELETE CASCADE
);
`,
	`
CREATE TABLE IF NOT EXISTS room_unread (
  owner_address  TEXT NOT NULL,
  room_id        TEXT NOT NULL,
  unread_count   INTEGER NOT NULL CHECK(unread_count >= 0) DEFAULT 0,
  latest_message TEXT,
  updated_at     INTEGER NOT NULL,
  PRIMARY KEY (owner_address, room_id),
  FOREIGN KEY (owner_address, room_id) REFERENCES rooms(owner_address, room_id) ON DELETE CASCADE
);
`,
	`
CREATE TABLE IF NOT EXISTS room_latest_messages (
  owner_address TEXT NOT NULL,
  room_id       TEXT NOT NULL,
  message       TEXT NOT NULL,
  timestamp     INTEGER NOT NULL,
  PRIMARY KEY (owner_address, room_id),
  FOREIGN KEY (owner_address, room_id) REFERENCES rooms(owner_address, room_id) ON DELETE CASCADE
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_rooms_owner_name
ON rooms (owner_address, name, room_id);
`,
}

// Store is the SQLite-backed room directory. Every row is scoped by the
// owning wallet address so several identities can share one database.
type Store struct {
	db *sql.DB

	walCheckpointInterval time.Duration
	walCheckpointStop     chan struct{}
	walCheckpointWG       sync.WaitGroup
	closeOnce             sync.Once
}

// Open opens (or creates) rooms.db under the given data directory and runs migrations.
func Open(dataDir string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}

	return store, dbPath, nil
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	store := &Store{
		db:                    db,
		walCheckpointInterval: DefaultWALCheckpointInterval,
		walCheckpointStop:     make(chan struct{}),
	}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.checkpointWAL(); err != nil {
		_ = db.Close()
		return nil, err
	}
	store.startWALCheckpointLoop()

	return store, nil
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		if s.walCheckpointStop != nil {
			close(s.walCheckpointStop)
			s.walCheckpointWG.Wait()
		}
		closeErr = s.db.Close()
		s.db = nil
	})
	return closeErr
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}

	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

func (s *Store) checkpointWAL() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("wal checkpoint truncate: %w", err)
	}
	return nil
}

func (s *Store) startWALCheckpointLoop() {
	interval := s.walCheckpointInterval
	if interval <= 0 || s.walCheckpointStop == nil {
		return
	}

	s.walCheckpointWG.Add(1)
	go func() {
		defer s.walCheckpointWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.checkpointWAL()
			case <-s.walCheckpointStop:
				return
			}
		}
	}()
}
