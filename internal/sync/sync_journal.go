package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goodCoderXD/cync/internal/db"
	"github.com/goodCoderXD/cync/internal/utils"
	"github.com/jmoiron/sqlx"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS sync_journal (
    path TEXT PRIMARY KEY,
    is_dir INTEGER NOT NULL DEFAULT 0,
    local_hash TEXT NOT NULL DEFAULT '',
    local_size INTEGER NOT NULL DEFAULT 0,
    local_mtime TEXT NOT NULL DEFAULT '', -- RFC3339Nano
    remote_size INTEGER NOT NULL DEFAULT 0,
    remote_mtime TEXT NOT NULL DEFAULT '' -- RFC3339Nano
);
`

// JournalEntry records the last known-synced state of one path: the local
// snapshot (with content hash) and the remote snapshot as observed right
// after the last successful transfer. Conflict detection compares each
// side's current state against its half of this entry.
type JournalEntry struct {
	Path          string
	IsDir         bool
	LocalHash     string
	LocalSize     int64
	LocalModTime  time.Time
	RemoteSize    int64
	RemoteModTime time.Time
}

// dbJournalEntry is the scan target; timestamps are stored as TEXT.
type dbJournalEntry struct {
	Path        string `db:"path"`
	IsDir       bool   `db:"is_dir"`
	LocalHash   string `db:"local_hash"`
	LocalSize   int64  `db:"local_size"`
	LocalMtime  string `db:"local_mtime"`
	RemoteSize  int64  `db:"remote_size"`
	RemoteMtime string `db:"remote_mtime"`
}

// SyncJournal persists known-synced state in SQLite so restarts and
// reconnects can diff against it instead of re-transferring the world.
type SyncJournal struct {
	db     *sqlx.DB
	dbPath string
}

func NewSyncJournal(dbPath string) *SyncJournal {
	return &SyncJournal{dbPath: dbPath}
}

func (s *SyncJournal) Open() error {
	if s.db != nil {
		return fmt.Errorf("sync journal already open")
	}

	if err := utils.EnsureParent(s.dbPath); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	conn, err := db.NewSqliteDb(db.WithPath(s.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open sync journal: %w", err)
	}

	if _, err := conn.Exec(journalSchema); err != nil {
		conn.Close()
		return fmt.Errorf("initialize journal schema: %w", err)
	}

	s.db = conn
	return nil
}

func (s *SyncJournal) Close() error {
	if s.db == nil {
		return fmt.Errorf("sync journal not open")
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	slog.Debug("sync journal closed")
	return nil
}

// Get retrieves the entry for a path; a missing path returns (nil, nil).
func (s *SyncJournal) Get(path string) (*JournalEntry, error) {
	var row dbJournalEntry
	err := s.db.Get(&row, "SELECT * FROM sync_journal WHERE path = ?", path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query path %s: %w", path, err)
	}
	return fromDBEntry(&row)
}

// Set inserts or replaces the entry for a path.
func (s *SyncJournal) Set(entry *JournalEntry) error {
	if entry == nil {
		return fmt.Errorf("cannot set nil entry")
	}

	row := dbJournalEntry{
		Path:        entry.Path,
		IsDir:       entry.IsDir,
		LocalHash:   entry.LocalHash,
		LocalSize:   entry.LocalSize,
		LocalMtime:  entry.LocalModTime.Format(time.RFC3339Nano),
		RemoteSize:  entry.RemoteSize,
		RemoteMtime: entry.RemoteModTime.Format(time.RFC3339Nano),
	}

	query := `INSERT OR REPLACE INTO sync_journal
	          (path, is_dir, local_hash, local_size, local_mtime, remote_size, remote_mtime)
	          VALUES (:path, :is_dir, :local_hash, :local_size, :local_mtime, :remote_size, :remote_mtime)`
	if _, err := s.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("set entry for path %s: %w", entry.Path, err)
	}
	return nil
}

// Delete removes the entry for a path.
func (s *SyncJournal) Delete(path string) error {
	if _, err := s.db.Exec("DELETE FROM sync_journal WHERE path = ?", path); err != nil {
		return fmt.Errorf("delete path %s: %w", path, err)
	}
	return nil
}

// GetState retrieves every entry keyed by path.
func (s *SyncJournal) GetState() (map[string]*JournalEntry, error) {
	var rows []dbJournalEntry
	if err := s.db.Select(&rows, "SELECT * FROM sync_journal"); err != nil {
		return nil, fmt.Errorf("query full state: %w", err)
	}

	state := make(map[string]*JournalEntry, len(rows))
	for i := range rows {
		entry, err := fromDBEntry(&rows[i])
		if err != nil {
			slog.Error("corrupt journal entry, skipping", "path", rows[i].Path, "error", err)
			continue
		}
		state[entry.Path] = entry
	}
	return state, nil
}

// Count returns the number of journal entries.
func (s *SyncJournal) Count() (int, error) {
	var count int
	if err := s.db.Get(&count, "SELECT COUNT(*) FROM sync_journal"); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

func fromDBEntry(row *dbJournalEntry) (*JournalEntry, error) {
	entry := &JournalEntry{
		Path:       row.Path,
		IsDir:      row.IsDir,
		LocalHash:  row.LocalHash,
		LocalSize:  row.LocalSize,
		RemoteSize: row.RemoteSize,
	}

	var err error
	if row.LocalMtime != "" {
		if entry.LocalModTime, err = time.Parse(time.RFC3339Nano, row.LocalMtime); err != nil {
			return nil, fmt.Errorf("parse local mtime: %w", err)
		}
	}
	if row.RemoteMtime != "" {
		if entry.RemoteModTime, err = time.Parse(time.RFC3339Nano, row.RemoteMtime); err != nil {
			return nil, fmt.Errorf("parse remote mtime: %w", err)
		}
	}
	return entry, nil
}
