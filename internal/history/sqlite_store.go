// Package history persists audit items in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/stream-tts/internal/audit"
	_ "github.com/mattn/go-sqlite3"
)

const dirPermissions = 0o750

// ErrDBPathEmpty indicates that no database path was configured.
var ErrDBPathEmpty = errors.New("history database path cannot be empty")

const schema = `
CREATE TABLE IF NOT EXISTS audit_items (
	id INTEGER PRIMARY KEY,
	text TEXT NOT NULL,
	source TEXT NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	state TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_items_created_at ON audit_items(created_at DESC);`

// SQLiteStore implements core.HistoryStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, ErrDBPathEmpty
	}

	err := os.MkdirAll(filepath.Dir(dbPath), dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// One connection serializes every write to the log.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(schema)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close history database: %w", err)
	}

	return nil
}

// CreateRecord appends item. An existing id is never overwritten.
func (s *SQLiteStore) CreateRecord(ctx context.Context, item audit.Item) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_items (id, text, source, username, created_at, state) VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, item.Text, string(item.Source), item.Username, item.CreatedAt.UTC(), string(item.State),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit item %d: %w", item.ID, err)
	}

	return nil
}

// UpdateState applies the only legal transition, playing to finished. It
// reports whether a record changed; unknown ids and finished records do not.
func (s *SQLiteStore) UpdateState(ctx context.Context, id int64, state audit.State) (bool, error) {
	if state != audit.StateFinished {
		return false, fmt.Errorf("unsupported audit transition to %q", state)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE audit_items SET state = ? WHERE id = ? AND state = ?`,
		string(audit.StateFinished), id, string(audit.StatePlaying),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update audit item %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows for audit item %d: %w", id, err)
	}

	return affected > 0, nil
}

// Get returns the record with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (audit.Item, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, source, username, created_at, state FROM audit_items WHERE id = ?`, id)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Item{}, false, nil
	}

	if err != nil {
		return audit.Item{}, false, fmt.Errorf("failed to load audit item %d: %w", id, err)
	}

	return item, true, nil
}

// List returns every record, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]audit.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, source, username, created_at, state FROM audit_items ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit items: %w", err)
	}
	defer rows.Close()

	var items []audit.Item

	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan audit item: %w", scanErr)
		}

		items = append(items, item)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate audit items: %w", err)
	}

	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (audit.Item, error) {
	var (
		item      audit.Item
		source    string
		state     string
		createdAt time.Time
	)

	err := row.Scan(&item.ID, &item.Text, &source, &item.Username, &createdAt, &state)
	if err != nil {
		return audit.Item{}, err
	}

	item.Source = audit.Source(source)
	item.State = audit.State(state)
	item.CreatedAt = createdAt.UTC()

	return item, nil
}
