package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store persists one Document per zone.
type Store interface {
	// Load returns false when nothing was saved for zoneID yet.
	Load(ctx context.Context, zoneID string) (Document, bool, error)
	Save(ctx context.Context, zoneID string, doc Document) error
	Close() error
}

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

type Config struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.Path)
	case DriverMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

const createTable = `
	CREATE TABLE IF NOT EXISTS zone_state (
		zone_id TEXT PRIMARY KEY,
		document BLOB NOT NULL,
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
`

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (and creates if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = "adaptherm.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store at %q: %w", path, err)
	}
	// a single connection avoids "database is locked" errors
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zone_state table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, zoneID string) (Document, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM zone_state WHERE zone_id = ?`, zoneID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("load zone %q: %w", zoneID, err)
	}
	doc, err := Decode(raw)
	if err != nil {
		return Document{}, false, fmt.Errorf("load zone %q: %w", zoneID, err)
	}
	return doc, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, zoneID string, doc Document) error {
	raw, err := Encode(doc)
	if err != nil {
		return fmt.Errorf("encode zone %q: %w", zoneID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO zone_state (zone_id, document, version, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(zone_id) DO UPDATE SET
			document = excluded.document,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		zoneID, raw, CurrentVersion, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save zone %q: %w", zoneID, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemoryStore keeps encoded documents in memory. It goes through the same
// codec as the sqlite store.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string][]byte{}}
}

func (m *MemoryStore) Load(_ context.Context, zoneID string) (Document, bool, error) {
	m.mu.Lock()
	raw, ok := m.docs[zoneID]
	m.mu.Unlock()
	if !ok {
		return Document{}, false, nil
	}
	doc, err := Decode(raw)
	if err != nil {
		return Document{}, false, err
	}
	return doc, true, nil
}

func (m *MemoryStore) Save(_ context.Context, zoneID string, doc Document) error {
	raw, err := Encode(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[zoneID] = raw
	m.mu.Unlock()
	return nil
}

// Put stores a raw document as is, for seeding older layouts.
func (m *MemoryStore) Put(zoneID string, raw []byte) {
	m.mu.Lock()
	m.docs[zoneID] = append([]byte(nil), raw...)
	m.mu.Unlock()
}

func (m *MemoryStore) Close() error { return nil }
