package version

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeframe/internal/logging"
	"codeframe/internal/taxonomy"

	_ "modernc.org/sqlite"
)

// Store is the append-only version persistence collaborator. The engine
// never deletes a version; append and read are the whole surface.
type Store interface {
	Append(ctx context.Context, v *StudyVersion) error
	List(ctx context.Context, studyID string) ([]*StudyVersion, error)
	Close() error
}

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLStore persists versions in a local SQLite database. Snapshots and
// summaries are stored as JSON blobs; the relational columns exist for
// keying and ordering only.
type SQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewSQLStore opens (creating if needed) the version database at path.
func NewSQLStore(path string) (*SQLStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite serializes through a single connection anyway;
	// capping the pool avoids SQLITE_BUSY churn under concurrent saves.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to enable WAL mode: %v", err)
	}

	store := &SQLStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// initialize creates the required tables.
func (s *SQLStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS study_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		study_id TEXT NOT NULL,
		version_number INTEGER NOT NULL,
		wave TEXT,
		created_at DATETIME NOT NULL,
		snapshot_json TEXT NOT NULL,
		metadata_json TEXT NOT NULL,
		changes_json TEXT,
		UNIQUE(study_id, version_number)
	);
	CREATE INDEX IF NOT EXISTS idx_versions_study ON study_versions(study_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Append stores one version. Duplicate (study, version number) pairs are a
// constraint violation, not an overwrite.
func (s *SQLStore) Append(ctx context.Context, v *StudyVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := json.Marshal(v.CodeframeSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	metadata, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	var changes []byte
	if v.ChangesSummary != nil {
		if changes, err = json.Marshal(v.ChangesSummary); err != nil {
			return fmt.Errorf("failed to marshal changes summary: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO study_versions (study_id, version_number, wave, created_at, snapshot_json, metadata_json, changes_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.StudyID, v.VersionNumber, v.Wave, v.CreatedAt.Format(time.RFC3339Nano),
		string(snapshot), string(metadata), nullable(changes))
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}

	logging.Store("Appended %s v%d", v.StudyID, v.VersionNumber)
	return nil
}

// List returns every stored version of a study, ordered by version number.
func (s *SQLStore) List(ctx context.Context, studyID string) ([]*StudyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT version_number, wave, created_at, snapshot_json, metadata_json, changes_json
		FROM study_versions WHERE study_id = ? ORDER BY version_number`, studyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var versions []*StudyVersion
	for rows.Next() {
		var (
			v         = &StudyVersion{StudyID: studyID}
			createdAt string
			snapshot  string
			metadata  string
			changes   sql.NullString
		)
		if err := rows.Scan(&v.VersionNumber, &v.Wave, &createdAt, &snapshot, &metadata, &changes); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		if v.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		v.CodeframeSnapshot = &taxonomy.Codeframe{}
		if err := json.Unmarshal([]byte(snapshot), v.CodeframeSnapshot); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &v.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		if changes.Valid && changes.String != "" {
			v.ChangesSummary = &ChangesSummary{}
			if err := json.Unmarshal([]byte(changes.String), v.ChangesSummary); err != nil {
				return nil, fmt.Errorf("failed to decode changes summary: %w", err)
			}
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func nullable(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// =============================================================================
// IN-MEMORY STORE
// =============================================================================

// MemoryStore is a map-backed Store for tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	byStudy map[string][]*StudyVersion
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byStudy: make(map[string][]*StudyVersion)}
}

// Append stores one version.
func (m *MemoryStore) Append(ctx context.Context, v *StudyVersion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byStudy[v.StudyID] {
		if existing.VersionNumber == v.VersionNumber {
			return fmt.Errorf("version %d already exists for study %s", v.VersionNumber, v.StudyID)
		}
	}
	m.byStudy[v.StudyID] = append(m.byStudy[v.StudyID], v)
	return nil
}

// List returns the study's versions.
func (m *MemoryStore) List(ctx context.Context, studyID string) ([]*StudyVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*StudyVersion(nil), m.byStudy[studyID]...), nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
