package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const createEntitiesTable = `
CREATE TABLE IF NOT EXISTS entities (
    type    TEXT NOT NULL,
    id      TEXT NOT NULL,
    case_id TEXT,
    fields  TEXT NOT NULL,
    PRIMARY KEY (type, id)
)`

const createCasesTable = `
CREATE TABLE IF NOT EXISTS cases (
    id    TEXT PRIMARY KEY,
    title TEXT,
    tlp   INTEGER NOT NULL DEFAULT 2,
    pap   INTEGER NOT NULL DEFAULT 2,
    tags  TEXT NOT NULL DEFAULT '[]'
)`

// Compile-time interface satisfaction checks.
var (
	_ Store        = (*SQLiteStore)(nil)
	_ CaseResolver = (*SQLiteStore)(nil)
)

// SQLiteStore implements Store and CaseResolver using SQLite. It is the
// reference case-management store used by the server binary; deployments
// integrating a real case-management system supply their own Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open entity database: %w", err)
	}

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout = 5000", createEntitiesTable, createCasesTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init entity database: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get retrieves an entity by type and id.
func (s *SQLiteStore) Get(ctx context.Context, entityType, id string) (*Record, error) {
	var caseID sql.NullString
	var fields string
	err := s.db.QueryRowContext(ctx,
		"SELECT case_id, fields FROM entities WHERE type = ? AND id = ?",
		entityType, id,
	).Scan(&caseID, &fields)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", entityType, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}

	rec := &Record{Type: entityType, ID: id, CaseID: caseID.String}
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("decode entity fields: %w", err)
	}
	return rec, nil
}

// Create inserts a new entity record.
func (s *SQLiteStore) Create(ctx context.Context, rec *Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encode entity fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO entities (type, id, case_id, fields) VALUES (?, ?, ?, ?)",
		rec.Type, rec.ID, nullable(rec.CaseID), string(fields),
	)
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	return nil
}

// Update rewrites an entity's fields.
func (s *SQLiteStore) Update(ctx context.Context, rec *Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encode entity fields: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE entities SET fields = ? WHERE type = ? AND id = ?",
		string(fields), rec.Type, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", rec.Type, rec.ID, ErrNotFound)
	}
	return nil
}

// CreateCase inserts a case.
func (s *SQLiteStore) CreateCase(ctx context.Context, c *Case) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO cases (id, title, tlp, pap) VALUES (?, ?, ?, ?)",
		c.ID, c.Title, c.TLP, c.PAP,
	)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// OwningCase resolves the case an entity belongs to.
func (s *SQLiteStore) OwningCase(ctx context.Context, entityType, entityID string) (*Case, error) {
	c := &Case{}
	err := s.db.QueryRowContext(ctx,
		`SELECT c.id, c.title, c.tlp, c.pap
		FROM entities e JOIN cases c ON c.id = e.case_id
		WHERE e.type = ? AND e.id = ?`,
		entityType, entityID,
	).Scan(&c.ID, &c.Title, &c.TLP, &c.PAP)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("owning case of %s %s: %w", entityType, entityID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve owning case: %w", err)
	}
	return c, nil
}

// AddCaseTag appends a tag to a case, ignoring duplicates.
func (s *SQLiteStore) AddCaseTag(ctx context.Context, caseID, tag string) error {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT tags FROM cases WHERE id = ?", caseID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("case %s: %w", caseID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get case tags: %w", err)
	}

	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return fmt.Errorf("decode case tags: %w", err)
	}
	for _, existing := range tags {
		if existing == tag {
			return nil
		}
	}
	tags = append(tags, tag)

	encoded, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode case tags: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE cases SET tags = ? WHERE id = ?", string(encoded), caseID); err != nil {
		return fmt.Errorf("update case tags: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
