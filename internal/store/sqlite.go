package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stackwatch/relay/internal/model"

	_ "modernc.org/sqlite"
)

const createActionsTable = `
CREATE TABLE IF NOT EXISTS actions (
    id             TEXT PRIMARY KEY,
    entity_type    TEXT NOT NULL,
    entity_id      TEXT NOT NULL,
    responder_id   TEXT NOT NULL,
    responder_name TEXT NOT NULL,
    responder_def  TEXT NOT NULL DEFAULT '',
    instance_name  TEXT NOT NULL,
    job_id         TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT '',
    report         TEXT NOT NULL DEFAULT '',
    operations     TEXT NOT NULL DEFAULT '',
    message        TEXT NOT NULL DEFAULT '',
    parameters     TEXT NOT NULL DEFAULT '',
    tlp            INTEGER NOT NULL,
    pap            INTEGER NOT NULL,
    created_at     DATETIME NOT NULL,
    ended_at       DATETIME
)`

const actionColumns = `id, entity_type, entity_id, responder_id, responder_name,
	responder_def, instance_name, job_id, status, report, operations,
	message, parameters, tlp, pap, created_at, ended_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createActionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create actions table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateAction inserts a new action record.
func (s *SQLiteStore) CreateAction(ctx context.Context, a *model.Action) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO actions (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.EntityType, a.EntityID, a.ResponderID, a.ResponderName,
		a.ResponderDef, a.InstanceName, a.JobID, a.Status, string(a.Report),
		string(a.Operations), a.Message, string(a.Parameters), a.TLP, a.PAP,
		a.CreatedAt, a.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// GetAction retrieves an action by ID.
func (s *SQLiteStore) GetAction(ctx context.Context, id string) (*model.Action, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE id = ?`, id)

	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}
	return a, nil
}

// ListActions returns a filtered, paginated list of actions ordered by
// created_at DESC, along with the total count of matching actions.
func (s *SQLiteStore) ListActions(ctx context.Context, f ListFilter) ([]*model.Action, int, error) {
	where, args := buildFilter(f)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM actions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count actions: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+actionColumns+` FROM actions`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var actions []*model.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate actions: %w", err)
	}

	return actions, total, nil
}

// UpdateAction rewrites the poller-owned fields of an action: status, report,
// operation results, and end timestamp.
func (s *SQLiteStore) UpdateAction(ctx context.Context, a *model.Action) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE actions SET status = ?, report = ?, operations = ?, ended_at = ? WHERE id = ?`,
		a.Status, string(a.Report), string(a.Operations), a.EndedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update action: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetActionStats returns aggregate dispatch counts.
func (s *SQLiteStore) GetActionStats(ctx context.Context) (*ActionStats, error) {
	stats := &ActionStats{
		CountByStatus:   make(map[string]int),
		CountByInstance: make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM actions").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count actions: %w", err)
	}

	if err := s.groupCount(ctx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, "instance_name", stats.CountByInstance); err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *SQLiteStore) groupCount(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM actions GROUP BY %s", column, column))
	if err != nil {
		return fmt.Errorf("group by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		if key == "" {
			key = "in_progress"
		}
		into[key] = count
	}
	return rows.Err()
}

func buildFilter(f ListFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, f.EntityID)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAction(row scanner) (*model.Action, error) {
	a := &model.Action{}
	var report, operations, parameters string
	if err := row.Scan(
		&a.ID, &a.EntityType, &a.EntityID, &a.ResponderID, &a.ResponderName,
		&a.ResponderDef, &a.InstanceName, &a.JobID, &a.Status, &report,
		&operations, &a.Message, &parameters, &a.TLP, &a.PAP,
		&a.CreatedAt, &a.EndedAt,
	); err != nil {
		return nil, err
	}
	a.Report = rawOrNil(report)
	a.Operations = rawOrNil(operations)
	a.Parameters = rawOrNil(parameters)
	return a, nil
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
