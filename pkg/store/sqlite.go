package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store manages the SQLite connection and schema.
type Store struct {
	db *sql.DB
}

// NewStore initializes the SQLite database connection.
// It enables WAL mode for concurrency and durability.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the necessary tables if they don't exist.
func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL,
		facility_id TEXT NOT NULL DEFAULT '',
		role_id TEXT NOT NULL,
		person_id TEXT NOT NULL,
		relationship_id TEXT NOT NULL,
		ts DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_facility ON assignments(facility_id, ts);
	CREATE INDEX IF NOT EXISTS idx_assignments_role ON assignments(role_id, ts);

	CREATE TABLE IF NOT EXISTS leases (
		name TEXT PRIMARY KEY,
		holder_id TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// RecordAssignment appends a journal entry. A zero At is stamped with now.
func (s *Store) RecordAssignment(ctx context.Context, rec AssignmentRecord) error {
	if rec.Action == "" || rec.RoleID == "" || rec.PersonID == "" {
		return fmt.Errorf("assignment record requires action, role_id and person_id")
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignments (action, facility_id, role_id, person_id, relationship_id, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(rec.Action), rec.FacilityID, rec.RoleID, rec.PersonID, rec.RelationshipID, rec.At.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert assignment: %w", err)
	}
	return nil
}

// ListAssignments returns journal entries matching filter, oldest first.
func (s *Store) ListAssignments(ctx context.Context, filter AssignmentFilter) ([]AssignmentRecord, error) {
	var where []string
	var args []any
	if filter.FacilityID != "" {
		where = append(where, "facility_id = ?")
		args = append(args, filter.FacilityID)
	}
	if filter.RoleID != "" {
		where = append(where, "role_id = ?")
		args = append(args, filter.RoleID)
	}
	if filter.PersonID != "" {
		where = append(where, "person_id = ?")
		args = append(args, filter.PersonID)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(filter.Action))
	}
	if !filter.From.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, filter.To.UTC())
	}

	query := `SELECT id, action, facility_id, role_id, person_id, relationship_id, ts FROM assignments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	records := []AssignmentRecord{}
	for rows.Next() {
		var rec AssignmentRecord
		var action string
		if err := rows.Scan(&rec.ID, &action, &rec.FacilityID, &rec.RoleID, &rec.PersonID, &rec.RelationshipID, &rec.At); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		rec.Action = AssignmentAction(action)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PruneAssignments deletes journal entries older than cutoff and reports how
// many were removed.
func (s *Store) PruneAssignments(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assignments WHERE ts < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune assignments: %w", err)
	}
	return res.RowsAffected()
}
