package scripts

import (
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("script not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Upsert creates or replaces a script, preserving the execution counter and
// creation time on replace. Returns whether the record was newly created.
func (r *Repository) Upsert(name, content, description string, skipObfuscation bool) (bool, error) {
	now := time.Now().Unix()

	var exists bool
	if err := r.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM scripts WHERE name = ?)`, name,
	).Scan(&exists); err != nil {
		return false, err
	}

	// Single conflict-aware statement so concurrent uploads of the same name
	// cannot race the existence check into a constraint violation.
	_, err := r.db.Exec(
		`INSERT INTO scripts (name, content, description, skip_obfuscation, executions, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   content = excluded.content,
		   description = excluded.description,
		   skip_obfuscation = excluded.skip_obfuscation,
		   updated_at = excluded.updated_at`,
		name, content, description, skipObfuscation, now, now,
	)
	return !exists, err
}

func (r *Repository) Get(name string) (*Script, error) {
	row := r.db.QueryRow(
		`SELECT name, content, description, skip_obfuscation, executions, last_executed_at, created_at, updated_at
		 FROM scripts WHERE name = ?`, name,
	)

	var s Script
	err := row.Scan(&s.Name, &s.Content, &s.Description, &s.SkipObfuscation, &s.Executions, &s.LastExecutedAt, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) Delete(name string) error {
	return r.exec(`DELETE FROM scripts WHERE name = ?`, name)
}

// RecordExecution bumps the counter exactly once per successful delivery.
func (r *Repository) RecordExecution(name string) error {
	return r.exec(
		`UPDATE scripts SET executions = executions + 1, last_executed_at = ? WHERE name = ?`,
		time.Now().Unix(), name,
	)
}

func (r *Repository) ResetExecutions(name string) error {
	return r.exec(`UPDATE scripts SET executions = 0 WHERE name = ?`, name)
}

func (r *Repository) List() ([]Info, error) {
	rows, err := r.db.Query(
		`SELECT name, content, description, skip_obfuscation, executions, last_executed_at, created_at, updated_at
		 FROM scripts ORDER BY name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	infos := []Info{}
	for rows.Next() {
		var s Script
		if err := rows.Scan(&s.Name, &s.Content, &s.Description, &s.SkipObfuscation, &s.Executions, &s.LastExecutedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		infos = append(infos, s.info())
	}
	return infos, rows.Err()
}

// Totals returns script count, summed executions and summed content bytes.
func (r *Repository) Totals() (count, executions, size int, err error) {
	row := r.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(executions), 0), COALESCE(SUM(LENGTH(content)), 0) FROM scripts`,
	)
	err = row.Scan(&count, &executions, &size)
	return count, executions, size, err
}

func (r *Repository) exec(query string, args ...interface{}) error {
	res, err := r.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
