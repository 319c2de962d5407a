package licenses

import (
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("key not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(k *Key) error {
	query := `
		INSERT INTO license_keys (
			key_id, active, created_at, expires_at, bound_device, uses, max_uses, note
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query,
		k.ID,
		k.Active,
		k.CreatedAt,
		k.ExpiresAt,
		k.BoundDevice,
		k.Uses,
		k.MaxUses,
		k.Note,
	)
	return err
}

func (r *Repository) Get(keyID string) (*Key, error) {
	query := `
		SELECT key_id, active, created_at, expires_at, bound_device, uses, max_uses, note
		FROM license_keys WHERE key_id = ?
	`
	row := r.db.QueryRow(query, keyID)

	var k Key
	err := row.Scan(&k.ID, &k.Active, &k.CreatedAt, &k.ExpiresAt, &k.BoundDevice, &k.Uses, &k.MaxUses, &k.Note)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// Consume records one successful validation: it sets the binding (a no-op
// when already bound to the same device) and increments the usage counter.
func (r *Repository) Consume(keyID, deviceID string) error {
	query := `UPDATE license_keys SET bound_device = ?, uses = uses + 1 WHERE key_id = ?`
	return r.exec(query, deviceID, keyID)
}

func (r *Repository) SetActive(keyID string, active bool) error {
	return r.exec(`UPDATE license_keys SET active = ? WHERE key_id = ?`, active, keyID)
}

func (r *Repository) ClearBinding(keyID string) error {
	return r.exec(`UPDATE license_keys SET bound_device = NULL WHERE key_id = ?`, keyID)
}

func (r *Repository) Delete(keyID string) error {
	return r.exec(`DELETE FROM license_keys WHERE key_id = ?`, keyID)
}

func (r *Repository) List() ([]*Key, error) {
	query := `
		SELECT key_id, active, created_at, expires_at, bound_device, uses, max_uses, note
		FROM license_keys ORDER BY created_at DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.ID, &k.Active, &k.CreatedAt, &k.ExpiresAt, &k.BoundDevice, &k.Uses, &k.MaxUses, &k.Note); err != nil {
			return nil, err
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// Counts returns total keys and keys that are both active and unexpired at
// the given unix time. Used by the aggregate stats endpoint.
func (r *Repository) Counts(now int64) (total, active int, err error) {
	err = r.db.QueryRow(`SELECT COUNT(*) FROM license_keys`).Scan(&total)
	if err != nil {
		return 0, 0, err
	}
	err = r.db.QueryRow(`SELECT COUNT(*) FROM license_keys WHERE active = 1 AND expires_at > ?`, now).Scan(&active)
	if err != nil {
		return 0, 0, err
	}
	return total, active, nil
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
