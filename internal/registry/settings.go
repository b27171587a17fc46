package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// GetSetting reads name from the single-row GlobalSetting JSON dictionary
// under a share lock, cache first.
func (r *Registry) GetSetting(ctx context.Context, name string) (string, error) {
	if cached, ok := r.cache.Get(nsSettings, name); ok {
		return string(cached), nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("registry: get_setting begin: %w", err)
	}
	defer tx.Rollback()

	doc, err := r.lockSettingsRow(ctx, tx, false)
	if err != nil {
		return "", err
	}

	val, ok := doc[name]
	if !ok {
		return "", ErrNotFound
	}
	s, _ := val.(string)
	r.cache.Set(nsSettings, name, []byte(s))
	return s, nil
}

// SetSetting writes name=value into the single-row dictionary under an
// exclusive lock, preserving every other key already present.
func (r *Registry) SetSetting(ctx context.Context, name, value string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: set_setting begin: %w", err)
	}
	defer tx.Rollback()

	doc, err := r.lockSettingsRow(ctx, tx, true)
	if err != nil {
		return err
	}
	doc[name] = value

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("registry: set_setting marshal: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE global_settings SET doc = $1 WHERE id = 1`, raw); err != nil {
		return fmt.Errorf("registry: set_setting update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: set_setting commit: %w", err)
	}

	r.cache.Invalidate(nsSettings, name)
	return nil
}

// lockSettingsRow reads the single settings row, taking a Postgres row
// lock matching the requested discipline (FOR UPDATE for writers, FOR
// SHARE for readers) so interleaved operator writes cannot clobber each
// other's keys.
func (r *Registry) lockSettingsRow(ctx context.Context, tx *sql.Tx, exclusive bool) (map[string]interface{}, error) {
	lockClause := "FOR SHARE"
	if exclusive {
		lockClause = "FOR UPDATE"
	}

	var raw []byte
	err := tx.QueryRowContext(ctx, `SELECT doc FROM global_settings WHERE id = 1 `+lockClause).Scan(&raw)
	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO global_settings (id, doc) VALUES (1, '{}') ON CONFLICT DO NOTHING`); err != nil {
			return nil, fmt.Errorf("registry: init global_settings: %w", err)
		}
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: lock global_settings: %w", err)
	}

	doc := map[string]interface{}{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("registry: parse global_settings: %w", err)
		}
	}
	return doc, nil
}
