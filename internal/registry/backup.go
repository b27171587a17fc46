package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SaveBackup persists an opaque binary blob, keyed by description —
// used to carry TLS certificate/key material across restarts.
func (r *Registry) SaveBackup(ctx context.Context, b Backup) error {
	ctxJSON, err := json.Marshal(b.Context)
	if err != nil {
		return fmt.Errorf("registry: marshal backup context: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO backups (description, binary_data, context)
		VALUES ($1, $2, $3)
		ON CONFLICT (description) DO UPDATE SET binary_data = EXCLUDED.binary_data, context = EXCLUDED.context`,
		b.Description, b.Binary, ctxJSON)
	if err != nil {
		return fmt.Errorf("registry: save_backup: %w", err)
	}
	return nil
}

// LoadBackup loads the blob stored under description.
func (r *Registry) LoadBackup(ctx context.Context, description string) (Backup, error) {
	var b Backup
	var ctxJSON []byte
	b.Description = description
	err := r.db.QueryRowContext(ctx, `SELECT binary_data, context FROM backups WHERE description = $1`, description).
		Scan(&b.Binary, &ctxJSON)
	if err == sql.ErrNoRows {
		return Backup{}, ErrNotFound
	}
	if err != nil {
		return Backup{}, fmt.Errorf("registry: load_backup: %w", err)
	}
	if len(ctxJSON) > 0 {
		_ = json.Unmarshal(ctxJSON, &b.Context)
	}
	return b, nil
}
