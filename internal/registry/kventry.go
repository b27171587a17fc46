package registry

import (
	"context"
	"database/sql"
	"fmt"
)

// KVEntry is general-purpose recipient-side secure storage exposed to
// SDK users — distinct from the front-layer kvcache, which only caches
// this package's own lookups.
type KVEntry struct {
	Namespace string
	Key       string
	Value     string
	ValueType string
}

// GetKV reads one namespaced key.
func (r *Registry) GetKV(ctx context.Context, namespace, key string) (KVEntry, error) {
	e := KVEntry{Namespace: namespace, Key: key}
	err := r.db.QueryRowContext(ctx,
		`SELECT value, value_type FROM kv_entries WHERE namespace = $1 AND key = $2`, namespace, key).
		Scan(&e.Value, &e.ValueType)
	if err == sql.ErrNoRows {
		return KVEntry{}, ErrNotFound
	}
	if err != nil {
		return KVEntry{}, fmt.Errorf("registry: get_kv: %w", err)
	}
	return e, nil
}

// SetKV upserts one namespaced key.
func (r *Registry) SetKV(ctx context.Context, e KVEntry) error {
	if e.ValueType == "" {
		e.ValueType = "text"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kv_entries (namespace, key, value, value_type) VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, value_type = EXCLUDED.value_type`,
		e.Namespace, e.Key, e.Value, e.ValueType)
	if err != nil {
		return fmt.Errorf("registry: set_kv: %w", err)
	}
	return nil
}
