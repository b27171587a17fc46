package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EnsureAgent upserts an Agent by did. Any other agent row already
// holding verkey is deleted first — verkeys are globally unique key-pair
// identifiers and cannot be shared across two agents. metadata and
// fcmDeviceID are only overwritten when the caller supplies a non-nil /
// non-empty value.
func (r *Registry) EnsureAgent(ctx context.Context, did, verkey string, metadata map[string]interface{}, fcmDeviceID string) (Agent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Agent{}, fmt.Errorf("registry: ensure_agent begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE verkey = $1 AND did != $2`, verkey, did); err != nil {
		return Agent{}, fmt.Errorf("registry: ensure_agent evict stale verkey: %w", err)
	}

	var existingID string
	var existingMetaJSON []byte
	var existingFCM sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT id, metadata, fcm_device_id FROM agents WHERE did = $1`, did).
		Scan(&existingID, &existingMetaJSON, &existingFCM)

	var id string
	switch {
	case err == sql.ErrNoRows:
		id = uuid.NewString()
		metaJSON, mErr := json.Marshal(metadata)
		if mErr != nil {
			return Agent{}, fmt.Errorf("registry: marshal metadata: %w", mErr)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agents (id, did, verkey, metadata, fcm_device_id) VALUES ($1, $2, $3, $4, $5)`,
			id, did, verkey, metaJSON, nullableString(fcmDeviceID)); err != nil {
			return Agent{}, fmt.Errorf("registry: ensure_agent insert: %w", err)
		}
	case err != nil:
		return Agent{}, fmt.Errorf("registry: ensure_agent lookup: %w", err)
	default:
		id = existingID
		mergedMeta := existingMetaJSON
		if metadata != nil {
			merged, mErr := json.Marshal(metadata)
			if mErr != nil {
				return Agent{}, fmt.Errorf("registry: marshal metadata: %w", mErr)
			}
			mergedMeta = merged
		}
		fcm := existingFCM.String
		if fcmDeviceID != "" {
			fcm = fcmDeviceID
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE agents SET verkey = $1, metadata = $2, fcm_device_id = $3 WHERE id = $4`,
			verkey, mergedMeta, nullableString(fcm), id); err != nil {
			return Agent{}, fmt.Errorf("registry: ensure_agent update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Agent{}, fmt.Errorf("registry: ensure_agent commit: %w", err)
	}

	r.cache.Invalidate(nsAgentsByDID, did)
	r.cache.Invalidate(nsAgentsByVerkey, verkey)

	return Agent{ID: id, DID: did, Verkey: verkey, Metadata: metadata, FCMDeviceID: fcmDeviceID}, nil
}

// LoadAgentByDID loads an Agent by its DID.
func (r *Registry) LoadAgentByDID(ctx context.Context, did string) (Agent, error) {
	var a Agent
	var metaJSON []byte
	var fcm sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT id, did, verkey, metadata, fcm_device_id FROM agents WHERE did = $1`, did).
		Scan(&a.ID, &a.DID, &a.Verkey, &metaJSON, &fcm)
	if err == sql.ErrNoRows {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("registry: load_agent_by_did: %w", err)
	}
	a.FCMDeviceID = fcm.String
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &a.Metadata)
	}
	return a, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
