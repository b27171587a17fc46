package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// EnsureEndpoint upserts an Endpoint by uid, applying the same verkey
// uniqueness and non-null-overwrite discipline as EnsureAgent.
func (r *Registry) EnsureEndpoint(ctx context.Context, uid, streamAddress, agentID, verkey, fcmDeviceID string) (Endpoint, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Endpoint{}, fmt.Errorf("registry: ensure_endpoint begin: %w", err)
	}
	defer tx.Rollback()

	if verkey != "" {
		var staleUID string
		err := tx.QueryRowContext(ctx, `SELECT uid FROM endpoints WHERE verkey = $1 AND uid != $2`, verkey, uid).Scan(&staleUID)
		if err == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM endpoints WHERE uid = $1`, staleUID); err != nil {
				return Endpoint{}, fmt.Errorf("registry: ensure_endpoint evict stale verkey: %w", err)
			}
			r.cache.Invalidate(nsEndpoints, staleUID)
		} else if err != sql.ErrNoRows {
			return Endpoint{}, fmt.Errorf("registry: ensure_endpoint verkey lookup: %w", err)
		}
	}

	var existing Endpoint
	var existingVerkey, existingAgentID, existingStream, existingFCM sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT verkey, agent_id, forward_stream_address, fcm_device_id FROM endpoints WHERE uid = $1`, uid).
		Scan(&existingVerkey, &existingAgentID, &existingStream, &existingFCM)

	switch {
	case err == sql.ErrNoRows:
		existing = Endpoint{
			UID:                   uid,
			Verkey:                verkey,
			AgentID:               agentID,
			ForwardStreamAddress:  streamAddress,
			FCMDeviceID:           fcmDeviceID,
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO endpoints (uid, verkey, agent_id, forward_stream_address, fcm_device_id) VALUES ($1, $2, $3, $4, $5)`,
			uid, nullableString(verkey), nullableString(agentID), nullableString(streamAddress), nullableString(fcmDeviceID)); err != nil {
			return Endpoint{}, fmt.Errorf("registry: ensure_endpoint insert: %w", err)
		}
	case err != nil:
		return Endpoint{}, fmt.Errorf("registry: ensure_endpoint lookup: %w", err)
	default:
		existing = Endpoint{
			UID:                  uid,
			Verkey:               coalesce(verkey, existingVerkey.String),
			AgentID:              coalesce(agentID, existingAgentID.String),
			ForwardStreamAddress: coalesce(streamAddress, existingStream.String),
			FCMDeviceID:          coalesce(fcmDeviceID, existingFCM.String),
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE endpoints SET verkey = $1, agent_id = $2, forward_stream_address = $3, fcm_device_id = $4 WHERE uid = $5`,
			nullableString(existing.Verkey), nullableString(existing.AgentID), nullableString(existing.ForwardStreamAddress),
			nullableString(existing.FCMDeviceID), uid); err != nil {
			return Endpoint{}, fmt.Errorf("registry: ensure_endpoint update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Endpoint{}, fmt.Errorf("registry: ensure_endpoint commit: %w", err)
	}

	r.cache.Invalidate(nsEndpoints, uid)
	if existing.Verkey != "" {
		r.cache.Invalidate(nsEndpointsByVerkey, existing.Verkey)
	}
	return existing, nil
}

func coalesce(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

// LoadEndpoint loads an Endpoint by uid, consulting the cache first.
func (r *Registry) LoadEndpoint(ctx context.Context, uid string) (Endpoint, error) {
	if cached, ok := r.cache.Get(nsEndpoints, uid); ok {
		var ep Endpoint
		if json.Unmarshal(cached, &ep) == nil {
			return ep, nil
		}
	}

	ep, err := r.loadEndpointRow(ctx, `uid = $1`, uid)
	if err != nil {
		return Endpoint{}, err
	}
	r.cacheEndpoint(ep)
	return ep, nil
}

// LoadEndpointByVerkey loads an Endpoint by its verkey.
func (r *Registry) LoadEndpointByVerkey(ctx context.Context, verkey string) (Endpoint, error) {
	if cached, ok := r.cache.Get(nsEndpointsByVerkey, verkey); ok {
		var ep Endpoint
		if json.Unmarshal(cached, &ep) == nil {
			return ep, nil
		}
	}

	ep, err := r.loadEndpointRow(ctx, `verkey = $1`, verkey)
	if err != nil {
		return Endpoint{}, err
	}
	r.cacheEndpoint(ep)
	return ep, nil
}

// LoadEndpointByRoutingKey resolves the endpoint that owns routing key k.
func (r *Registry) LoadEndpointByRoutingKey(ctx context.Context, key string) (Endpoint, error) {
	if cached, ok := r.cache.Get(nsEndpointsByRoutingKey, key); ok {
		var ep Endpoint
		if json.Unmarshal(cached, &ep) == nil {
			return ep, nil
		}
	}

	var uid string
	err := r.db.QueryRowContext(ctx, `SELECT endpoint_uid FROM routing_keys WHERE key = $1`, key).Scan(&uid)
	if err == sql.ErrNoRows {
		return Endpoint{}, ErrNotFound
	}
	if err != nil {
		return Endpoint{}, fmt.Errorf("registry: load_endpoint_by_routing_key: %w", err)
	}

	ep, err := r.loadEndpointRow(ctx, `uid = $1`, uid)
	if err != nil {
		return Endpoint{}, err
	}
	r.cache.Set(nsEndpointsByRoutingKey, key, marshalOrEmpty(ep))
	return ep, nil
}

func (r *Registry) loadEndpointRow(ctx context.Context, where string, arg interface{}) (Endpoint, error) {
	var ep Endpoint
	var verkey, agentID, stream, fcm sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT uid, verkey, agent_id, forward_stream_address, fcm_device_id FROM endpoints WHERE `+where, arg).
		Scan(&ep.UID, &verkey, &agentID, &stream, &fcm)
	if err == sql.ErrNoRows {
		return Endpoint{}, ErrNotFound
	}
	if err != nil {
		return Endpoint{}, fmt.Errorf("registry: load_endpoint: %w", err)
	}
	ep.Verkey, ep.AgentID, ep.ForwardStreamAddress, ep.FCMDeviceID = verkey.String, agentID.String, stream.String, fcm.String
	return ep, nil
}

func (r *Registry) cacheEndpoint(ep Endpoint) {
	blob := marshalOrEmpty(ep)
	r.cache.Set(nsEndpoints, ep.UID, blob)
	if ep.Verkey != "" {
		r.cache.Set(nsEndpointsByVerkey, ep.Verkey, blob)
	}
}

func marshalOrEmpty(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// EvictEndpointCache drops uid (and, if known, its verkey) from the
// cache — called by the Push Engine when a shard proves unreachable, so
// the next lookup goes straight to Postgres instead of serving the dead
// address again.
func (r *Registry) EvictEndpointCache(ctx context.Context, uid string) {
	r.cache.Invalidate(nsEndpoints, uid)
	if ep, err := r.loadEndpointRow(ctx, `uid = $1`, uid); err == nil && ep.Verkey != "" {
		r.cache.Invalidate(nsEndpointsByVerkey, ep.Verkey)
	}
}

// RewriteForwardStreamAddress updates an endpoint's forward stream
// address — called by the HTTP layer's shard-rotation retry when the
// endpoint's shard is found unreachable. Idempotent: concurrent callers racing to rewrite the same uid
// to the same new address simply repeat the write.
func (r *Registry) RewriteForwardStreamAddress(ctx context.Context, uid, newAddress string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE endpoints SET forward_stream_address = $1 WHERE uid = $2`, newAddress, uid); err != nil {
		return fmt.Errorf("registry: rewrite_forward_stream_address: %w", err)
	}
	r.cache.Invalidate(nsEndpoints, uid)
	return nil
}

// AddRoutingKey appends key to endpointUID's advertised routing chain.
func (r *Registry) AddRoutingKey(ctx context.Context, endpointUID, key string) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO routing_keys (endpoint_uid, key) VALUES ($1, $2) ON CONFLICT DO NOTHING`, endpointUID, key); err != nil {
		return fmt.Errorf("registry: add_routing_key: %w", err)
	}
	r.cache.Invalidate(nsEndpointsByRoutingKey, key)
	return nil
}

// RemoveRoutingKey removes key from endpointUID's routing chain.
func (r *Registry) RemoveRoutingKey(ctx context.Context, endpointUID, key string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM routing_keys WHERE endpoint_uid = $1 AND key = $2`, endpointUID, key); err != nil {
		return fmt.Errorf("registry: remove_routing_key: %w", err)
	}
	r.cache.Invalidate(nsEndpointsByRoutingKey, key)
	return nil
}

// ListRoutingKeys returns endpointUID's routing keys in insertion order.
func (r *Registry) ListRoutingKeys(ctx context.Context, endpointUID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key FROM routing_keys WHERE endpoint_uid = $1 ORDER BY id ASC`, endpointUID)
	if err != nil {
		return nil, fmt.Errorf("registry: list_routing_keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("registry: list_routing_keys scan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
