package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SavePairwise persists a P2P record, unique by TheirDID.
func (r *Registry) SavePairwise(ctx context.Context, p Pairwise) error {
	metaJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("registry: marshal pairwise metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pairwises (their_did, their_verkey, my_did, my_verkey, their_label, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (their_did) DO UPDATE
		SET their_verkey = EXCLUDED.their_verkey, my_did = EXCLUDED.my_did,
		    my_verkey = EXCLUDED.my_verkey, their_label = EXCLUDED.their_label,
		    metadata = EXCLUDED.metadata`,
		p.TheirDID, p.TheirVerkey, p.MyDID, p.MyVerkey, p.TheirLabel, metaJSON)
	if err != nil {
		return fmt.Errorf("registry: save_pairwise: %w", err)
	}
	return nil
}

// LoadPairwise loads the pairwise record for theirDID, reconstructing
// their DIDDoc (stored at metadata.their.did_doc) as part of Metadata.
func (r *Registry) LoadPairwise(ctx context.Context, theirDID string) (Pairwise, error) {
	var p Pairwise
	var metaJSON []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT their_did, their_verkey, my_did, my_verkey, their_label, metadata FROM pairwises WHERE their_did = $1`,
		theirDID).Scan(&p.TheirDID, &p.TheirVerkey, &p.MyDID, &p.MyVerkey, &p.TheirLabel, &metaJSON)
	if err == sql.ErrNoRows {
		return Pairwise{}, ErrNotFound
	}
	if err != nil {
		return Pairwise{}, fmt.Errorf("registry: load_pairwise: %w", err)
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &p.Metadata)
	}
	return p, nil
}
