package registry

import (
	"context"
	"database/sql"

	"github.com/nextlevelbuilder/didmediator/internal/kvcache"
)

// Registry is the Endpoint Registry. Postgres is the only ground truth;
// cache is an advisory read-through layer invalidated on every write.
type Registry struct {
	db    *sql.DB
	cache *kvcache.Cache
}

// New builds a Registry over an already-open database handle and cache.
func New(db *sql.DB, cache *kvcache.Cache) *Registry {
	return &Registry{db: db, cache: cache}
}

// Ping verifies the Postgres connection is reachable, used by the
// liveness check.
func (r *Registry) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CacheRoundTrip writes and reads back a throwaway key so the liveness
// check exercises the KV Cache's actual code path, not just its presence.
func (r *Registry) CacheRoundTrip(key string) {
	r.cache.Set("liveness", key, []byte("ok"))
	r.cache.Get("liveness", key)
}

const (
	nsEndpoints        = "endpoints"
	nsEndpointsByVerkey = "endpoints_verkeys"
	nsEndpointsByRoutingKey = "endpoints_routingkeys"
	nsAgentsByDID      = "agents_did"
	nsAgentsByVerkey   = "agents_verkey"
	nsSettings         = "settings"
)
