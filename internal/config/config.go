package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Config is the root configuration for the mediator process.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Cache     CacheConfig     `json:"cache,omitempty"`
	Streams   StreamsConfig   `json:"streams,omitempty"`
	Mediator  MediatorConfig  `json:"mediator,omitempty"`
	FCM       FCMConfig       `json:"fcm,omitempty"`
	TLS       TLSConfig       `json:"tls,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// GatewayConfig configures the public HTTP/WebSocket listener.
type GatewayConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	WebRoot         string `json:"web_root"`          // base URL advertised in MediateGrant / invitations
	RateLimitRPM    int    `json:"rate_limit_rpm"`    // per-endpoint POST /e/{uid} rate limit; 0 = disabled
	DefaultPushTTL  string `json:"default_push_ttl"`  // Go duration string, default "15s"
	AdminToken      string `json:"-"`                 // from env MEDIATOR_ADMIN_TOKEN only, guards /ws/events
}

// DatabaseConfig configures Postgres, the only ground truth for Agents,
// Endpoints, RoutingKeys, Pairwises, Settings, and Backups.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"` // from env MEDIATOR_POSTGRES_DSN only (secret)
}

// CacheConfig configures the KV cache namespace TTLs.
type CacheConfig struct {
	DefaultTTL      string `json:"default_ttl"`       // default "5m"
	EndpointTTL     string `json:"endpoint_ttl"`       // default "5m"
	RoutingKeyTTL   string `json:"routing_key_ttl"`    // default "5m"
	SettingTTL      string `json:"setting_ttl"`        // default "1m"
}

// StreamsConfig lists the Redis-compatible shards backing the stream
// transport, plus the consumer-group defaults used by sessions.
type StreamsConfig struct {
	Shards           []string `json:"shards"`             // redis://host:port entries
	ReverseChannelTTL string  `json:"reverse_channel_ttl"` // not read: the Push Engine subscribes a fresh reverse channel for every request
}

// MediatorConfig configures the mediator's own deterministic identity.
type MediatorConfig struct {
	Seed  string `json:"-"`    // 32-byte seed, hex-encoded, from env MEDIATOR_SEED only
	Label string `json:"label"` // advertised in /invitation
}

// FCMConfig configures the Firebase Cloud Messaging fallback used by the
// Push Engine when no transport acknowledges within TTL.
type FCMConfig struct {
	CredentialsFile string `json:"-"` // from env MEDIATOR_FCM_CREDENTIALS_FILE only
	ProjectID       string `json:"project_id,omitempty"`
}

// TLSConfig configures in-process TLS termination: when both files are
// set the HTTP server serves TLS with them. ACME automation is out of
// scope; this only points at an operator-supplied cert pair.
type TLSConfig struct {
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export for push/forward spans.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// CacheTTLs builds the kvcache namespace TTL map from the configured
// durations, falling back to sensible defaults for any unset or
// unparsable value.
func (c *Config) CacheTTLs() map[string]time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def := parseDurationOr(c.Cache.DefaultTTL, 5*time.Minute)
	ep := parseDurationOr(c.Cache.EndpointTTL, 5*time.Minute)
	return map[string]time.Duration{
		"agents_did":            def,
		"agents_verkey":         def,
		"endpoints":             ep,
		"endpoints_verkeys":     ep,
		"endpoints_routingkeys": parseDurationOr(c.Cache.RoutingKeyTTL, 5*time.Minute),
		"settings":              parseDurationOr(c.Cache.SettingTTL, time.Minute),
	}
}

// DefaultPushTTLDuration parses Gateway.DefaultPushTTL, falling back to
// 15s when unset or invalid.
func (c *Config) DefaultPushTTLDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDurationOr(c.Gateway.DefaultPushTTL, 15*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the Broadcast Control Plane's reload handler.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gw, db, cache, streams, med, fcm, tls, tel := src.Gateway, src.Database, src.Cache, src.Streams, src.Mediator, src.FCM, src.TLS, src.Telemetry
	c.Gateway = gw
	c.Database = db
	c.Cache = cache
	c.Streams = streams
	c.Mediator = med
	c.FCM = fcm
	c.TLS = tls
	c.Telemetry = tel
}

// MarshalJSON implements json.Marshaler under the read lock, so concurrent
// Save() calls never observe a partially-updated Config.
func (c *Config) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	type alias Config
	return json.Marshal((*alias)(c))
}

// UnmarshalJSON implements json.Unmarshaler under the write lock.
func (c *Config) UnmarshalJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	type alias Config
	if err := json.Unmarshal(data, (*alias)(c)); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}
