package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/didmediator/internal/push"
	"github.com/nextlevelbuilder/didmediator/internal/registry"
	"github.com/nextlevelbuilder/didmediator/internal/streamtransport"
	"github.com/nextlevelbuilder/didmediator/pkg/protocol"
)

// allowedPushContentTypes is the whitelist POST /e/{uid} accepts; any
// other value is rejected with 415.
var allowedPushContentTypes = map[string]bool{
	"application/ssi-agent-wire":         true,
	"application/json":                   true,
	"application/didcomm-envelope-enc":   true,
	"application/didcomm-encrypted+json": true,
}

const defaultPushTTL = 15 * time.Second
const maxPushBody = 1 << 20 // 1 MiB

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !allowedPushContentTypes[ct] {
		http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
		return
	}

	uid := strings.TrimPrefix(r.URL.Path, "/e/")
	if uid == "" {
		http.Error(w, "missing endpoint uid", http.StatusNotFound)
		return
	}

	if !s.rateLimiter.Allow(uid) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody+1))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxPushBody {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	ctx := r.Context()
	ep, err := s.reg.LoadEndpoint(ctx, uid)
	if err == registry.ErrNotFound {
		http.Error(w, "unknown endpoint", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("httpapi.push_load_endpoint_failed", "uid", uid, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ttl := defaultPushTTL
	if s.cfg.Gateway.DefaultPushTTL != "" {
		if d, err := time.ParseDuration(s.cfg.Gateway.DefaultPushTTL); err == nil {
			ttl = d
		}
	}

	outcome, pushErr := s.pushWithRotation(ctx, uid, json.RawMessage(body), ttl)
	switch {
	case pushErr != nil:
		slog.Error("httpapi.push_failed", "uid", uid, "error", pushErr)
		w.WriteHeader(http.StatusInternalServerError)
	case outcome == push.OutcomeDelivered, outcome == push.OutcomeFCM:
		w.WriteHeader(http.StatusAccepted)
	case outcome == push.OutcomeGone && ep.FCMDeviceID != "" && !s.engine.HasFCM():
		w.WriteHeader(421)
	default:
		w.WriteHeader(http.StatusGone)
	}
}

// pushWithRotation runs the push, and on a shard-unreachable failure
// rotates the endpoint to a freshly chosen shard and retries exactly
// once, per the forward-address migration rule.
func (s *Server) pushWithRotation(ctx context.Context, uid string, message json.RawMessage, ttl time.Duration) (push.Outcome, error) {
	outcome, err := s.engine.Push(ctx, uid, message, ttl)
	if err == nil || !isShardUnreachable(err) {
		return outcome, err
	}

	ep, loadErr := s.reg.LoadEndpoint(ctx, uid)
	if loadErr != nil {
		return outcome, err
	}
	addr, parseErr := streamtransport.ParseAddress(ep.ForwardStreamAddress)
	if parseErr != nil {
		return outcome, err
	}

	newHost, chooseErr := streamtransport.ChooseShard(ctx, s.pool, s.ring.Shards(), addr.Host)
	if chooseErr != nil {
		return outcome, err
	}
	newAddr := streamtransport.Address{Host: newHost, Channel: addr.Channel}
	if rewriteErr := s.reg.RewriteForwardStreamAddress(ctx, uid, newAddr.String()); rewriteErr != nil {
		return outcome, err
	}

	return s.engine.Push(ctx, uid, message, ttl)
}

func isShardUnreachable(err error) bool {
	return errors.Is(err, push.ErrShardUnreachable)
}

func (s *Server) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !allowedPushContentTypes[ct] {
		http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody+1))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if err := s.router.Route(r.Context(), json.RawMessage(body)); err != nil {
		http.Error(w, "no route", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleInvitation(w http.ResponseWriter, r *http.Request) {
	inv := protocol.Invitation{
		Type:            protocol.TypeInvitation,
		ID:              uuid.NewString(),
		Label:           s.cfg.Mediator.Label,
		RecipientKeys:   []string{s.mediator.VerkeyString()},
		ServiceEndpoint: wsServiceEndpoint(s.cfg.Gateway.WebRoot) + "/ws",
		RoutingKeys:     []string{},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(inv)
}

// wsServiceEndpoint rewrites an http(s) base URL to its ws(s) equivalent,
// since the invitation's serviceEndpoint is the socket URL a recipient
// dials, not the HTTP push endpoint.
func wsServiceEndpoint(webRoot string) string {
	switch {
	case strings.HasPrefix(webRoot, "https://"):
		return "wss://" + strings.TrimPrefix(webRoot, "https://")
	case strings.HasPrefix(webRoot, "http://"):
		return "ws://" + strings.TrimPrefix(webRoot, "http://")
	default:
		return webRoot
	}
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleLivenessCheck probes every dependency spec.md §6 requires: the
// database, a cache round-trip, and every configured stream shard.
func (s *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	ok := true

	if err := s.reg.Ping(ctx); err != nil {
		ok = false
		checks["database"] = err.Error()
	} else {
		checks["database"] = "ok"
	}

	probeKey := "liveness-probe"
	s.reg.CacheRoundTrip(probeKey)
	checks["cache"] = "ok"

	for _, shard := range s.cfg.Streams.Shards {
		addr, err := streamtransport.ParseAddress(shard + "/_liveness")
		if err != nil {
			ok = false
			checks[shard] = err.Error()
			continue
		}
		if err := s.pool.Client(addr.Host).Ping(ctx).Err(); err != nil {
			ok = false
			checks[shard] = err.Error()
			continue
		}
		checks[shard] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(checks)
}
