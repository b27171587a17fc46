// Package push implements the Push Engine: a request/ack protocol that
// places a message on an endpoint's forward stream and blocks for an ack
// on a reverse channel, falling back to FCM when nothing acks in time.
package push

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/didmediator/internal/fcm"
	"github.com/nextlevelbuilder/didmediator/internal/registry"
	"github.com/nextlevelbuilder/didmediator/internal/streamtransport"
	"github.com/nextlevelbuilder/didmediator/internal/telemetry"
)

// ErrShardUnreachable is returned when the endpoint's forward shard
// cannot be reached. The caller is expected to rotate the endpoint to a
// new shard (via streamtransport.ChooseShard) and retry once.
var ErrShardUnreachable = errors.New("push: shard unreachable")

// ErrUnknownEndpoint is returned when the endpoint uid is not registered.
var ErrUnknownEndpoint = errors.New("push: unknown endpoint")

// Outcome describes how (or whether) a push was ultimately delivered.
type Outcome int

const (
	// OutcomeDelivered means a live session acknowledged the push.
	OutcomeDelivered Outcome = iota
	// OutcomeFCM means no session acked in time but an FCM notification
	// was sent successfully.
	OutcomeFCM
	// OutcomeGone means neither a session ack nor an FCM fallback
	// succeeded.
	OutcomeGone
)

// Request is the envelope placed on an endpoint's forward stream.
type Request struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	ReverseChannel string          `json:"reverse_channel"`
	ExpireAtUTC    int64           `json:"expire_at_utc"`
	Message        json.RawMessage `json:"message"`
}

// RequestType is the only value Request.Type currently takes.
const RequestType = "push"

// Ack is published by the Session Controller on a push request's
// reverse channel after handing the message to the wire (or to pickup).
type Ack struct {
	ID     string `json:"id"`
	Status bool   `json:"status"`
}

// Engine is the Push Engine. fcmClient may be nil when FCM is
// unconfigured.
type Engine struct {
	pool       *streamtransport.Pool
	reg        *registry.Registry
	fcmClient  *fcm.Client
	defaultTTL time.Duration
}

// NewEngine builds a Push Engine.
func NewEngine(pool *streamtransport.Pool, reg *registry.Registry, fcmClient *fcm.Client, defaultTTL time.Duration) *Engine {
	return &Engine{pool: pool, reg: reg, fcmClient: fcmClient, defaultTTL: defaultTTL}
}

// HasFCM reports whether a Firebase client is configured — the HTTP
// layer uses this to distinguish "gone" from "would need FCM but none
// is configured" (HTTP 421).
func (e *Engine) HasFCM() bool { return e.fcmClient != nil }

// Registry exposes the registry handle the engine was built with.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Push delivers message to endpointUID, blocking up to ttl (or the
// engine default when ttl <= 0) for an ack.
func (e *Engine) Push(ctx context.Context, endpointUID string, message json.RawMessage, ttl time.Duration) (Outcome, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "push.Engine.Push", trace.WithAttributes(
		attribute.String("push.endpoint_uid", endpointUID),
	))
	defer span.End()

	outcome, err := e.push(ctx, endpointUID, message, ttl)
	span.SetAttributes(attribute.Int("push.outcome", int(outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (e *Engine) push(ctx context.Context, endpointUID string, message json.RawMessage, ttl time.Duration) (Outcome, error) {
	if ttl <= 0 {
		ttl = e.defaultTTL
	}

	ep, err := e.reg.LoadEndpoint(ctx, endpointUID)
	if err == registry.ErrNotFound {
		return OutcomeGone, ErrUnknownEndpoint
	}
	if err != nil {
		return OutcomeGone, fmt.Errorf("push: load endpoint: %w", err)
	}
	if ep.ForwardStreamAddress == "" {
		return OutcomeGone, fmt.Errorf("push: endpoint %s has no forward address", endpointUID)
	}

	addr, err := streamtransport.ParseAddress(ep.ForwardStreamAddress)
	if err != nil {
		return OutcomeGone, fmt.Errorf("push: parse forward address: %w", err)
	}

	requestID := uuid.NewString()
	reverseChannel := reverseChannelName(addr.Channel, requestID)
	reverse := streamtransport.NewFanoutChannelAt(e.pool, addr.Host, reverseChannel)

	// Subscribe before publishing — an immediate ack must never race the
	// subscription's own setup.
	listener, err := reverse.Listen(ctx)
	if err != nil {
		e.reg.EvictEndpointCache(ctx, endpointUID)
		return OutcomeGone, fmt.Errorf("%w: %v", ErrShardUnreachable, err)
	}
	defer listener.Close()

	req := Request{
		ID:             requestID,
		Type:           RequestType,
		ReverseChannel: reverseChannel,
		ExpireAtUTC:    time.Now().Add(ttl).Unix(),
		Message:        message,
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return OutcomeGone, fmt.Errorf("push: marshal request: %w", err)
	}

	gs, err := streamtransport.NewGroupStreamAt(ctx, e.pool, addr.Host, addr.Channel)
	if err != nil {
		e.reg.EvictEndpointCache(ctx, endpointUID)
		return OutcomeGone, fmt.Errorf("%w: %v", ErrShardUnreachable, err)
	}
	if _, err := gs.Append(ctx, reqJSON); err != nil {
		e.reg.EvictEndpointCache(ctx, endpointUID)
		return OutcomeGone, fmt.Errorf("%w: %v", ErrShardUnreachable, err)
	}

	deadline, cancel := context.WithDeadline(ctx, time.Now().Add(ttl))
	defer cancel()

	for {
		payload, ok, err := listener.Next(deadline)
		if err != nil || !ok {
			// ReadTimeout (or context cancellation): treated as "no active
			// recipient" — fall through to FCM.
			return e.fallbackToFCM(ctx, ep, message)
		}
		var ack Ack
		if err := json.Unmarshal(payload, &ack); err != nil {
			continue
		}
		if ack.ID != requestID {
			// Mismatched id: log it and keep waiting.
			slog.Warn("push.ack_id_mismatch", "endpoint", endpointUID, "expected", requestID, "got", ack.ID)
			continue
		}
		if ack.Status {
			return OutcomeDelivered, nil
		}
		return e.fallbackToFCM(ctx, ep, message)
	}
}

func (e *Engine) fallbackToFCM(ctx context.Context, ep registry.Endpoint, message json.RawMessage) (Outcome, error) {
	if ep.FCMDeviceID == "" || e.fcmClient == nil {
		return OutcomeGone, nil
	}
	if _, err := e.fcmClient.Notify(ctx, ep.FCMDeviceID, message); err != nil {
		return OutcomeGone, nil
	}
	return OutcomeFCM, nil
}

// reverseChannelName derives a deterministic, per-request reverse
// channel name living on the forward address's own shard.
func reverseChannelName(forwardChannel, requestID string) string {
	sum := sha256.Sum256([]byte(forwardChannel + "/" + requestID))
	return "reverse/" + hex.EncodeToString(sum[:16])
}
