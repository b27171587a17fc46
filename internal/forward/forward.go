// Package forward implements the Forward Router: decrypting onion-routed
// DIDComm envelopes addressed to the mediator and re-routing their inner
// payload to the endpoint that owns the named routing key.
package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/didmediator/internal/cryptobox"
	"github.com/nextlevelbuilder/didmediator/internal/registry"
	"github.com/nextlevelbuilder/didmediator/internal/telemetry"
	"github.com/nextlevelbuilder/didmediator/pkg/protocol"
)

// ErrNoRoute is returned when neither the mediator's own key nor any
// registered routing key appears among the envelope's recipients.
var ErrNoRoute = errors.New("forward: no matching route")

// Router resolves and re-delivers forward-routed envelopes.
type Router struct {
	reg      *registry.Registry
	mediator cryptobox.KeyPair
	deliver  func(ctx context.Context, endpointUID string, message json.RawMessage) error
}

// NewRouter builds a Router. deliver is called with the endpoint uid
// that should receive message — normally the Push Engine's Push.
func NewRouter(reg *registry.Registry, mediator cryptobox.KeyPair, deliver func(ctx context.Context, endpointUID string, message json.RawMessage) error) *Router {
	return &Router{reg: reg, mediator: mediator, deliver: deliver}
}

// Route inspects raw's recipients and re-delivers its payload. raw is
// either a protocol.Envelope (JSON) addressed to the mediator or to one
// of its registered routing keys.
func (r *Router) Route(ctx context.Context, raw json.RawMessage) error {
	ctx, span := telemetry.Tracer.Start(ctx, "forward.Router.Route")
	defer span.End()

	if err := r.route(ctx, raw); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (r *Router) route(ctx context.Context, raw json.RawMessage) error {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("forward: decode envelope: %w", err)
	}

	kids, err := cryptobox.RecipientKids(env)
	if err != nil {
		return fmt.Errorf("forward: recipient kids: %w", err)
	}

	mediatorKid := r.mediator.VerkeyString()
	for _, kid := range kids {
		if kid != mediatorKid {
			continue
		}
		return r.routeViaMediatorKey(ctx, env)
	}

	for _, kid := range kids {
		ep, err := r.reg.LoadEndpointByRoutingKey(ctx, kid)
		if err == registry.ErrNotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("forward: load_endpoint_by_routing_key: %w", err)
		}
		return r.deliver(ctx, ep.UID, raw)
	}

	return ErrNoRoute
}

func (r *Router) routeViaMediatorKey(ctx context.Context, env protocol.Envelope) error {
	plain, _, err := cryptobox.Unpack(env, r.mediator)
	if err != nil {
		return fmt.Errorf("forward: unpack: %w", err)
	}

	var fwd protocol.ForwardMessage
	if err := json.Unmarshal(plain, &fwd); err != nil {
		return fmt.Errorf("forward: decode forward message: %w", err)
	}
	if fwd.Type != protocol.TypeForward {
		return fmt.Errorf("forward: inner message is not a forward: %s", fwd.Type)
	}

	ep, err := r.reg.LoadEndpointByRoutingKey(ctx, fwd.To)
	if err != nil {
		return fmt.Errorf("forward: load_endpoint_by_routing_key: %w", err)
	}

	return r.deliver(ctx, ep.UID, fwd.Msg)
}

// ForwardWired builds the nested onion a client uses to reach an
// endpoint through zero or more routing keys. payload is used verbatim
// as the content of the innermost layer — callers that need it
// encrypted for theirVerkey pack it themselves before calling;
// ForwardWired's only job is to add one onion-routing layer per
// routing key, each packed to that key's owner in turn, for exactly
// len(routingKeys) pack operations. With no routing keys there is
// nothing to wrap, so payload is packed directly to theirVerkey
// instead.
func ForwardWired(payload []byte, theirVerkey string, routingKeys []string) ([]byte, error) {
	if len(routingKeys) == 0 {
		env, err := cryptobox.Pack(payload, []string{theirVerkey}, nil)
		if err != nil {
			return nil, fmt.Errorf("forward: pack innermost: %w", err)
		}
		return json.Marshal(env)
	}

	inner := payload
	to := theirVerkey
	for _, routingKey := range routingKeys {
		fwd := protocol.ForwardMessage{ID: uuid.NewString(), Type: protocol.TypeForward, To: to, Msg: inner}
		fwdJSON, err := json.Marshal(fwd)
		if err != nil {
			return nil, fmt.Errorf("forward: marshal forward: %w", err)
		}

		env, err := cryptobox.Pack(fwdJSON, []string{routingKey}, nil)
		if err != nil {
			return nil, fmt.Errorf("forward: pack layer to %s: %w", routingKey, err)
		}
		envJSON, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("forward: marshal envelope: %w", err)
		}

		inner = envJSON
		to = routingKey
	}

	return inner, nil
}
