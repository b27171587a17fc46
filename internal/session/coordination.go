package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/didmediator/pkg/protocol"
)

// QueueTransportTag is the DIDComm service type a recipient's DIDDoc
// advertises to opt into queue-mode (store-and-forward) delivery.
const QueueTransportTag = "didcomm:transport/queue"

// connectionRequestPayload is the already-normalized shape the
// upstream handshake component hands the core once it has run the
// inviter state machine — this package only consumes the outcome, it
// does not speak the connections protocol itself.
type connectionRequestPayload struct {
	DID         string   `json:"did"`
	Verkey      string   `json:"verkey"`
	FCMDeviceID string   `json:"fcm_device_id,omitempty"`
	Transports  []string `json:"transports,omitempty"`
}

func (s *Session) handleConnectionRequest(ctx context.Context, raw json.RawMessage) error {
	var payload connectionRequestPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("session: connection_request: %w", err)
	}
	if payload.DID == "" || payload.Verkey == "" {
		return fmt.Errorf("session: connection_request: missing did/verkey")
	}

	agent, err := s.reg.EnsureAgent(ctx, payload.DID, payload.Verkey, nil, payload.FCMDeviceID)
	if err != nil {
		return fmt.Errorf("session: ensure_agent: %w", err)
	}

	uid := s.endpointUID
	if uid == "" {
		uid = uuid.NewString()
	}
	ep, err := s.reg.EnsureEndpoint(ctx, uid, "", agent.ID, payload.Verkey, payload.FCMDeviceID)
	if err != nil {
		return fmt.Errorf("session: ensure_endpoint: %w", err)
	}

	s.endpointUID = ep.UID
	s.theirDID = payload.DID
	s.theirVerkey = payload.Verkey

	if hasTag(payload.Transports, QueueTransportTag) {
		s.usesQueue = true
		return s.startQueueMode(ctx)
	}
	return nil
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func (s *Session) handleMediateRequest(ctx context.Context, req *protocol.MediateRequest) error {
	keys, err := s.reg.ListRoutingKeys(ctx, s.endpointUID)
	if err != nil {
		return fmt.Errorf("session: list_routing_keys: %w", err)
	}

	grant := &protocol.MediateGrant{
		Header:      protocol.Header{ID: uuid.NewString(), Thread: threadFor(req.Header)},
		Endpoint:    s.webRoot + "/e/" + s.endpointUID,
		RoutingKeys: keys,
	}
	if len(keys) > 0 {
		// Forward-mode grant: callers onion-wrap through the routing chain
		// and the mediator's own verkey is the outermost (last) routing key.
		grant.Endpoint = s.webRoot + "/endpoint"
		grant.RoutingKeys = append(append([]string(nil), keys...), s.mediator.VerkeyString())
	}
	s.writeReply(grant)
	return nil
}

func (s *Session) handleKeylistUpdate(ctx context.Context, req *protocol.KeylistUpdate) error {
	results := make([]protocol.KeylistUpdateResponseItem, 0, len(req.Updates))
	for _, item := range req.Updates {
		result := protocol.KeylistResultSuccess
		switch item.Action {
		case protocol.KeylistActionAdd:
			if err := s.reg.AddRoutingKey(ctx, s.endpointUID, item.RecipientKey); err != nil {
				return fmt.Errorf("session: add_routing_key: %w", err)
			}
		case protocol.KeylistActionRemove:
			if err := s.reg.RemoveRoutingKey(ctx, s.endpointUID, item.RecipientKey); err != nil {
				return fmt.Errorf("session: remove_routing_key: %w", err)
			}
		default:
			result = protocol.KeylistResultNoChange
		}
		results = append(results, protocol.KeylistUpdateResponseItem{
			RecipientKey: item.RecipientKey,
			Action:       item.Action,
			Result:       result,
		})
	}

	s.writeReply(&protocol.KeylistUpdateResponse{
		Header:  protocol.Header{ID: uuid.NewString(), Thread: threadFor(req.Header)},
		Updated: results,
	})
	return nil
}

func (s *Session) handleKeylistQuery(ctx context.Context, req *protocol.KeylistQuery) error {
	keys, err := s.reg.ListRoutingKeys(ctx, s.endpointUID)
	if err != nil {
		return fmt.Errorf("session: list_routing_keys: %w", err)
	}

	offset, limit := 0, len(keys)
	if req.Paginate != nil {
		offset = req.Paginate.Offset
		if req.Paginate.Limit > 0 {
			limit = req.Paginate.Limit
		}
	}
	page := paginate(keys, offset, limit)

	entries := make([]protocol.KeylistEntry, 0, len(page))
	for _, k := range page {
		entries = append(entries, protocol.KeylistEntry{RecipientKey: "did:key:" + k})
	}

	s.writeReply(&protocol.Keylist{
		Header:   protocol.Header{ID: uuid.NewString(), Thread: threadFor(req.Header)},
		Keys:     entries,
		Paginate: req.Paginate,
	})
	return nil
}

func paginate(items []string, offset, limit int) []string {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) || limit <= 0 {
		end = len(items)
	}
	return items[offset:end]
}
