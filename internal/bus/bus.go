// Package bus implements the Protocol Bus: topic-hashed publish/subscribe
// scoped to a session's pairwise DID, the substrate co-protocols ride on
// top of. A bus topic is {their_did}/{binding_id}; binding_id is either
// the hash of a cast descriptor or an explicit thread id.
package bus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/didmediator/internal/streamtransport"
	"github.com/nextlevelbuilder/didmediator/pkg/protocol"
)

// ErrInvalidCast is returned when a cast descriptor names keys but no
// protocols.
var ErrInvalidCast = errors.New("bus: invalid_cast")

// Bus publishes and subscribes over FanoutChannel topics derived from a
// pairwise DID and a binding id.
type Bus struct {
	pool *streamtransport.Pool
	ring *streamtransport.Ring
}

// New builds a Bus over the shared stream transport pool and ring.
func New(pool *streamtransport.Pool, ring *streamtransport.Ring) *Bus {
	return &Bus{pool: pool, ring: ring}
}

// BindingID computes the binding id for a cast descriptor. An explicit
// thid takes precedence and is returned verbatim; otherwise the
// descriptor is canonicalized and hashed. A descriptor naming keys but
// no protocols is rejected.
func BindingID(cast *protocol.CastDescriptor) (string, error) {
	if cast == nil {
		return "", fmt.Errorf("bus: binding_id: %w: empty cast", ErrInvalidCast)
	}
	if strings.TrimSpace(cast.Thid) != "" {
		return cast.Thid, nil
	}
	if (cast.RecipientVK != "" || cast.SenderVK != "") && len(cast.Protocols) == 0 {
		return "", ErrInvalidCast
	}

	protocols := append([]string(nil), cast.Protocols...)
	sort.Strings(protocols)
	canon := struct {
		RecipientVK string   `json:"recipient_vk"`
		SenderVK    string   `json:"sender_vk"`
		Protocols   []string `json:"protocols"`
	}{cast.RecipientVK, cast.SenderVK, protocols}

	raw, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("bus: binding_id marshal: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Topic returns the fanout channel name for theirDID/bindingID.
func Topic(theirDID, bindingID string) string {
	return theirDID + "/" + bindingID
}

// Publish fans payload out on every topic named by bindingIDs, scoped to
// theirDID, and returns the total number of subscribers reached.
func (b *Bus) Publish(ctx context.Context, theirDID string, bindingIDs []string, payload []byte) (int, error) {
	if len(payload) == 0 {
		return 0, fmt.Errorf("bus: publish: empty payload")
	}

	total := 0
	for _, bindingID := range bindingIDs {
		fc, err := streamtransport.NewFanoutChannel(b.pool, b.ring, Topic(theirDID, bindingID))
		if err != nil {
			return total, err
		}
		n, err := fc.Publish(ctx, payload)
		if err != nil {
			return total, fmt.Errorf("bus: publish on %s: %w", bindingID, err)
		}
		total += int(n)
	}
	return total, nil
}
