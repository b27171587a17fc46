package protocol

import (
	"encoding/json"
	"fmt"
)

// Decoded is a session-controller inbound message after tag dispatch: the
// concrete Go type behind Value matches the @type string that produced it
// (e.g. *MediateRequest, *BusPublish, *BatchPickupRequest).
type Decoded struct {
	Type  string
	Value interface{}
}

type decoderFunc func(raw json.RawMessage) (interface{}, error)

// registry maps a wire @type string to its decoder. New protocol additions
// register here instead of growing a type switch at every call site.
var registry = map[string]decoderFunc{
	TypePing:           decodeInto(func() interface{} { return &Ping{} }),
	TypePong:           decodeInto(func() interface{} { return &Pong{} }),
	TypeConnectionReq:  decodeInto(func() interface{} { return &json.RawMessage{} }), // consumed by the coordination handler, not parsed here
	TypeMediateRequest: decodeInto(func() interface{} { return &MediateRequest{} }),
	TypeKeylistUpdate:  decodeInto(func() interface{} { return &KeylistUpdate{} }),
	TypeKeylistQuery:   decodeInto(func() interface{} { return &KeylistQuery{} }),

	TypeStatusRequest: decodeInto(func() interface{} { return &StatusRequest{} }),
	TypeBatchPickup:   decodeInto(func() interface{} { return &BatchPickupRequest{} }),
	TypeListRequest:   decodeInto(func() interface{} { return &ListRequest{} }),
	TypeNoop:          decodeInto(func() interface{} { return &Noop{} }),

	TypeBusSubscribe:   decodeInto(func() interface{} { return &BusSubscribe{} }),
	TypeBusUnsubscribe: decodeInto(func() interface{} { return &BusUnsubscribe{} }),
	TypeBusPublish:     decodeInto(func() interface{} { return &BusPublish{} }),
}

func decodeInto(zero func() interface{}) decoderFunc {
	return func(raw json.RawMessage) (interface{}, error) {
		v := zero()
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Register adds or overrides the decoder for a wire @type. Exported so a
// deployment can extend the dispatch table without forking this package.
func Register(msgType string, zero func() interface{}) {
	registry[msgType] = decodeInto(zero)
}

// Decode reads the @type discriminator out of raw and dispatches to the
// registered decoder. ErrUnknownType signals a frame this mediator build
// does not understand — the caller turns that into a BasicMessageProblemReport.
func Decode(raw json.RawMessage) (Decoded, error) {
	var head struct {
		Type string `json:"@type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Decoded{}, fmt.Errorf("protocol: decode header: %w", err)
	}

	dec, ok := registry[head.Type]
	if !ok {
		return Decoded{}, fmt.Errorf("%w: %s", ErrUnknownType, head.Type)
	}

	v, err := dec(raw)
	if err != nil {
		return Decoded{}, fmt.Errorf("protocol: decode %s: %w", head.Type, err)
	}
	return Decoded{Type: head.Type, Value: v}, nil
}

// ErrUnknownType is returned by Decode when no decoder is registered for
// the frame's @type.
var ErrUnknownType = fmt.Errorf("protocol: unknown message type")
