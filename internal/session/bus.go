package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/didmediator/internal/bus"
	"github.com/nextlevelbuilder/didmediator/internal/cryptobox"
	"github.com/nextlevelbuilder/didmediator/pkg/protocol"
)

func (s *Session) handleBusSubscribe(ctx context.Context, req *protocol.BusSubscribe) error {
	sub, err := s.bus.Subscribe(ctx, s.subs, s.theirDID, req.Cast, req.ParentThreadID, s.onBusEvent)
	if err != nil {
		if err == bus.ErrInvalidCast {
			s.writeProblem(protocol.ProblemCodeInvalidCast, err.Error(), req.Header.ID)
			return nil
		}
		return err
	}

	s.writeReply(&protocol.BusBindResponse{
		Header:         protocol.Header{ID: uuid.NewString(), Thread: threadFor(req.Header)},
		BindingID:      sub.BindingID,
		Active:         true,
		ParentThreadID: sub.ParentThreadID,
	})
	return nil
}

func (s *Session) handleBusUnsubscribe(req *protocol.BusUnsubscribe) error {
	cancelled := s.subs.Unsubscribe(req.BindingID, req.ParentThreadID, req.All)
	if !req.NeedAnswer && !req.Aborted {
		return nil
	}
	for _, sub := range cancelled {
		s.writeReply(&protocol.BusBindResponse{
			Header:         protocol.Header{ID: uuid.NewString(), Thread: threadFor(req.Header)},
			BindingID:      sub.BindingID,
			Active:         false,
			ParentThreadID: sub.ParentThreadID,
			Aborted:        req.Aborted,
		})
	}
	return nil
}

func (s *Session) handleBusPublish(ctx context.Context, req *protocol.BusPublish) error {
	if len(req.Payload) == 0 {
		s.writeProblem(protocol.ProblemCodeInvalidRequest, "empty payload", req.Header.ID)
		return nil
	}

	n, err := s.bus.Publish(ctx, s.theirDID, req.BindingIDs, req.Payload)
	if err != nil {
		return fmt.Errorf("session: bus_publish: %w", err)
	}

	s.writeReply(&protocol.BusPublishResponse{
		Header:        protocol.Header{ID: uuid.NewString(), Thread: threadFor(req.Header)},
		RecipientsNum: n,
	})
	return nil
}

// onBusEvent is invoked off the bus listener goroutine for every message
// received on a subscribed topic. Packed for the peer when a pairwise
// key is known, otherwise delivered as cleartext JSON.
func (s *Session) onBusEvent(evt protocol.BusEvent) {
	evt.Header = protocol.Header{ID: uuid.NewString()}
	evt.Header.Type = protocol.TypeBusEvent

	raw, err := json.Marshal(evt)
	if err != nil {
		return
	}

	if s.theirVerkey != "" {
		env, err := cryptobox.Pack(raw, []string{s.theirVerkey}, &s.mediator)
		if err == nil {
			if packed, err := json.Marshal(env); err == nil {
				s.deliver(context.Background(), packed)
				return
			}
		}
	}

	s.deliver(context.Background(), raw)
}
