package session

import (
	"context"

	"github.com/nextlevelbuilder/didmediator/pkg/protocol"
)

func (s *Session) handlePickup(ctx context.Context, decoded protocol.Decoded) error {
	var thid, returnRoute string
	switch v := decoded.Value.(type) {
	case *protocol.StatusRequest:
		thid, returnRoute = threadID(v.Header), v.Header.ReturnRoute
	case *protocol.BatchPickupRequest:
		thid, returnRoute = threadID(v.Header), v.Header.ReturnRoute
	case *protocol.ListRequest:
		thid, returnRoute = threadID(v.Header), v.Header.ReturnRoute
	case *protocol.Noop:
		thid, returnRoute = threadID(v.Header), v.Header.ReturnRoute
	}

	reply, err := s.queue.Process(ctx, decoded, thid, returnRoute)
	if err != nil {
		return err
	}
	s.writeReply(reply)
	return nil
}

func threadID(h protocol.Header) string {
	if h.Thread != nil {
		return h.Thread.Thid
	}
	return h.ID
}
