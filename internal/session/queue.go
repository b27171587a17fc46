package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/didmediator/internal/push"
	"github.com/nextlevelbuilder/didmediator/internal/streamtransport"
)

// readBlockTimeout bounds each GroupStream.Read call so the consumer
// loop can observe ctx cancellation promptly instead of blocking
// forever on an idle stream.
const readBlockTimeout = 5 * time.Second

// startQueueMode resolves the endpoint's forward stream and starts one
// GroupStream consumer for it, in a group shared by every session with
// the same group_id. A group_id of "off" disables the consumer.
func (s *Session) startQueueMode(ctx context.Context) error {
	if s.groupID == OffGroupID {
		return nil
	}

	ep, err := s.reg.LoadEndpoint(ctx, s.endpointUID)
	if err != nil {
		return fmt.Errorf("session: queue_mode: load endpoint: %w", err)
	}
	if ep.ForwardStreamAddress == "" {
		return nil
	}
	addr, err := streamtransport.ParseAddress(ep.ForwardStreamAddress)
	if err != nil {
		return fmt.Errorf("session: queue_mode: parse address: %w", err)
	}

	group, consumerCtx := errgroup.WithContext(ctx)
	consumerCtx, cancel := context.WithCancel(consumerCtx)
	s.tasks = group
	s.cancelTasks = cancel

	groupName := fmt.Sprintf("%s/%s", s.endpointUID, s.groupID)
	gs := streamtransport.NewGroupStreamNamed(s.pool, addr.Host, addr.Channel, groupName)
	if err := gs.EnsureGroup(consumerCtx); err != nil {
		cancel()
		return fmt.Errorf("session: queue_mode: ensure group: %w", err)
	}
	s.consumer = gs
	s.consumerName = uuid.NewString()

	group.Go(func() error { return s.runConsumer(consumerCtx, gs) })
	return nil
}

func (s *Session) runConsumer(ctx context.Context, gs *streamtransport.GroupStream) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		entry, ok, err := gs.Read(ctx, s.consumerName, readBlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("session.queue_read_failed", "endpoint", s.endpointUID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		var req push.Request
		if err := json.Unmarshal(entry.Payload, &req); err != nil {
			slog.Warn("session.queue_decode_failed", "endpoint", s.endpointUID, "error", err)
			_ = gs.Ack(ctx, entry.ID)
			continue
		}

		s.deliver(ctx, req.Message)
		s.pushAck(ctx, req, true)
		if err := gs.Ack(ctx, entry.ID); err != nil {
			slog.Warn("session.queue_ack_failed", "endpoint", s.endpointUID, "error", err)
		}
	}
}
