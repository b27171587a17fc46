package pickup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/didmediator/pkg/protocol"
)

// ErrInvalidRequest is returned by Process for any wire value it does not
// recognize as a pickup operation.
var ErrInvalidRequest = fmt.Errorf("pickup: invalid_request")

// Process dispatches a decoded pickup wire message against q, returning
// the reply to send back. requestThid/returnRoute drive the
// ~thread.thid echo rule: a reply copies the request's thid only when
// the request asked for a threaded return route.
func (q *Queue) Process(ctx context.Context, decoded protocol.Decoded, requestThid, returnRoute string) (interface{}, error) {
	var reply interface{}

	switch v := decoded.Value.(type) {
	case *protocol.StatusRequest:
		status := q.Status()
		status.Header = replyHeader(requestThid, returnRoute)
		reply = &status

	case *protocol.BatchPickupRequest:
		timeout, err := parseDelay(v.DelayTimeout)
		if err != nil {
			return nil, err
		}
		items, err := q.Batch(ctx, v.BatchSize, timeout)
		if err != nil {
			return nil, err
		}
		batch := protocol.Batch{Header: replyHeader(requestThid, returnRoute), Messages: toBatched(items)}
		reply = &batch

	case *protocol.ListRequest:
		items := q.List(v.MessageIDs)
		batch := protocol.Batch{Header: replyHeader(requestThid, returnRoute), Messages: toBatched(items)}
		reply = &batch

	case *protocol.Noop:
		timeout, err := parseDelay(v.DelayTimeout)
		if err != nil {
			return nil, err
		}
		items, err := q.Batch(ctx, 1, timeout)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			code := protocol.ProblemCodeEmptyQueue
			if timeout > 0 {
				code = protocol.ProblemCodeTimeoutOccurred
			}
			reply = &protocol.ProblemReport{
				Header:  replyHeader(requestThid, returnRoute),
				Code:    code,
				Explain: "no message available",
			}
			break
		}
		batch := protocol.Batch{Header: replyHeader(requestThid, returnRoute), Messages: toBatched(items)}
		reply = &batch

	default:
		return nil, ErrInvalidRequest
	}

	return reply, nil
}

func replyHeader(requestThid, returnRoute string) protocol.Header {
	h := protocol.Header{ID: uuid.NewString()}
	if returnRoute == protocol.ReturnRouteThread && requestThid != "" {
		h.Thread = &protocol.Thread{Thid: requestThid}
	}
	return h
}

func toBatched(items []Item) []protocol.BatchedMessage {
	out := make([]protocol.BatchedMessage, 0, len(items))
	for _, it := range items {
		out = append(out, protocol.BatchedMessage{ID: it.ID, Message: it.Message})
	}
	return out
}

func parseDelay(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("pickup: parse delay_timeout: %w", err)
	}
	return d, nil
}
