// Package session implements the Session Controller: one instance per
// accepted WebSocket or long-poll stream, dispatching inbound DIDComm
// frames to the mediation-coordination, pickup, and bus sub-protocols
// and multiplexing outbound deliveries back onto the wire.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/didmediator/internal/bus"
	"github.com/nextlevelbuilder/didmediator/internal/cryptobox"
	"github.com/nextlevelbuilder/didmediator/internal/pickup"
	"github.com/nextlevelbuilder/didmediator/internal/push"
	"github.com/nextlevelbuilder/didmediator/internal/registry"
	"github.com/nextlevelbuilder/didmediator/internal/streamtransport"
	"github.com/nextlevelbuilder/didmediator/pkg/protocol"
)

// DefaultGroupID names the consumer group used when a session does not
// request one explicitly. Sessions sharing a group_id compete for the
// same forward-stream entries; distinct group_ids each see every entry.
const DefaultGroupID = "default"

// OffGroupID disables the forward-stream consumer entirely.
const OffGroupID = "off"

// Conn is the minimal wire a Session drives — satisfied by a WebSocket
// connection or a one-way long-poll writer.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	Close() error
}

// Session is one Session Controller instance.
type Session struct {
	conn     Conn
	reg      *registry.Registry
	bus      *bus.Bus
	pool     *streamtransport.Pool
	webRoot  string
	mediator cryptobox.KeyPair

	endpointUID string
	groupID     string
	readOnly    bool // true for WS /ws?endpoint=uid passive sessions

	theirDID    string
	theirVerkey string
	usesQueue   bool

	writeMu sync.Mutex
	subs    *bus.Subscriptions
	queue   *pickup.Queue

	consumer     *streamtransport.GroupStream
	consumerName string

	// tasks supervises the forward-stream consumer goroutine; the inbound
	// read loop in Run is not part of the group. When Run returns,
	// terminate calls cancelTasks and waits for the consumer to unwind
	// before deregistering it.
	tasks       *errgroup.Group
	cancelTasks context.CancelFunc
}

// New builds a Session Controller bound to conn. endpointUID/groupID are
// populated once the handshake (ConnectionRequest) or the /ws?endpoint=
// query parameter establishes them.
func New(conn Conn, reg *registry.Registry, b *bus.Bus, pool *streamtransport.Pool, webRoot string, mediator cryptobox.KeyPair) *Session {
	return &Session{
		conn:     conn,
		reg:      reg,
		bus:      b,
		pool:     pool,
		webRoot:  webRoot,
		mediator: mediator,
		subs:     bus.NewSubscriptions(),
		queue:    pickup.New(0),
		groupID:  DefaultGroupID,
	}
}

// BindPassive configures a passive inbound-only session for
// WS /ws?endpoint={uid} — it skips the handshake and starts the
// forward-stream consumer immediately.
func (s *Session) BindPassive(ctx context.Context, endpointUID, groupID string) error {
	s.endpointUID = endpointUID
	s.readOnly = true
	if groupID != "" {
		s.groupID = groupID
	}
	return s.startQueueMode(ctx)
}

// Run drives the inbound loop until the connection closes or ctx is
// cancelled. Always terminates cleanly: the forward-stream consumer is
// deregistered and every bus subscription is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer s.terminate(ctx)

	if s.readOnly {
		// Passive sessions ignore inbound frames; reading only detects the close.
		for {
			if _, err := s.conn.ReadMessage(); err != nil {
				return err
			}
		}
	}

	for {
		raw, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleFrame(ctx, raw)
	}
}

func (s *Session) terminate(ctx context.Context) {
	s.subs.CancelAll()
	if s.cancelTasks != nil {
		s.cancelTasks()
	}
	if s.tasks != nil {
		if err := s.tasks.Wait(); err != nil && ctx.Err() == nil {
			slog.Debug("session.consumer_task_ended", "endpoint", s.endpointUID, "error", err)
		}
	}
	if s.consumer != nil && s.consumerName != "" {
		if err := s.consumer.DeleteConsumer(context.Background(), s.consumerName); err != nil {
			slog.Warn("session.consumer_deregister_failed", "endpoint", s.endpointUID, "error", err)
		}
	}
}

// handleFrame decrypts and dispatches one inbound wire frame, writing
// exactly the replies the protocol demands. Any decode or dispatch
// failure becomes a ProblemReport rather than closing the connection.
func (s *Session) handleFrame(ctx context.Context, raw []byte) {
	plain, err := s.unpack(raw)
	if err != nil {
		s.writeProblem(protocol.ProblemCodeInvalidRequest, err.Error(), "")
		return
	}

	decoded, err := protocol.Decode(plain)
	if err != nil {
		s.writeProblem(protocol.ProblemCodeUnhandled, err.Error(), "")
		return
	}

	if err := s.dispatch(ctx, decoded, plain); err != nil {
		s.writeProblem(protocol.ProblemCodeUnhandled, err.Error(), thidOf(plain))
	}
}

// thidOf extracts ~thread.thid from a raw frame for problem-report
// correlation, independent of which concrete type it decoded to.
func thidOf(raw []byte) string {
	var head struct {
		Thread *protocol.Thread `json:"~thread"`
	}
	if json.Unmarshal(raw, &head) != nil || head.Thread == nil {
		return ""
	}
	return head.Thread.Thid
}

// unpack decrypts raw through the mediator's key when it is addressed
// there; frames sent in cleartext (rare, local testing) pass through
// unchanged.
func (s *Session) unpack(raw []byte) ([]byte, error) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Protected == "" {
		return raw, nil
	}
	plain, kid, err := cryptobox.Unpack(env, s.mediator)
	if err != nil {
		return nil, fmt.Errorf("session: unpack: %w", err)
	}
	_ = kid
	return plain, nil
}

func (s *Session) dispatch(ctx context.Context, decoded protocol.Decoded, rawPlain []byte) error {
	switch v := decoded.Value.(type) {
	case *protocol.Ping:
		if v.ResponseRequested {
			s.writeReply(&protocol.Pong{Header: protocol.Header{ID: uuid.NewString(), Thread: threadFor(v.Header)}})
		}
		return nil

	case *json.RawMessage:
		if decoded.Type == protocol.TypeConnectionReq {
			return s.handleConnectionRequest(ctx, *v)
		}
		return fmt.Errorf("session: unhandled raw frame %s", decoded.Type)

	case *protocol.MediateRequest:
		return s.handleMediateRequest(ctx, v)

	case *protocol.KeylistUpdate:
		return s.handleKeylistUpdate(ctx, v)

	case *protocol.KeylistQuery:
		return s.handleKeylistQuery(ctx, v)

	case *protocol.BusSubscribe:
		return s.handleBusSubscribe(ctx, v)

	case *protocol.BusUnsubscribe:
		return s.handleBusUnsubscribe(v)

	case *protocol.BusPublish:
		return s.handleBusPublish(ctx, v)

	case *protocol.StatusRequest, *protocol.BatchPickupRequest, *protocol.ListRequest, *protocol.Noop:
		return s.handlePickup(ctx, decoded)

	default:
		return fmt.Errorf("session: unhandled message type %s", decoded.Type)
	}
}

func threadFor(h protocol.Header) *protocol.Thread {
	if h.Thread != nil && h.Thread.Thid != "" {
		return &protocol.Thread{Thid: h.Thread.Thid}
	}
	if h.ID != "" {
		return &protocol.Thread{Thid: h.ID}
	}
	return nil
}

// writeReply marshals v and writes it to the wire under the write mutex
// — the single serialization point shared with queue-mode deliveries
// and bus events.
func (s *Session) writeReply(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("session.marshal_reply_failed", "error", err)
		return
	}
	s.write(b)
}

func (s *Session) write(payload []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(payload); err != nil {
		slog.Warn("session.write_failed", "endpoint", s.endpointUID, "error", err)
	}
}

func (s *Session) writeProblem(code int, explain, thid string) {
	pr := protocol.ProblemReport{
		Header:  protocol.Header{ID: uuid.NewString()},
		Code:    code,
		Explain: explain,
	}
	if thid != "" {
		pr.Thread = &protocol.Thread{Thid: thid}
	}
	s.writeReply(&pr)
}

// deliver hands a queue-mode or bus-mode payload to the recipient: into
// the Pickup queue when the recipient negotiated queue-transport at
// handshake time, or straight to the wire otherwise. Gated on usesQueue
// (set once, at handshake) rather than usesPickup (set only after the
// first Pickup-protocol message arrives) — queue-mode recipients must
// have every delivery queued from the start, not just deliveries that
// happen to land after their first Status/Batch/List/Noop request.
func (s *Session) deliver(ctx context.Context, payload []byte) {
	if s.usesQueue {
		if _, err := s.queue.Put(ctx, payload, ""); err != nil {
			slog.Warn("session.pickup_put_failed", "endpoint", s.endpointUID, "error", err)
		}
		return
	}
	s.write(payload)
}

// pushAck acknowledges a queue-mode delivery to the reverse channel the
// Push Engine is blocked on.
func (s *Session) pushAck(ctx context.Context, req push.Request, status bool) {
	fc := streamtransport.NewFanoutChannelAt(s.pool, s.consumer.Host(), req.ReverseChannel)
	ack := push.Ack{ID: req.ID, Status: status}
	b, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if _, err := fc.Publish(ctx, b); err != nil {
		slog.Warn("session.push_ack_failed", "endpoint", s.endpointUID, "error", err)
	}
}
