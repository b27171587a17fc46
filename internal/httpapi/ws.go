package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	gorillaws "github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/didmediator/internal/push"
	"github.com/nextlevelbuilder/didmediator/internal/session"
	"github.com/nextlevelbuilder/didmediator/internal/streamtransport"
)

// wsConn adapts a *gorillaws.Conn to session.Conn.
type wsConn struct {
	c *gorillaws.Conn
}

func (w wsConn) ReadMessage() ([]byte, error) {
	_, payload, err := w.c.ReadMessage()
	return payload, err
}

func (w wsConn) WriteMessage(payload []byte) error {
	return w.c.WriteMessage(gorillaws.TextMessage, payload)
}

func (w wsConn) Close() error { return w.c.Close() }

// handleWS upgrades to a WebSocket Session Controller. When ?endpoint=
// is present the session is a passive inbound-only consumer rather
// than a full handshake-capable controller.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("httpapi.ws_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	sess := session.New(wsConn{conn}, s.reg, s.bus, s.pool, s.cfg.Gateway.WebRoot, s.mediator)

	endpointUID := r.URL.Query().Get("endpoint")
	if endpointUID != "" {
		groupID := r.URL.Query().Get("group_id")
		if err := sess.BindPassive(r.Context(), endpointUID, groupID); err != nil {
			slog.Error("httpapi.ws_bind_passive_failed", "endpoint", endpointUID, "error", err)
			return
		}
	}

	if err := sess.Run(r.Context()); err != nil {
		slog.Debug("httpapi.ws_session_ended", "error", err)
	}
}

// handleWSEvents relays a named control-plane fanout channel to the
// admin UI. Uses coder/websocket rather than gorilla/websocket since
// this is a one-way, low-traffic relay with no need for gorilla's
// permessage-deflate/ping-pong machinery — a plain Accept/Write loop
// suffices.
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Gateway.AdminToken != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.Gateway.AdminToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	stream := r.URL.Query().Get("stream")
	if stream == "" {
		http.Error(w, "missing stream", http.StatusBadRequest)
		return
	}
	addr, err := streamtransport.ParseAddress(stream)
	if err != nil {
		http.Error(w, "bad stream address", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("httpapi.ws_events_upgrade_failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	fc := streamtransport.NewFanoutChannelAt(s.pool, addr.Host, addr.Channel)
	err = fc.Subscribe(ctx, func(payload []byte) error {
		return conn.Write(ctx, websocket.MessageText, payload)
	})
	if err != nil && ctx.Err() == nil {
		slog.Debug("httpapi.ws_events_ended", "stream", stream, "error", err)
		conn.Close(websocket.StatusInternalError, "relay stopped")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

const pollReadTimeout = 5 * time.Second

// handlePolling serves GET /polling?endpoint={uid}&group_id=? as a
// server-sent-events stream, one JSON payload per acknowledged message.
func (s *Server) handlePolling(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("endpoint")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	ep, err := s.reg.LoadEndpoint(ctx, uid)
	if err != nil {
		writeSSEProblem(w, flusher, "unknown endpoint")
		return
	}
	addr, err := streamtransport.ParseAddress(ep.ForwardStreamAddress)
	if err != nil {
		writeSSEProblem(w, flusher, "endpoint has no forward address")
		return
	}

	groupID := r.URL.Query().Get("group_id")
	if groupID == "" {
		groupID = "default"
	}
	groupName := fmt.Sprintf("%s/%s", uid, groupID)
	gs := streamtransport.NewGroupStreamNamed(s.pool, addr.Host, addr.Channel, groupName)
	if err := gs.EnsureGroup(ctx); err != nil {
		writeSSEProblem(w, flusher, "stream unavailable")
		return
	}
	consumer := "poll-" + uid

	for {
		select {
		case <-ctx.Done():
			_ = gs.DeleteConsumer(context.Background(), consumer)
			return
		default:
		}

		entry, ok, err := gs.Read(ctx, consumer, pollReadTimeout)
		if err != nil {
			if ctx.Err() != nil {
				_ = gs.DeleteConsumer(context.Background(), consumer)
				return
			}
			continue
		}
		if !ok {
			continue
		}

		var req push.Request
		if err := json.Unmarshal(entry.Payload, &req); err != nil {
			fmt.Fprintf(w, "data: %s\n\n", entry.Payload)
		} else {
			fmt.Fprintf(w, "data: %s\n\n", req.Message)
			ackReverseChannel(ctx, s.pool, addr.Host, req.ReverseChannel, req.ID)
		}
		flusher.Flush()
		_ = gs.Ack(ctx, entry.ID)
	}
}

// ackReverseChannel publishes a success ack back to the Push Engine's
// reverse channel, the same handoff session.pushAck performs for
// WebSocket delivery — polling is just another transport the Push
// Engine's ack protocol must close out.
func ackReverseChannel(ctx context.Context, pool *streamtransport.Pool, host, reverseChannel, requestID string) {
	fc := streamtransport.NewFanoutChannelAt(pool, host, reverseChannel)
	ack := push.Ack{ID: requestID, Status: true}
	b, err := json.Marshal(ack)
	if err != nil {
		return
	}
	_, _ = fc.Publish(ctx, b)
}

func writeSSEProblem(w http.ResponseWriter, flusher http.Flusher, explain string) {
	b, _ := json.Marshal(map[string]string{"problem": explain})
	fmt.Fprintf(w, "data: %s\n\n", b)
	flusher.Flush()
}
