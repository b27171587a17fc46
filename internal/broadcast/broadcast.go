// Package broadcast implements the Broadcast Control Plane: a fanout
// topic named "broadcast" mirrored on every configured shard so
// operator tooling can reach every mediator node with one publish,
// regardless of which shard that node happens to be subscribed through.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/didmediator/internal/streamtransport"
)

// ChannelName is the fixed fanout topic every node subscribes to.
const ChannelName = "broadcast"

// Envelope is the message operator tooling publishes: Event names the
// action and Marker deduplicates delivery across shards.
type Envelope struct {
	Event  string `json:"event"`
	Marker string `json:"marker"`
}

// EventReload asks every node to re-read its config file into the
// shared Config. A listener already serving TLS keeps the certificate it
// loaded at startup.
const EventReload = "reload"

// Handler reacts to a deduplicated broadcast event.
type Handler func(ctx context.Context) error

// Plane fans a broadcast event out to every shard and listens for
// incoming events on all of them, deduplicating by (event, marker).
type Plane struct {
	pool   *streamtransport.Pool
	shards []string

	mu      sync.Mutex
	seen    map[string]struct{}
	handlers map[string]Handler
}

// New builds a Plane over every configured shard.
func New(pool *streamtransport.Pool, shards []string) *Plane {
	return &Plane{
		pool:     pool,
		shards:   append([]string(nil), shards...),
		seen:     make(map[string]struct{}),
		handlers: make(map[string]Handler),
	}
}

// OnEvent registers the handler invoked for a given event name. Events
// with no registered handler are deduplicated (their marker is still
// recorded) but otherwise ignored.
func (p *Plane) OnEvent(event string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[event] = h
}

// Listen subscribes to the broadcast channel on every shard until ctx
// is cancelled, with one subscriber goroutine per shard, and returns once
// all of them have exited.
func (p *Plane) Listen(ctx context.Context) {
	var wg sync.WaitGroup
	for _, host := range p.shards {
		host := host
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.listenOn(ctx, host)
		}()
	}
	wg.Wait()
}

func (p *Plane) listenOn(ctx context.Context, host string) {
	fc := streamtransport.NewFanoutChannelAt(p.pool, host, ChannelName)
	err := fc.Subscribe(ctx, func(raw []byte) error {
		p.handleRaw(ctx, raw)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		slog.Warn("broadcast.listen_failed", "host", host, "error", err)
	}
}

func (p *Plane) handleRaw(ctx context.Context, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn("broadcast.decode_failed", "error", err)
		return
	}

	key := env.Event + "/" + env.Marker
	p.mu.Lock()
	if _, dup := p.seen[key]; dup {
		p.mu.Unlock()
		return
	}
	p.seen[key] = struct{}{}
	handler := p.handlers[env.Event]
	p.mu.Unlock()

	if handler == nil {
		return
	}
	if err := handler(ctx); err != nil {
		slog.Error("broadcast.handler_failed", "event", env.Event, "error", err)
	}
}

// Publish fans env out on one shard — every node, regardless of which
// shard its own listener is attached to, receives it because every
// node subscribes to the broadcast channel on every shard.
func (p *Plane) Publish(ctx context.Context, env Envelope) error {
	if len(p.shards) == 0 {
		return fmt.Errorf("broadcast: no shards configured")
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("broadcast: marshal: %w", err)
	}
	fc := streamtransport.NewFanoutChannelAt(p.pool, p.shards[0], ChannelName)
	if _, err := fc.Publish(ctx, b); err != nil {
		return fmt.Errorf("broadcast: publish: %w", err)
	}
	return nil
}

// WatchConfigFile watches path for writes and republishes a synthetic
// EventReload so a single-node deployment (no cluster to broadcast
// across) still drives its reload handler through the same code path
// as a clustered `reload` broadcast. Runs until ctx is cancelled.
func (p *Plane) WatchConfigFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("broadcast: config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("broadcast: watch %q: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			env := Envelope{Event: EventReload, Marker: uuid.NewString()}
			if len(p.shards) > 0 {
				if err := p.Publish(ctx, env); err != nil {
					slog.Warn("broadcast.config_watch_publish_failed", "error", err)
				}
				continue
			}
			p.handleRaw(ctx, mustMarshal(env))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("broadcast.config_watch_error", "error", err)
		}
	}
}

func mustMarshal(env Envelope) []byte {
	b, _ := json.Marshal(env)
	return b
}
