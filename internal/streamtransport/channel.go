package streamtransport

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FanoutChannel is a pub/sub channel: every message published reaches
// every subscriber currently listening, and nothing is retained for
// subscribers that join later. Used for the Protocol Bus and the
// Broadcast Control Plane.
type FanoutChannel struct {
	client *redis.Client
	host   string
	name   string
}

// NewFanoutChannel opens a fanout channel addressed by name, sharded by
// the ring — callers on different mediator instances that publish/
// subscribe to the same name land on the same shard. Use
// NewFanoutChannelAt when the channel's host is already fixed (e.g. a
// push engine's reverse channel riding on the same shard as the
// endpoint's forward address).
func NewFanoutChannel(pool *Pool, ring *Ring, name string) (*FanoutChannel, error) {
	host, err := ring.PickShard(name)
	if err != nil {
		return nil, err
	}
	return NewFanoutChannelAt(pool, host, name), nil
}

// NewFanoutChannelAt opens a fanout channel at an explicit host, bypassing
// the ring.
func NewFanoutChannelAt(pool *Pool, host, name string) *FanoutChannel {
	return &FanoutChannel{client: pool.Client(host), host: host, name: name}
}

// Host returns the shard host backing this channel.
func (f *FanoutChannel) Host() string { return f.host }

// Publish sends payload to every current subscriber. Returns the number of
// clients that received it.
func (f *FanoutChannel) Publish(ctx context.Context, payload []byte) (int64, error) {
	return f.client.Publish(ctx, f.name, payload).Result()
}

// Subscribe opens a subscription and calls handle for every message until
// ctx is cancelled or handle returns an error.
func (f *FanoutChannel) Subscribe(ctx context.Context, handle func([]byte) error) error {
	sub := f.client.Subscribe(ctx, f.name)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("streamtransport: fanout %q subscription closed", f.name)
			}
			if err := handle([]byte(msg.Payload)); err != nil {
				return err
			}
		}
	}
}

// Listener is a subscription whose SUBSCRIBE confirmation has already
// been received from the server — callers that must guarantee "subscribe
// happens-before publish" (the Push Engine's reverse channel) use Listen
// instead of Subscribe so the publish cannot race the subscription.
type Listener struct {
	sub *redis.PubSub
	ch  <-chan *redis.Message
}

// Listen subscribes and blocks until the server confirms the
// subscription before returning.
func (f *FanoutChannel) Listen(ctx context.Context) (*Listener, error) {
	sub := f.client.Subscribe(ctx, f.name)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("streamtransport: listen on %q: %w", f.name, err)
	}
	return &Listener{sub: sub, ch: sub.Channel()}, nil
}

// Next blocks for the next message or until ctx is done.
func (l *Listener) Next(ctx context.Context) ([]byte, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case msg, ok := <-l.ch:
		if !ok {
			return nil, false, nil
		}
		return []byte(msg.Payload), true, nil
	}
}

// Close ends the subscription.
func (l *Listener) Close() error {
	return l.sub.Close()
}

// GroupStream is a Redis stream read through one named consumer group:
// each entry is delivered to exactly one live consumer of that group,
// and undelivered entries survive process restarts. Several GroupStream
// values with different group names may read the same stream. Used for
// forward-stream addresses.
type GroupStream struct {
	client *redis.Client
	host   string
	name   string
	group  string
}

const groupStreamGroupName = "mediator"

// NewGroupStream opens (creating if necessary) a stream's consumer group,
// sharded by the ring.
func NewGroupStream(ctx context.Context, pool *Pool, ring *Ring, name string) (*GroupStream, error) {
	host, err := ring.PickShard(name)
	if err != nil {
		return nil, err
	}
	return NewGroupStreamAt(ctx, pool, host, name)
}

// NewGroupStreamAt opens a stream's consumer group at an explicit host,
// bypassing the ring — used once an endpoint's forward address has
// already been assigned and persisted.
func NewGroupStreamAt(ctx context.Context, pool *Pool, host, name string) (*GroupStream, error) {
	gs := NewGroupStreamNamed(pool, host, name, groupStreamGroupName)
	if err := gs.EnsureGroup(ctx); err != nil {
		return nil, err
	}
	return gs, nil
}

// NewGroupStreamNamed builds a GroupStream at an explicit host and
// consumer group name without creating the group yet — used when
// several session group_ids must each own an independent consumer
// group on the same stream (e.g. "{endpoint_uid}/{group_id}"). Call
// EnsureGroup before reading.
func NewGroupStreamNamed(pool *Pool, host, name, group string) *GroupStream {
	return &GroupStream{client: pool.Client(host), host: host, name: name, group: group}
}

// EnsureGroup creates the stream and consumer group if they do not
// already exist; a BUSYGROUP error (group already exists) is not an
// error here.
func (g *GroupStream) EnsureGroup(ctx context.Context) error {
	err := g.client.XGroupCreateMkStream(ctx, g.name, g.group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("streamtransport: create group %q for %q: %w", g.group, g.name, err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Host returns the shard host backing this stream.
func (g *GroupStream) Host() string { return g.host }

// Append adds payload to the stream and returns its entry ID.
func (g *GroupStream) Append(ctx context.Context, payload []byte) (string, error) {
	return g.client.XAdd(ctx, &redis.XAddArgs{
		Stream: g.name,
		Values: map[string]interface{}{"payload": payload},
	}).Result()
}

// Entry is one delivered stream record.
type Entry struct {
	ID      string
	Payload []byte
}

// Read blocks up to timeout for the next undelivered entry for consumer,
// returning (Entry{}, false, nil) on timeout with nothing to read.
func (g *GroupStream) Read(ctx context.Context, consumer string, timeout time.Duration) (Entry, bool, error) {
	res, err := g.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    g.group,
		Consumer: consumer,
		Streams:  []string{g.name, ">"},
		Count:    1,
		Block:    timeout,
	}).Result()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("streamtransport: read %q: %w", g.name, err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return Entry{}, false, nil
	}
	msg := res[0].Messages[0]
	payload, _ := msg.Values["payload"].(string)
	return Entry{ID: msg.ID, Payload: []byte(payload)}, true, nil
}

// Ack acknowledges successful processing of id, removing it from the
// group's pending entries list.
func (g *GroupStream) Ack(ctx context.Context, id string) error {
	return g.client.XAck(ctx, g.name, g.group, id).Err()
}

// Len reports the number of entries in the stream (XLEN), delivered or
// not.
func (g *GroupStream) Len(ctx context.Context) (int64, error) {
	return g.client.XLen(ctx, g.name).Result()
}

// DeleteConsumer removes consumer from the stream's group — the Session
// Controller must call this on termination, or the group accumulates
// dead consumer metadata.
func (g *GroupStream) DeleteConsumer(ctx context.Context, consumer string) error {
	return g.client.XGroupDelConsumer(ctx, g.name, g.group, consumer).Err()
}
