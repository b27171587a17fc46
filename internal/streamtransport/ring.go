// Package streamtransport implements the two transport primitives the
// mediator builds everything else on: FanoutChannel (pub/sub, one message
// to every subscriber) and GroupStream (consumer-group stream, one message
// to one member of a named group). Both are addressed through a
// consistent-hash ring over the configured Redis-compatible shards.
package streamtransport

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoReachableShard is returned by ChooseShard when every configured
// shard fails its ping check.
var ErrNoReachableShard = errors.New("streamtransport: no reachable shard")

const vnodesPerShard = 160

// Ring is a ketama-style consistent hash ring over the configured shard
// addresses, grounded on the pack's sha256-keyed sorted-ring hasher.
type Ring struct {
	mu      sync.RWMutex
	shards  []string
	points  []uint64
	byPoint map[uint64]string
}

// NewRing builds a ring over addrs (bare "host:port" shard addresses, no
// redis:// scheme or channel suffix).
func NewRing(addrs []string) *Ring {
	r := &Ring{byPoint: make(map[uint64]string)}
	for _, a := range addrs {
		r.Add(a)
	}
	return r
}

// Add inserts a shard's virtual nodes into the ring.
func (r *Ring) Add(shard string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.shards = append(r.shards, shard)
	for i := 0; i < vnodesPerShard; i++ {
		h := ringHash(fmt.Sprintf("%s#%d", shard, i))
		r.points = append(r.points, h)
		r.byPoint[h] = shard
	}
	sort.Slice(r.points, func(i, j int) bool { return r.points[i] < r.points[j] })
}

// Shards returns the configured shard addresses in insertion order.
func (r *Ring) Shards() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.shards...)
}

// PickShard deterministically maps channel (a stream/pubsub key name) to
// one configured shard address. Same channel name always lands on the
// same shard as long as the ring's shard set hasn't changed — this is
// what keeps forward-address migration idempotent under concurrent
// rewrites (spec §9 "Forward-address migration").
func (r *Ring) PickShard(channel string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.points) == 0 {
		return "", fmt.Errorf("streamtransport: empty ring")
	}
	h := ringHash(channel)
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if idx == len(r.points) {
		idx = 0
	}
	return r.byPoint[r.points[idx]], nil
}

func ringHash(key string) uint64 {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint64(sum[:8])
}

// Address is a parsed `redis://{host}[/{channel}]` stream transport
// address. Without a channel it addresses the shard itself (used by
// ChooseShard / liveness checks); with one it addresses a specific
// FanoutChannel or GroupStream key.
type Address struct {
	Host    string
	Channel string
}

// ParseAddress parses the `redis://{host}[/{channel}]` grammar from §4.1.
func ParseAddress(addr string) (Address, error) {
	u, err := url.Parse(addr)
	if err != nil || u.Scheme != "redis" {
		return Address{}, fmt.Errorf("streamtransport: bad address %q", addr)
	}
	channel := strings.TrimPrefix(u.Path, "/")
	return Address{Host: u.Host, Channel: channel}, nil
}

// String renders an Address back to the `redis://{host}[/{channel}]` form.
func (a Address) String() string {
	if a.Channel == "" {
		return fmt.Sprintf("redis://%s", a.Host)
	}
	return fmt.Sprintf("redis://%s/%s", a.Host, a.Channel)
}

// Pool owns one *redis.Client per shard host, following the teacher's
// per-backend client pool shape (one pool per resource identity, reused
// across requests instead of dialing per call).
type Pool struct {
	mu      sync.Mutex
	clients map[string]*redis.Client
}

// NewPool creates an empty client pool. Clients are created lazily on
// first use of a shard host.
func NewPool() *Pool {
	return &Pool{clients: make(map[string]*redis.Client)}
}

// Client returns (creating if necessary) the pooled client for host.
func (p *Pool) Client(host string) *redis.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[host]; ok {
		return c
	}
	c := redis.NewClient(&redis.Options{Addr: host})
	p.clients[host] = c
	return c
}

// Close closes every pooled client.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ChooseShard probes every configured shard with PING in random order and
// returns the first reachable one, trying any host in excluding last.
// Fails with ErrNoReachableShard when none answer.
func ChooseShard(ctx context.Context, pool *Pool, shards []string, excluding ...string) (string, error) {
	excl := make(map[string]bool, len(excluding))
	for _, e := range excluding {
		excl[e] = true
	}

	order := append([]string(nil), shards...)
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	sort.SliceStable(order, func(i, j int) bool {
		return !excl[order[i]] && excl[order[j]]
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	for _, host := range order {
		if err := pool.Client(host).Ping(pingCtx).Err(); err == nil {
			return host, nil
		}
	}
	return "", ErrNoReachableShard
}
