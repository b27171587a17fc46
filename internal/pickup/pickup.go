// Package pickup implements the offline-message queue a Session
// Controller drains through the messagepickup protocol: an ordered
// per-session map with status, batch, list, and noop operations.
package pickup

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/didmediator/pkg/protocol"
)

// Item is one queued message awaiting pickup.
type Item struct {
	ID      string
	Message []byte
	Stamp   time.Time
}

// Queue is the ordered per-session pickup queue. Zero value is not
// usable; build with New.
type Queue struct {
	mu           sync.Mutex
	cond         *sync.Cond
	order        []string
	byID         map[string]Item
	maxSize      int
	lastAddedUTC int64
}

// New builds a Queue. maxSize <= 0 means unbounded.
func New(maxSize int) *Queue {
	q := &Queue{byID: make(map[string]Item), maxSize: maxSize}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends message to the queue, blocking while the queue is at
// capacity. If msgID is empty a UUID is assigned. Returns the id used.
func (q *Queue) Put(ctx context.Context, message []byte, msgID string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.maxSize > 0 && len(q.order) >= q.maxSize {
		if waitErr := q.waitLocked(ctx); waitErr != nil {
			return "", waitErr
		}
	}

	if msgID == "" {
		msgID = uuid.NewString()
	}
	now := time.Now()
	q.order = append(q.order, msgID)
	q.byID[msgID] = Item{ID: msgID, Message: message, Stamp: now}
	q.lastAddedUTC = now.Unix()
	q.cond.Broadcast()
	return msgID, nil
}

// waitLocked blocks on q.cond until woken, respecting ctx cancellation.
// Must be called with q.mu held; re-acquires it before returning.
func (q *Queue) waitLocked(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	q.cond.Wait()
	close(done)
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Status returns the queue's current status snapshot.
func (q *Queue) Status() protocol.Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return protocol.Status{
		MessageCount:  len(q.order),
		LastAddedTime: q.lastAddedUTC,
		DurationLimit: 0,
	}
}

// Batch pops up to batchSize items in insertion order, waiting up to
// delayTimeout for the queue to actually fill to batchSize, not merely
// become non-empty — a trickling queue accumulates toward batchSize
// instead of draining one item at a time. A short or empty result once
// delayTimeout elapses is a valid response, not an error. delayTimeout
// <= 0 means no wait at all: whatever is already queued (possibly
// nothing) is returned immediately, matching the original's
// "delay_timeout is None and message_count == 0" immediate-empty_queue
// short-circuit instead of blocking on the caller's (possibly
// long-lived) context.
func (q *Queue) Batch(ctx context.Context, batchSize int, delayTimeout time.Duration) ([]Item, error) {
	if batchSize <= 0 {
		batchSize = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) < batchSize && delayTimeout > 0 {
		deadlineCtx, cancel := context.WithTimeout(ctx, delayTimeout)
		defer cancel()
		for len(q.order) < batchSize {
			if err := q.waitLocked(deadlineCtx); err != nil {
				break // timeout or cancellation: return whatever has accumulated
			}
		}
	}

	n := batchSize
	if n > len(q.order) {
		n = len(q.order)
	}
	ids := q.order[:n]
	items := make([]Item, 0, n)
	for _, id := range ids {
		items = append(items, q.byID[id])
		delete(q.byID, id)
	}
	q.order = q.order[n:]
	q.cond.Broadcast()
	return items, nil
}

// List returns the subset of ids currently queued, without popping them.
func (q *Queue) List(ids []string) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []Item
	for _, id := range q.order {
		if wanted[id] {
			out = append(out, q.byID[id])
		}
	}
	return out
}

// Len reports the number of items currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
