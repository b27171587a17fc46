package bus

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/didmediator/internal/streamtransport"
	"github.com/nextlevelbuilder/didmediator/pkg/protocol"
)

// Subscription is one active topic listener task, owned by whatever
// session started it. Cancel stops the underlying FanoutChannel
// subscription and blocks until the listener goroutine has exited.
type Subscription struct {
	BindingID      string
	ParentThreadID string

	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the listener and blocks until its goroutine has exited.
func (s *Subscription) Cancel() {
	s.cancel()
	<-s.done
}

// Subscriptions is the set of a session's active bus subscriptions,
// indexed by binding id — the shape the Session Controller uses to
// implement Unsubscribe{binding_id | parent_thread_id | all}.
type Subscriptions struct {
	mu   sync.Mutex
	byID map[string]*Subscription
}

// NewSubscriptions builds an empty subscription set.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{byID: make(map[string]*Subscription)}
}

// Subscribe computes a binding id from cast, starts (or adopts) its
// topic listener, and returns the resulting Subscription. onEvent is
// invoked for every payload the topic receives, off the calling
// goroutine.
func (b *Bus) Subscribe(ctx context.Context, set *Subscriptions, theirDID string, cast *protocol.CastDescriptor, parentThreadID string, onEvent func(protocol.BusEvent)) (*Subscription, error) {
	bindingID, err := BindingID(cast)
	if err != nil {
		return nil, err
	}

	set.mu.Lock()
	if existing, ok := set.byID[bindingID]; ok {
		set.mu.Unlock()
		return existing, nil
	}
	set.mu.Unlock()

	fc, err := streamtransport.NewFanoutChannel(b.pool, b.ring, Topic(theirDID, bindingID))
	if err != nil {
		return nil, err
	}

	listenerCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{BindingID: bindingID, ParentThreadID: parentThreadID, cancel: cancel, done: make(chan struct{})}

	set.mu.Lock()
	set.byID[bindingID] = sub
	set.mu.Unlock()

	go func() {
		defer close(sub.done)
		_ = fc.Subscribe(listenerCtx, func(raw []byte) error {
			onEvent(protocol.BusEvent{Payload: raw, BindingID: bindingID, ParentThreadID: parentThreadID})
			return nil
		})
	}()

	return sub, nil
}

// Unsubscribe cancels the subscription matching bindingID, parentThreadID,
// or every subscription when all is true.
func (set *Subscriptions) Unsubscribe(bindingID, parentThreadID string, all bool) []*Subscription {
	set.mu.Lock()
	var toCancel []*Subscription
	if all {
		for id, sub := range set.byID {
			toCancel = append(toCancel, sub)
			delete(set.byID, id)
		}
	} else {
		for id, sub := range set.byID {
			if (bindingID != "" && id == bindingID) || (parentThreadID != "" && sub.ParentThreadID == parentThreadID) {
				toCancel = append(toCancel, sub)
				delete(set.byID, id)
			}
		}
	}
	set.mu.Unlock()

	for _, sub := range toCancel {
		sub.Cancel()
	}
	return toCancel
}

// CancelAll tears down every subscription — called from session
// termination.
func (set *Subscriptions) CancelAll() {
	set.Unsubscribe("", "", true)
}
