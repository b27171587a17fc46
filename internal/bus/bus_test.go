package bus

import (
	"testing"

	"github.com/nextlevelbuilder/didmediator/pkg/protocol"
)

func TestBindingIDExplicitThid(t *testing.T) {
	id, err := BindingID(&protocol.CastDescriptor{Thid: "thread-1"})
	if err != nil {
		t.Fatalf("BindingID: %v", err)
	}
	if id != "thread-1" {
		t.Fatalf("BindingID = %q, want thread-1", id)
	}
}

func TestBindingIDHashIsDeterministic(t *testing.T) {
	cast := &protocol.CastDescriptor{RecipientVK: "vk1", Protocols: []string{"p2", "p1"}}
	a, err := BindingID(cast)
	if err != nil {
		t.Fatalf("BindingID: %v", err)
	}
	b, err := BindingID(&protocol.CastDescriptor{RecipientVK: "vk1", Protocols: []string{"p1", "p2"}})
	if err != nil {
		t.Fatalf("BindingID: %v", err)
	}
	if a != b {
		t.Fatalf("expected protocol order to not affect binding id: %q != %q", a, b)
	}
}

func TestBindingIDRejectsKeysWithoutProtocols(t *testing.T) {
	_, err := BindingID(&protocol.CastDescriptor{RecipientVK: "vk1"})
	if err != ErrInvalidCast {
		t.Fatalf("expected ErrInvalidCast, got %v", err)
	}
}

func TestBindingIDNilCast(t *testing.T) {
	if _, err := BindingID(nil); err == nil {
		t.Fatalf("expected error for nil cast")
	}
}

func TestTopicNaming(t *testing.T) {
	if got := Topic("did:example:1", "abc"); got != "did:example:1/abc" {
		t.Fatalf("Topic = %q", got)
	}
}

func TestUnsubscribeAllClearsSet(t *testing.T) {
	set := NewSubscriptions()
	set.byID["a"] = &Subscription{BindingID: "a", cancel: func() {}, done: closedChan()}
	set.byID["b"] = &Subscription{BindingID: "b", cancel: func() {}, done: closedChan()}

	cancelled := set.Unsubscribe("", "", true)
	if len(cancelled) != 2 {
		t.Fatalf("expected 2 cancelled, got %d", len(cancelled))
	}
	if len(set.byID) != 0 {
		t.Fatalf("expected empty set after Unsubscribe(all)")
	}
}

func TestUnsubscribeByParentThreadID(t *testing.T) {
	set := NewSubscriptions()
	set.byID["a"] = &Subscription{BindingID: "a", ParentThreadID: "parent-1", cancel: func() {}, done: closedChan()}
	set.byID["b"] = &Subscription{BindingID: "b", ParentThreadID: "parent-2", cancel: func() {}, done: closedChan()}

	cancelled := set.Unsubscribe("", "parent-1", false)
	if len(cancelled) != 1 || cancelled[0].BindingID != "a" {
		t.Fatalf("unexpected cancelled set: %+v", cancelled)
	}
	if _, ok := set.byID["b"]; !ok {
		t.Fatalf("expected b to remain subscribed")
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
