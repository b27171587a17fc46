package broadcast

import (
	"context"
	"testing"
)

func TestHandleRawDedupesByEventAndMarker(t *testing.T) {
	p := New(nil, nil)
	calls := 0
	p.OnEvent(EventReload, func(ctx context.Context) error {
		calls++
		return nil
	})

	raw := []byte(`{"event":"reload","marker":"m1"}`)
	p.handleRaw(context.Background(), raw)
	p.handleRaw(context.Background(), raw)

	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
}

func TestHandleRawDistinctMarkersBothFire(t *testing.T) {
	p := New(nil, nil)
	calls := 0
	p.OnEvent(EventReload, func(ctx context.Context) error {
		calls++
		return nil
	})

	p.handleRaw(context.Background(), []byte(`{"event":"reload","marker":"m1"}`))
	p.handleRaw(context.Background(), []byte(`{"event":"reload","marker":"m2"}`))

	if calls != 2 {
		t.Fatalf("expected handler to run twice, ran %d times", calls)
	}
}

func TestHandleRawUnknownEventIsIgnored(t *testing.T) {
	p := New(nil, nil)
	// No handler registered for "unknown" — must not panic.
	p.handleRaw(context.Background(), []byte(`{"event":"unknown","marker":"m1"}`))
}
