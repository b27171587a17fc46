package pickup

import (
	"context"
	"testing"
	"time"
)

func TestPutThenBatchFIFO(t *testing.T) {
	q := New(0)
	ctx := context.Background()

	if _, err := q.Put(ctx, []byte("m1"), ""); err != nil {
		t.Fatalf("put m1: %v", err)
	}
	if _, err := q.Put(ctx, []byte("m2"), ""); err != nil {
		t.Fatalf("put m2: %v", err)
	}

	items, err := q.Batch(ctx, 2, 0)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(items) != 2 || string(items[0].Message) != "m1" || string(items[1].Message) != "m2" {
		t.Fatalf("unexpected batch order: %+v", items)
	}
}

func TestBatchWaitsForFill(t *testing.T) {
	q := New(0)
	ctx := context.Background()

	done := make(chan []Item, 1)
	go func() {
		items, err := q.Batch(ctx, 1, 2*time.Second)
		if err != nil {
			t.Errorf("batch: %v", err)
		}
		done <- items
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := q.Put(ctx, []byte("late"), ""); err != nil {
		t.Fatalf("put: %v", err)
	}

	select {
	case items := <-done:
		if len(items) != 1 || string(items[0].Message) != "late" {
			t.Fatalf("unexpected items: %+v", items)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("batch never returned after put")
	}
}

// TestBatchAccumulatesMultipleItemsBeforeReturning trickles three items
// in one at a time and asserts Batch(batchSize=3, ...) waits for all
// three instead of returning as soon as the queue is merely non-empty.
func TestBatchAccumulatesMultipleItemsBeforeReturning(t *testing.T) {
	q := New(0)
	ctx := context.Background()

	if _, err := q.Put(ctx, []byte("m1"), ""); err != nil {
		t.Fatalf("put m1: %v", err)
	}

	done := make(chan []Item, 1)
	go func() {
		items, err := q.Batch(ctx, 3, 2*time.Second)
		if err != nil {
			t.Errorf("batch: %v", err)
		}
		done <- items
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := q.Put(ctx, []byte("m2"), ""); err != nil {
		t.Fatalf("put m2: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := q.Put(ctx, []byte("m3"), ""); err != nil {
		t.Fatalf("put m3: %v", err)
	}

	select {
	case items := <-done:
		if len(items) != 3 || string(items[0].Message) != "m1" || string(items[1].Message) != "m2" || string(items[2].Message) != "m3" {
			t.Fatalf("expected batch to accumulate all 3 trickled items in order, got %+v", items)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("batch never returned after trickled puts reached batch_size")
	}
}

// TestBatchTimesOutWithPartialFill covers a queue that never reaches
// batch_size: the delay elapses and whatever accumulated is returned,
// rather than blocking forever or discarding the partial fill.
func TestBatchTimesOutWithPartialFill(t *testing.T) {
	q := New(0)
	ctx := context.Background()
	if _, err := q.Put(ctx, []byte("m1"), ""); err != nil {
		t.Fatalf("put m1: %v", err)
	}
	if _, err := q.Put(ctx, []byte("m2"), ""); err != nil {
		t.Fatalf("put m2: %v", err)
	}

	items, err := q.Batch(ctx, 5, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected partial batch of 2 after timeout, got %+v", items)
	}
}

func TestBatchTimesOutEmpty(t *testing.T) {
	q := New(0)
	items, err := q.Batch(context.Background(), 1, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty batch on timeout, got %+v", items)
	}
}

func TestBatchZeroTimeoutEmptyReturnsImmediately(t *testing.T) {
	q := New(0)
	done := make(chan []Item, 1)
	go func() {
		items, err := q.Batch(context.Background(), 1, 0)
		if err != nil {
			t.Errorf("batch: %v", err)
		}
		done <- items
	}()

	select {
	case items := <-done:
		if len(items) != 0 {
			t.Fatalf("expected empty batch, got %+v", items)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("batch with zero delay_timeout blocked on an empty queue instead of returning immediately")
	}
}

func TestListReturnsWithoutPopping(t *testing.T) {
	q := New(0)
	ctx := context.Background()
	id, _ := q.Put(ctx, []byte("m1"), "")

	items := q.List([]string{id, "missing"})
	if len(items) != 1 || items[0].ID != id {
		t.Fatalf("unexpected list result: %+v", items)
	}
	if q.Len() != 1 {
		t.Fatalf("expected List to not pop, queue len = %d", q.Len())
	}
}

func TestPutRespectsExplicitMsgID(t *testing.T) {
	q := New(0)
	id, err := q.Put(context.Background(), []byte("m1"), "fixed-id")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if id != "fixed-id" {
		t.Fatalf("expected explicit msg id to be honored, got %q", id)
	}
}

func TestPutBlocksAtCapacity(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	if _, err := q.Put(ctx, []byte("m1"), ""); err != nil {
		t.Fatalf("put m1: %v", err)
	}

	blocked := make(chan struct{})
	go func() {
		q.Put(ctx, []byte("m2"), "")
		close(blocked)
	}()

	select {
	case <-blocked:
		t.Fatal("put should have blocked at capacity")
	case <-time.After(30 * time.Millisecond):
	}

	if _, err := q.Batch(ctx, 1, 0); err != nil {
		t.Fatalf("batch: %v", err)
	}

	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("put never unblocked after capacity freed")
	}
}
