package session

import "testing"

func TestPaginateWithinBounds(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	got := paginate(items, 1, 2)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("unexpected page: %+v", got)
	}
}

func TestPaginateOffsetBeyondEnd(t *testing.T) {
	items := []string{"a", "b"}
	if got := paginate(items, 5, 2); got != nil {
		t.Fatalf("expected nil page, got %+v", got)
	}
}

func TestPaginateZeroLimitReturnsRest(t *testing.T) {
	items := []string{"a", "b", "c"}
	got := paginate(items, 1, 0)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("unexpected page: %+v", got)
	}
}

func TestHasTag(t *testing.T) {
	if !hasTag([]string{"x", QueueTransportTag}, QueueTransportTag) {
		t.Fatalf("expected tag to be found")
	}
	if hasTag([]string{"x"}, QueueTransportTag) {
		t.Fatalf("expected tag to be absent")
	}
}
