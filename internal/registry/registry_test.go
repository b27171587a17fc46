package registry

import "testing"

func TestCoalescePrefersNonEmpty(t *testing.T) {
	if got := coalesce("a", "b"); got != "a" {
		t.Fatalf("coalesce(a,b) = %q", got)
	}
	if got := coalesce("", "b"); got != "b" {
		t.Fatalf("coalesce(\"\",b) = %q", got)
	}
}

func TestNullableString(t *testing.T) {
	if nullableString("") != nil {
		t.Fatalf("nullableString(\"\") should be nil")
	}
	if nullableString("x") != "x" {
		t.Fatalf("nullableString(x) should round-trip")
	}
}
