package push

import "testing"

func TestReverseChannelNameDeterministic(t *testing.T) {
	a := reverseChannelName("fwd/1", "req-1")
	b := reverseChannelName("fwd/1", "req-1")
	if a != b {
		t.Fatalf("expected deterministic reverse channel name, got %q != %q", a, b)
	}
}

func TestReverseChannelNameVariesByRequest(t *testing.T) {
	a := reverseChannelName("fwd/1", "req-1")
	b := reverseChannelName("fwd/1", "req-2")
	if a == b {
		t.Fatalf("expected distinct reverse channel names for distinct requests")
	}
}

func TestOutcomeZeroValueIsDelivered(t *testing.T) {
	var o Outcome
	if o != OutcomeDelivered {
		t.Fatalf("expected zero value Outcome to be OutcomeDelivered")
	}
}
