package streamtransport

import "testing"

func TestRingStableMapping(t *testing.T) {
	ring := NewRing([]string{"shard-a:6379", "shard-b:6379", "shard-c:6379"})

	first, err := ring.PickShard("forward:uid-1")
	if err != nil {
		t.Fatalf("PickShard: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, err := ring.PickShard("forward:uid-1")
		if err != nil {
			t.Fatalf("PickShard: %v", err)
		}
		if got != first {
			t.Fatalf("unstable mapping: got %s want %s", got, first)
		}
	}
}

func TestRingDistributesAcrossShards(t *testing.T) {
	ring := NewRing([]string{"shard-a:6379", "shard-b:6379", "shard-c:6379"})

	seen := map[string]int{}
	for i := 0; i < 300; i++ {
		shard, err := ring.PickShard(channelNameForTest(i))
		if err != nil {
			t.Fatalf("PickShard: %v", err)
		}
		seen[shard]++
	}
	if len(seen) < 2 {
		t.Fatalf("expected channels to spread across shards, got %v", seen)
	}
}

func channelNameForTest(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return "forward:" + string(letters[i%len(letters)]) + string(rune('0'+i%10))
}

func TestParseAddress(t *testing.T) {
	cases := []struct {
		in      string
		host    string
		channel string
	}{
		{"redis://127.0.0.1:6379", "127.0.0.1:6379", ""},
		{"redis://127.0.0.1:6379/forward:uid-1", "127.0.0.1:6379", "forward:uid-1"},
	}
	for _, tc := range cases {
		addr, err := ParseAddress(tc.in)
		if err != nil {
			t.Fatalf("ParseAddress(%q): %v", tc.in, err)
		}
		if addr.Host != tc.host || addr.Channel != tc.channel {
			t.Fatalf("ParseAddress(%q) = %+v", tc.in, addr)
		}
		if addr.String() != tc.in {
			t.Fatalf("round trip: got %s want %s", addr.String(), tc.in)
		}
	}
}

func TestParseAddressRejectsBadScheme(t *testing.T) {
	if _, err := ParseAddress("http://127.0.0.1:6379"); err == nil {
		t.Fatalf("expected error for non-redis scheme")
	}
}
