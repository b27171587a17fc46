package forward

import (
	"encoding/json"
	"testing"

	"github.com/nextlevelbuilder/didmediator/internal/cryptobox"
	"github.com/nextlevelbuilder/didmediator/pkg/protocol"
)

func TestForwardWiredNoRoutingKeysPacksDirect(t *testing.T) {
	seed := [32]byte{1}
	kp, err := cryptobox.GenerateKeyPair(seed)
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	out, err := ForwardWired([]byte("hello"), kp.VerkeyString(), nil)
	if err != nil {
		t.Fatalf("ForwardWired: %v", err)
	}

	var env protocol.Envelope
	if err := json.Unmarshal(out, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	plain, _, err := cryptobox.Unpack(env, kp)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if string(plain) != "hello" {
		t.Fatalf("plain = %q, want hello", plain)
	}
}

// TestForwardWiredWithOneRoutingKeyWrapsForwardMessage exercises
// ForwardWired the way a real caller does: payload is already packed
// for the destination, and ForwardWired adds exactly one onion layer
// per routing key without re-encrypting that innermost ciphertext.
func TestForwardWiredWithOneRoutingKeyWrapsForwardMessage(t *testing.T) {
	destSeed := [32]byte{2}
	dest, _ := cryptobox.GenerateKeyPair(destSeed)
	routerSeed := [32]byte{3}
	router, _ := cryptobox.GenerateKeyPair(routerSeed)

	innerEnv, err := cryptobox.Pack([]byte("hello"), []string{dest.VerkeyString()}, nil)
	if err != nil {
		t.Fatalf("pack inner: %v", err)
	}
	payload, err := json.Marshal(innerEnv)
	if err != nil {
		t.Fatalf("marshal inner envelope: %v", err)
	}

	out, err := ForwardWired(payload, dest.VerkeyString(), []string{router.VerkeyString()})
	if err != nil {
		t.Fatalf("ForwardWired: %v", err)
	}

	var outerEnv protocol.Envelope
	if err := json.Unmarshal(out, &outerEnv); err != nil {
		t.Fatalf("unmarshal outer envelope: %v", err)
	}
	plain, _, err := cryptobox.Unpack(outerEnv, router)
	if err != nil {
		t.Fatalf("unpack outer: %v", err)
	}

	var fwd protocol.ForwardMessage
	if err := json.Unmarshal(plain, &fwd); err != nil {
		t.Fatalf("unmarshal forward: %v", err)
	}
	if fwd.Type != protocol.TypeForward {
		t.Fatalf("fwd.Type = %q", fwd.Type)
	}
	if fwd.To != dest.VerkeyString() {
		t.Fatalf("fwd.To = %q, want dest verkey", fwd.To)
	}
	if string(fwd.Msg) != string(payload) {
		t.Fatalf("fwd.Msg = %s, want innermost msg verbatim equal to payload", fwd.Msg)
	}

	innerPlain, _, err := cryptobox.Unpack(innerEnv, dest)
	if err != nil {
		t.Fatalf("unpack inner: %v", err)
	}
	if string(innerPlain) != "hello" {
		t.Fatalf("inner plain = %q, want hello", innerPlain)
	}
}

// TestForwardWiredWithTwoRoutingKeysNoDoubleEncryption exercises
// forward_wired(pack(msg, to=[VK_E]), VK_E, [RK, mediator_vk]) — the
// pre-packed payload must appear verbatim as the innermost msg, and
// exactly two pack operations (one per routing key) must occur, not
// three.
func TestForwardWiredWithTwoRoutingKeysNoDoubleEncryption(t *testing.T) {
	destSeed := [32]byte{4}
	dest, _ := cryptobox.GenerateKeyPair(destSeed)
	rkSeed := [32]byte{5}
	rk, _ := cryptobox.GenerateKeyPair(rkSeed)
	mediatorSeed := [32]byte{6}
	mediator, _ := cryptobox.GenerateKeyPair(mediatorSeed)

	innerEnv, err := cryptobox.Pack([]byte("msg"), []string{dest.VerkeyString()}, nil)
	if err != nil {
		t.Fatalf("pack inner: %v", err)
	}
	payload, err := json.Marshal(innerEnv)
	if err != nil {
		t.Fatalf("marshal inner envelope: %v", err)
	}

	out, err := ForwardWired(payload, dest.VerkeyString(), []string{rk.VerkeyString(), mediator.VerkeyString()})
	if err != nil {
		t.Fatalf("ForwardWired: %v", err)
	}

	var outerEnv protocol.Envelope
	if err := json.Unmarshal(out, &outerEnv); err != nil {
		t.Fatalf("unmarshal outer envelope: %v", err)
	}
	outerPlain, _, err := cryptobox.Unpack(outerEnv, mediator)
	if err != nil {
		t.Fatalf("unpack outer (mediator layer): %v", err)
	}

	var outerFwd protocol.ForwardMessage
	if err := json.Unmarshal(outerPlain, &outerFwd); err != nil {
		t.Fatalf("unmarshal outer forward: %v", err)
	}
	if outerFwd.To != rk.VerkeyString() {
		t.Fatalf("outerFwd.To = %q, want routing key verkey", outerFwd.To)
	}

	var midEnv protocol.Envelope
	if err := json.Unmarshal(outerFwd.Msg, &midEnv); err != nil {
		t.Fatalf("unmarshal mid envelope: %v", err)
	}
	midPlain, _, err := cryptobox.Unpack(midEnv, rk)
	if err != nil {
		t.Fatalf("unpack mid (routing key layer): %v", err)
	}

	var midFwd protocol.ForwardMessage
	if err := json.Unmarshal(midPlain, &midFwd); err != nil {
		t.Fatalf("unmarshal mid forward: %v", err)
	}
	if midFwd.To != dest.VerkeyString() {
		t.Fatalf("midFwd.To = %q, want dest verkey", midFwd.To)
	}
	if string(midFwd.Msg) != string(payload) {
		t.Fatalf("innermost msg = %s, want payload verbatim (no re-encryption)", midFwd.Msg)
	}
}
