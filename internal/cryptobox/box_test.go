package cryptobox

import (
	"bytes"
	"testing"
)

func mustKeyPair(t *testing.T, seed byte) KeyPair {
	t.Helper()
	var s [32]byte
	for i := range s {
		s[i] = seed
	}
	kp, err := GenerateKeyPair(s)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return kp
}

func TestPackUnpackAnoncrypt(t *testing.T) {
	recipient := mustKeyPair(t, 1)
	payload := []byte(`{"hello":"world"}`)

	env, err := Pack(payload, []string{recipient.VerkeyString()}, nil)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	got, kid, err := Unpack(env, recipient)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %s want %s", got, payload)
	}
	if kid != recipient.VerkeyString() {
		t.Fatalf("kid mismatch: got %s want %s", kid, recipient.VerkeyString())
	}
}

func TestPackUnpackAuthcrypt(t *testing.T) {
	sender := mustKeyPair(t, 2)
	recipient := mustKeyPair(t, 3)
	payload := []byte("authcrypted payload")

	env, err := Pack(payload, []string{recipient.VerkeyString()}, &sender)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	got, _, err := Unpack(env, recipient)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %s want %s", got, payload)
	}
}

func TestUnpackWrongRecipient(t *testing.T) {
	recipient := mustKeyPair(t, 4)
	other := mustKeyPair(t, 5)

	env, err := Pack([]byte("secret"), []string{recipient.VerkeyString()}, nil)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	if _, _, err := Unpack(env, other); err != ErrNotRecipient {
		t.Fatalf("expected ErrNotRecipient, got %v", err)
	}
}

func TestMultiRecipient(t *testing.T) {
	a := mustKeyPair(t, 6)
	b := mustKeyPair(t, 7)
	payload := []byte("fan out")

	env, err := Pack(payload, []string{a.VerkeyString(), b.VerkeyString()}, nil)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	for _, kp := range []KeyPair{a, b} {
		got, _, err := Unpack(env, kp)
		if err != nil {
			t.Fatalf("Unpack for %s: %v", kp.VerkeyString(), err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("payload mismatch")
		}
	}
}

func TestRecipientKids(t *testing.T) {
	a := mustKeyPair(t, 8)
	env, err := Pack([]byte("x"), []string{a.VerkeyString()}, nil)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	kids, err := RecipientKids(env)
	if err != nil {
		t.Fatalf("RecipientKids: %v", err)
	}
	if len(kids) != 1 || kids[0] != a.VerkeyString() {
		t.Fatalf("unexpected kids: %v", kids)
	}
}
