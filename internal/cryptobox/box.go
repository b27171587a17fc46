// Package cryptobox implements the DIDComm pack/unpack envelope over NaCl
// box (X25519 key agreement + XSalsa20-Poly1305 AEAD), following the
// anoncrypt/authcrypt shape used by the coordinate-mediation and routing
// protocols this mediator speaks. Named and laid out the way the zalo
// protocol package keeps its wire crypto in one crypto.go file per
// sub-protocol.
package cryptobox

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"github.com/nextlevelbuilder/didmediator/pkg/protocol"
)

// KeyPair is an X25519 key pair addressed by its base58-free, base64url
// verkey (the mediator never needs base58 — that's a DID-method concern
// the handshake layer owns, not the envelope layer).
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair derives a deterministic X25519 pair from a 32-byte seed,
// matching "the mediator's DID and verkey are derived deterministically
// from the seed at startup".
func GenerateKeyPair(seed [32]byte) (KeyPair, error) {
	pub, err := curve25519.X25519(seed[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("cryptobox: derive public key: %w", err)
	}
	var kp KeyPair
	kp.Private = seed
	copy(kp.Public[:], pub)
	return kp, nil
}

// VerkeyString renders a public key as the base64url string used as `kid`
// in protected headers and as the mediator's routing key.
func (kp KeyPair) VerkeyString() string {
	return base64.RawURLEncoding.EncodeToString(kp.Public[:])
}

func decodeVerkey(vk string) ([32]byte, error) {
	var out [32]byte
	raw, err := base64.RawURLEncoding.DecodeString(vk)
	if err != nil {
		return out, fmt.Errorf("cryptobox: bad verkey %q: %w", vk, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("cryptobox: verkey %q: want 32 bytes, got %d", vk, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// Pack encrypts payload to one or more recipient verkeys. When from is
// non-nil the envelope is authcrypted (sender identity is recoverable by
// recipients); otherwise it is anoncrypt.
func Pack(payload []byte, toVerkeys []string, from *KeyPair) (protocol.Envelope, error) {
	if len(toVerkeys) == 0 {
		return protocol.Envelope{}, fmt.Errorf("cryptobox: pack: no recipients")
	}

	cek, err := randomKey()
	if err != nil {
		return protocol.Envelope{}, err
	}

	recipients := make([]protocol.Recipient, 0, len(toVerkeys))
	for _, vk := range toVerkeys {
		toPub, err := decodeVerkey(vk)
		if err != nil {
			return protocol.Envelope{}, err
		}

		var ephPub, ephPriv *[32]byte
		if from != nil {
			ephPub, ephPriv = &from.Public, &from.Private
		} else {
			pub, priv, err := box.GenerateKey(rand.Reader)
			if err != nil {
				return protocol.Envelope{}, fmt.Errorf("cryptobox: ephemeral key: %w", err)
			}
			ephPub, ephPriv = pub, priv
		}

		var nonce [24]byte
		if _, err := rand.Read(nonce[:]); err != nil {
			return protocol.Envelope{}, fmt.Errorf("cryptobox: nonce: %w", err)
		}
		sealed := box.Seal(nil, cek[:], &nonce, &toPub, ephPriv)

		header := protocol.RecipientHeader{
			Kid: vk,
			IV:  base64.RawURLEncoding.EncodeToString(nonce[:]),
		}
		if from != nil {
			header.Sender = from.VerkeyString()
		}
		recipients = append(recipients, protocol.Recipient{
			EncryptedKey: base64.RawURLEncoding.EncodeToString(append(ephPub[:], sealed...)),
			Header:       header,
		})
	}

	protHeader := protocol.ProtectedHeader{Enc: "xsalsa20poly1305", Recipients: recipients}
	protJSON, err := json.Marshal(protHeader)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("cryptobox: marshal header: %w", err)
	}

	var contentNonce [24]byte
	if _, err := rand.Read(contentNonce[:]); err != nil {
		return protocol.Envelope{}, fmt.Errorf("cryptobox: content nonce: %w", err)
	}
	sealedBody := secretboxSeal(payload, contentNonce, cek)

	return protocol.Envelope{
		Protected:  base64.RawURLEncoding.EncodeToString(protJSON),
		IV:         base64.RawURLEncoding.EncodeToString(contentNonce[:]),
		Ciphertext: base64.RawURLEncoding.EncodeToString(sealedBody),
		Tag:        "", // authentication tag is appended to Ciphertext by secretbox
	}, nil
}

// Unpack decrypts env using recipient's key pair. It returns the inner
// payload and the kid of the recipient entry that matched (useful when a
// caller passed multiple candidate keys upstream).
func Unpack(env protocol.Envelope, recipient KeyPair) ([]byte, string, error) {
	protJSON, err := base64.RawURLEncoding.DecodeString(env.Protected)
	if err != nil {
		return nil, "", fmt.Errorf("cryptobox: decode protected: %w", err)
	}
	var header protocol.ProtectedHeader
	if err := json.Unmarshal(protJSON, &header); err != nil {
		return nil, "", fmt.Errorf("cryptobox: parse protected: %w", err)
	}

	myVerkey := recipient.VerkeyString()
	for _, r := range header.Recipients {
		if r.Header.Kid != myVerkey {
			continue
		}

		sealed, err := base64.RawURLEncoding.DecodeString(r.EncryptedKey)
		if err != nil || len(sealed) < 32 {
			return nil, "", fmt.Errorf("cryptobox: bad encrypted_key for %s", r.Header.Kid)
		}
		var ephPub [32]byte
		copy(ephPub[:], sealed[:32])

		nonceRaw, err := base64.RawURLEncoding.DecodeString(r.Header.IV)
		if err != nil || len(nonceRaw) != 24 {
			return nil, "", fmt.Errorf("cryptobox: bad recipient nonce")
		}
		var nonce [24]byte
		copy(nonce[:], nonceRaw)

		cekSlice, ok := box.Open(nil, sealed[32:], &nonce, &ephPub, &recipient.Private)
		if !ok || len(cekSlice) != 32 {
			return nil, "", ErrDecryptFailure
		}
		var cek [32]byte
		copy(cek[:], cekSlice)

		contentNonceRaw, err := base64.RawURLEncoding.DecodeString(env.IV)
		if err != nil || len(contentNonceRaw) != 24 {
			return nil, "", fmt.Errorf("cryptobox: bad content nonce")
		}
		var contentNonce [24]byte
		copy(contentNonce[:], contentNonceRaw)

		body, err := base64.RawURLEncoding.DecodeString(env.Ciphertext)
		if err != nil {
			return nil, "", fmt.Errorf("cryptobox: decode ciphertext: %w", err)
		}

		plain, ok := secretboxOpen(body, contentNonce, cek)
		if !ok {
			return nil, "", ErrDecryptFailure
		}
		return plain, r.Header.Kid, nil
	}

	return nil, "", ErrNotRecipient
}

// RecipientKids lists every kid the envelope is addressed to, without
// attempting decryption — used by the Forward Router to decide whether
// the mediator's own key, or one of its routing keys, is present.
func RecipientKids(env protocol.Envelope) ([]string, error) {
	protJSON, err := base64.RawURLEncoding.DecodeString(env.Protected)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: decode protected: %w", err)
	}
	var header protocol.ProtectedHeader
	if err := json.Unmarshal(protJSON, &header); err != nil {
		return nil, fmt.Errorf("cryptobox: parse protected: %w", err)
	}
	kids := make([]string, 0, len(header.Recipients))
	for _, r := range header.Recipients {
		kids = append(kids, r.Header.Kid)
	}
	return kids, nil
}

func randomKey() ([32]byte, error) {
	var k [32]byte
	if _, err := rand.Read(k[:]); err != nil {
		return k, fmt.Errorf("cryptobox: random key: %w", err)
	}
	return k, nil
}
