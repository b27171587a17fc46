package cryptobox

import (
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrDecryptFailure is returned by Unpack when the AEAD tag does not
// verify — the envelope was tampered with or encrypted to a different key.
var ErrDecryptFailure = errors.New("cryptobox: decrypt failure")

// ErrNotRecipient is returned by Unpack when the recipient key pair is not
// among the envelope's addressed kids.
var ErrNotRecipient = errors.New("cryptobox: not a recipient")

func secretboxSeal(plain []byte, nonce [24]byte, key [32]byte) []byte {
	return secretbox.Seal(nil, plain, &nonce, &key)
}

func secretboxOpen(sealed []byte, nonce [24]byte, key [32]byte) ([]byte, bool) {
	return secretbox.Open(nil, sealed, &nonce, &key)
}
