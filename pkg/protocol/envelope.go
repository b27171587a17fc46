// Package protocol defines the DIDComm wire types the mediator parses and
// emits: the JWE-shaped pack/unpack envelope, the routing "forward"
// message, and the RPC-shaped messages exchanged over a Session
// Controller's WebSocket (mediation coordination, pickup, bus).
package protocol

import "encoding/json"

// Envelope is the JWE-shaped wire format produced by pack and consumed by
// unpack. Compact JWE framing is not used here — DIDComm envelopes are
// general JSON JWEs with one recipient per entry.
type Envelope struct {
	Protected  string      `json:"protected"`
	IV         string      `json:"iv"`
	Ciphertext string      `json:"ciphertext"`
	Tag        string      `json:"tag"`
}

// ProtectedHeader is the base64url-decoded `protected` field.
type ProtectedHeader struct {
	Enc        string      `json:"enc"`
	Typ        string      `json:"typ,omitempty"`
	Recipients []Recipient `json:"recipients"`
}

// Recipient is one entry of the protected header's recipient list.
// EncryptedKey is the per-recipient wrapped content-encryption key,
// prefixed with the sender (or ephemeral) public key; Header carries the
// recipient's base64url-encoded verkey as Kid, the box nonce, and the
// sender's verkey when authcrypted.
type Recipient struct {
	EncryptedKey string          `json:"encrypted_key"`
	Header       RecipientHeader `json:"header"`
}

// RecipientHeader carries the per-recipient key-agreement material.
type RecipientHeader struct {
	Kid string `json:"kid"`
	IV  string `json:"iv,omitempty"`
	Sender string `json:"sender,omitempty"`
}

// ForwardMessage is the standard onion-routing envelope: its Msg field is
// itself another Envelope (or raw bytes for the innermost hop), destined
// for the To key. See spec §6 "Forward-message format".
type ForwardMessage struct {
	ID   string          `json:"@id"`
	Type string          `json:"@type"`
	To   string          `json:"to"`
	Msg  json.RawMessage `json:"msg"`
}

// TypeForward is the fixed @type of a ForwardMessage.
const TypeForward = "https://didcomm.org/routing/1.0/forward"

// Invitation is the mediator's connection invitation, returned by
// GET /invitation. RoutingKeys is always empty for the mediator itself —
// it is the terminal hop, never an intermediate one in its own invitation.
type Invitation struct {
	Type          string   `json:"@type"`
	ID            string   `json:"@id"`
	Label         string   `json:"label"`
	RecipientKeys []string `json:"recipientKeys"`
	ServiceEndpoint string `json:"serviceEndpoint"`
	RoutingKeys   []string `json:"routingKeys"`
}

const TypeInvitation = "https://didcomm.org/connections/1.0/invitation"
