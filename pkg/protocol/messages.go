package protocol

import "encoding/json"

// Wire @type strings for the session-controller protocol. Grouped by the
// co-protocol that owns them: mediation coordination, pickup, and bus.
const (
	TypePing             = "https://didcomm.org/trust_ping/1.0/ping"
	TypePong             = "https://didcomm.org/trust_ping/1.0/ping_response"
	TypeConnectionReq    = "https://didcomm.org/connections/1.0/request"
	TypeMediateRequest   = "https://didcomm.org/coordinate-mediation/1.0/mediate-request"
	TypeMediateGrant     = "https://didcomm.org/coordinate-mediation/1.0/mediate-grant"
	TypeKeylistUpdate    = "https://didcomm.org/coordinate-mediation/1.0/keylist-update"
	TypeKeylistUpdateRes = "https://didcomm.org/coordinate-mediation/1.0/keylist-update-response"
	TypeKeylistQuery     = "https://didcomm.org/coordinate-mediation/1.0/keylist-query"
	TypeKeylist          = "https://didcomm.org/coordinate-mediation/1.0/keylist"

	TypeStatusRequest  = "https://didcomm.org/messagepickup/2.0/status-request"
	TypeStatus         = "https://didcomm.org/messagepickup/2.0/status"
	TypeBatchPickup    = "https://didcomm.org/messagepickup/2.0/batch-pickup-request"
	TypeBatch          = "https://didcomm.org/messagepickup/2.0/batch"
	TypeListRequest    = "https://didcomm.org/messagepickup/2.0/list-request"
	TypeNoop           = "https://didcomm.org/messagepickup/2.0/noop"

	TypeBusSubscribe   = "https://didcomm.org/sirius_rpc/1.0/bus-subscribe"
	TypeBusUnsubscribe = "https://didcomm.org/sirius_rpc/1.0/bus-unsubscribe"
	TypeBusPublish     = "https://didcomm.org/sirius_rpc/1.0/bus-publish"
	TypeBusBindResponse = "https://didcomm.org/sirius_rpc/1.0/bus-bind-response"
	TypeBusEvent        = "https://didcomm.org/sirius_rpc/1.0/bus-event"
	TypeBusPublishResponse = "https://didcomm.org/sirius_rpc/1.0/bus-publish-response"

	TypeProblemReport = "https://didcomm.org/notification/1.0/problem-report"
)

// Thread carries DIDComm thread decorators.
type Thread struct {
	Thid           string `json:"thid,omitempty"`
	Pthid          string `json:"pthid,omitempty"`
}

// Header is embedded by every dispatchable message; it carries the fields
// every dispatch site needs regardless of payload shape.
type Header struct {
	ID          string  `json:"@id"`
	Type        string  `json:"@type"`
	Thread      *Thread `json:"~thread,omitempty"`
	ReturnRoute string  `json:"~transport.return_route,omitempty"` // "none" | "all" | "thread"
}

// ReturnRouteThread is the value ReturnRoute takes when the sender wants a
// reply correlated via ~thread.thid rather than delivered out-of-band.
const ReturnRouteThread = "thread"

// Ping / Pong

type Ping struct {
	Header
	ResponseRequested bool   `json:"response_requested,omitempty"`
	Comment           string `json:"comment,omitempty"`
}

type Pong struct {
	Header
}

// MediateRequest / MediateGrant

type MediateRequest struct {
	Header
}

type MediateGrant struct {
	Header
	Endpoint    string   `json:"endpoint"`
	RoutingKeys []string `json:"routing_keys"`
}

// KeylistUpdate

type KeylistUpdateAction string

const (
	KeylistActionAdd    KeylistUpdateAction = "add"
	KeylistActionRemove KeylistUpdateAction = "remove"
)

type KeylistUpdateItem struct {
	RecipientKey string              `json:"recipient_key"`
	Action       KeylistUpdateAction `json:"action"`
}

type KeylistUpdate struct {
	Header
	Updates []KeylistUpdateItem `json:"updates"`
}

type KeylistUpdateResult string

const (
	KeylistResultSuccess  KeylistUpdateResult = "success"
	KeylistResultNoChange KeylistUpdateResult = "no_change"
)

type KeylistUpdateResponseItem struct {
	RecipientKey string              `json:"recipient_key"`
	Action       KeylistUpdateAction `json:"action"`
	Result       KeylistUpdateResult `json:"result"`
}

type KeylistUpdateResponse struct {
	Header
	Updated []KeylistUpdateResponseItem `json:"updated"`
}

// KeylistQuery / Keylist

type KeylistQuery struct {
	Header
	Paginate *KeylistPaginate `json:"paginate,omitempty"`
}

type KeylistPaginate struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type Keylist struct {
	Header
	Keys     []KeylistEntry   `json:"keys"`
	Paginate *KeylistPaginate `json:"paginate,omitempty"`
}

type KeylistEntry struct {
	RecipientKey string `json:"recipient_key"` // did:key:{b58}
}

// Pickup

type StatusRequest struct {
	Header
}

type Status struct {
	Header
	MessageCount  int   `json:"message_count"`
	LastAddedTime int64 `json:"last_added_time,omitempty"`
	DurationLimit int   `json:"duration_limit"`
}

type BatchPickupRequest struct {
	Header
	BatchSize    int    `json:"batch_size"`
	DelayTimeout string `json:"delay_timeout,omitempty"` // Go duration string
}

type BatchedMessage struct {
	ID      string          `json:"id"`
	Message json.RawMessage `json:"message"`
}

type Batch struct {
	Header
	Messages []BatchedMessage `json:"messages"`
}

type ListRequest struct {
	Header
	MessageIDs []string `json:"message_ids"`
}

type Noop struct {
	Header
	DelayTimeout string `json:"delay_timeout,omitempty"`
}

// Bus

type CastDescriptor struct {
	Thid        string   `json:"thid,omitempty"`
	RecipientVK string   `json:"recipient_vk,omitempty"`
	SenderVK    string   `json:"sender_vk,omitempty"`
	Protocols   []string `json:"protocols,omitempty"`
}

type BusSubscribe struct {
	Header
	Cast           *CastDescriptor `json:"cast,omitempty"`
	ParentThreadID string          `json:"parent_thread_id,omitempty"`
}

type BusUnsubscribe struct {
	Header
	BindingID      string `json:"binding_id,omitempty"`
	ParentThreadID string `json:"parent_thread_id,omitempty"`
	All            bool   `json:"all,omitempty"`
	NeedAnswer     bool   `json:"need_answer,omitempty"`
	Aborted        bool   `json:"aborted,omitempty"`
}

type BusBindResponse struct {
	Header
	BindingID      string `json:"binding_id,omitempty"`
	Active         bool   `json:"active"`
	ParentThreadID string `json:"parent_thread_id,omitempty"`
	Aborted        bool   `json:"aborted,omitempty"`
}

type BusPublish struct {
	Header
	BindingIDs []string `json:"binding_ids"`
	Payload    []byte   `json:"payload"`
}

type BusPublishResponse struct {
	Header
	RecipientsNum int `json:"recipients_num"`
}

type BusEvent struct {
	Header
	Payload        []byte `json:"payload"`
	BindingID      string `json:"binding_id"`
	ParentThreadID string `json:"parent_thread_id,omitempty"`
}

// ProblemReport

type ProblemReport struct {
	Header
	Code    int    `json:"code"`
	Explain string `json:"explain"`
}

// Well-known problem codes (spec §4.5, §4.6).
const (
	ProblemCodeUnhandled      = 1
	ProblemCodeInvalidCast    = 2
	ProblemCodeInvalidRequest = 3
	ProblemCodeTimeoutOccurred = 4
	ProblemCodeEmptyQueue     = 5
)
