// Package protocol defines the sync bridge wire protocol: the closed set of
// message types exchanged between a remote spatial client and the host, the
// envelope every message shares, and the per-type payload shapes.
//
// Encoding and validation live in codec.go; this file only declares the
// types so that other packages (wsserver, bridge, syncservice) can build and
// inspect messages without importing the codec's parsing internals.
package protocol

// MessageType identifies the kind of message on the wire. This is a closed
// enum — every value not listed here is rejected by the codec.
type MessageType string

const (
	TypeClientHandshake    MessageType = "ClientHandshake"
	TypeConnectionAccepted MessageType = "ConnectionAccepted"
	TypeConnectionRejected MessageType = "ConnectionRejected"
	TypeAIConversation     MessageType = "AIConversation"
	TypeAskResponse        MessageType = "AskResponse"
	TypeTriggerSend        MessageType = "TriggerSend"
	TypePing               MessageType = "Ping"
	TypePong               MessageType = "Pong"
	TypeEcho               MessageType = "Echo"
)

// knownTypes is used by the codec to reject unrecognized type strings.
var knownTypes = map[MessageType]bool{
	TypeClientHandshake:    true,
	TypeConnectionAccepted: true,
	TypeConnectionRejected: true,
	TypeAIConversation:     true,
	TypeAskResponse:        true,
	TypeTriggerSend:        true,
	TypePing:               true,
	TypePong:               true,
	TypeEcho:               true,
}

// IsKnownType reports whether t is one of the closed set of wire types.
func IsKnownType(t MessageType) bool {
	return knownTypes[t]
}

// IsSystemMessage reports whether t is a connection-liveness message that
// carries no business data (Ping, Pong, Echo). These are excluded from
// MESSAGE_SENT telemetry so heartbeat traffic doesn't drown out real events.
func IsSystemMessage(t MessageType) bool {
	switch t {
	case TypePing, TypePong, TypeEcho:
		return true
	default:
		return false
	}
}

// IsConnectionMessage reports whether t belongs to the handshake family.
func IsConnectionMessage(t MessageType) bool {
	switch t {
	case TypeClientHandshake, TypeConnectionAccepted, TypeConnectionRejected:
		return true
	default:
		return false
	}
}

// IsAIMessage reports whether t is one of the three AI-typed messages that
// the orchestrator routes to the AI Bridge rather than handling itself.
func IsAIMessage(t MessageType) bool {
	switch t {
	case TypeAIConversation, TypeAskResponse, TypeTriggerSend:
		return true
	default:
		return false
	}
}

// Message is the envelope every wire message shares: type, millisecond
// timestamp, and an id. The remaining fields are populated depending on
// Type; Encode/Decode (codec.go) know which fields belong to which type,
// and Encode omits the rest so the JSON on the wire matches spec.md §6.2 exactly.
type Message struct {
	Type      MessageType
	Timestamp int64
	ID        string

	// Reason is set only on ConnectionRejected.
	Reason string

	// ClientType, Version, Capabilities are set only on ClientHandshake.
	// Per spec.md §4.2 these are always emitted top-level on outbound
	// messages, never nested under payload.
	ClientType   string
	Version      string
	Capabilities []string

	// Payload carries the message-specific struct for every type that puts
	// its data under a "payload" key on the wire (everything except
	// ClientHandshake, ConnectionRejected, Ping, and Pong).
	Payload interface{}

	// Streaming extension fields, meaningful only on AIConversation.
	// These are documented in spec.md §4.5 as fields beyond the declared
	// payload schema that clients are expected to tolerate.
	IsStreaming *bool
	IsFinal     *bool
	StreamID    string
	ChunkIndex  *int
}

// ServerInfo describes the host inside a ConnectionAccepted payload.
type ServerInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Platform     string   `json:"platform"`
	Capabilities []string `json:"capabilities"`
}

// ConnectionAcceptedPayload is the payload of a ConnectionAccepted message.
type ConnectionAcceptedPayload struct {
	ConnectionID string     `json:"connectionId"`
	ServerInfo   ServerInfo `json:"serverInfo"`
}

// AIConversationPayload is the payload of an AIConversation message.
type AIConversationPayload struct {
	SessionID string                 `json:"sessionId"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Partial   *bool                  `json:"partial,omitempty"`
}

// Role values accepted for AIConversationPayload.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// AskResponsePayload is the payload of an AskResponse message.
type AskResponsePayload struct {
	SessionID   string   `json:"sessionId"`
	AskResponse string   `json:"askResponse"`
	Text        string   `json:"text,omitempty"`
	Images      []string `json:"images,omitempty"`
}

// AskResponse values accepted for AskResponsePayload.AskResponse.
const (
	AskYesButtonClicked = "yesButtonClicked"
	AskNoButtonClicked  = "noButtonClicked"
	AskMessageResponse  = "messageResponse"
	AskObjectResponse   = "objectResponse"
)

// TriggerSendPayload is the payload of a TriggerSend message.
type TriggerSendPayload struct {
	SessionID string `json:"sessionId"`
	Action    string `json:"action"`
}

// Trigger action values accepted for TriggerSendPayload.Action.
const (
	ActionSend   = "send"
	ActionCancel = "cancel"
)

// EchoPayload is the payload of an Echo message.
type EchoPayload struct {
	Message string `json:"message"`
}
