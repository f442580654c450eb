package protocol

import "time"

// newEnvelope stamps the base fields every outbound message carries. id is
// supplied by the caller (connection server/bridge generate it via
// uuid.New()) so constructors stay dependency-free and easy to test.
func newEnvelope(t MessageType, id string) Message {
	return Message{Type: t, Timestamp: time.Now().UnixMilli(), ID: id}
}

// NewClientHandshakeMessage builds a ClientHandshake message. The host
// itself never sends this (only remote clients do), but the constructor is
// kept alongside the others so the Test Harness can synthesize one without
// hand-building the envelope.
func NewClientHandshakeMessage(id, clientType, version string, capabilities []string) Message {
	m := newEnvelope(TypeClientHandshake, id)
	m.ClientType = clientType
	m.Version = version
	if capabilities == nil {
		capabilities = []string{}
	}
	m.Capabilities = capabilities
	return m
}

// NewConnectionAcceptedMessage builds the host's handshake acknowledgment.
func NewConnectionAcceptedMessage(id, connectionID string, info ServerInfo) Message {
	m := newEnvelope(TypeConnectionAccepted, id)
	m.Payload = ConnectionAcceptedPayload{ConnectionID: connectionID, ServerInfo: info}
	return m
}

// NewConnectionRejectedMessage builds the host's handshake refusal, sent
// just before the socket is closed with code 1013.
func NewConnectionRejectedMessage(id, reason string) Message {
	m := newEnvelope(TypeConnectionRejected, id)
	m.Reason = reason
	return m
}

// NewAIConversationMessage builds an AIConversation message. The streaming
// extension fields (isStreaming, isFinal, streamId, chunkIndex) are left
// unset, so all four are omitted from the wire form; attach them with
// WithStreaming.
func NewAIConversationMessage(id, sessionID, role, content string, metadata map[string]interface{}, partial *bool) Message {
	m := newEnvelope(TypeAIConversation, id)
	m.Payload = AIConversationPayload{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		Partial:   partial,
	}
	return m
}

// WithStreaming attaches the streaming extension fields to an
// AIConversation message built by NewAIConversationMessage.
func (m Message) WithStreaming(streaming, final bool, streamID string, chunkIndex int) Message {
	m.IsStreaming = &streaming
	m.IsFinal = &final
	m.StreamID = streamID
	m.ChunkIndex = &chunkIndex
	return m
}

// NewAskResponseMessage builds an AskResponse message.
func NewAskResponseMessage(id, sessionID, askResponse, text string, images []string) Message {
	m := newEnvelope(TypeAskResponse, id)
	m.Payload = AskResponsePayload{
		SessionID:   sessionID,
		AskResponse: askResponse,
		Text:        text,
		Images:      images,
	}
	return m
}

// NewTriggerSendMessage builds a TriggerSend message.
func NewTriggerSendMessage(id, sessionID, action string) Message {
	m := newEnvelope(TypeTriggerSend, id)
	m.Payload = TriggerSendPayload{SessionID: sessionID, Action: action}
	return m
}

// NewPingMessage builds a heartbeat Ping.
func NewPingMessage(id string) Message {
	return newEnvelope(TypePing, id)
}

// NewPongMessage builds a heartbeat Pong, replying to a Ping.
func NewPongMessage(id string) Message {
	return newEnvelope(TypePong, id)
}

// NewEchoMessage builds an Echo message.
func NewEchoMessage(id, text string) Message {
	m := newEnvelope(TypeEcho, id)
	m.Payload = EchoPayload{Message: text}
	return m
}
