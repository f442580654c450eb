package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/syncbridge/host/internal/bridgeerrors"
)

// Decode parses a raw wire frame into a Message, normalizing the
// ClientHandshake dual-format and the AIConversation session_id spelling,
// back-filling timestamp/id when absent, and validating the result against
// the per-type required-field table in spec.md §4.2.
//
// A non-nil error is always a *bridgeerrors.CodedError with code
// protocol.invalid_message or protocol.unknown_type; callers report it as
// an ERROR event and keep the connection open.
func Decode(data []byte) (Message, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return Message{}, bridgeerrors.Wrap(bridgeerrors.CodeProtocolInvalidMessage, "not a JSON object", err)
	}

	typ, err := stringField(top, "type")
	if err != nil || typ == "" {
		return Message{}, bridgeerrors.New(bridgeerrors.CodeProtocolInvalidMessage, "missing \"type\"")
	}
	mt := MessageType(typ)
	if !IsKnownType(mt) {
		return Message{}, bridgeerrors.New(bridgeerrors.CodeProtocolUnknownType, fmt.Sprintf("unknown type %q", typ))
	}

	msg := Message{Type: mt}

	if ts, err := int64Field(top, "timestamp"); err == nil && ts != 0 {
		msg.Timestamp = ts
	} else {
		msg.Timestamp = time.Now().UnixMilli()
	}
	if id, err := stringField(top, "id"); err == nil && id != "" {
		msg.ID = id
	} else {
		msg.ID = uuid.New().String()
	}

	payload, err := mapField(top, "payload")
	if err != nil {
		return Message{}, bridgeerrors.Wrap(bridgeerrors.CodeProtocolInvalidMessage, "payload is not an object", err)
	}

	switch mt {
	case TypeClientHandshake:
		if err := decodeClientHandshake(top, payload, &msg); err != nil {
			return Message{}, err
		}
	case TypeConnectionRejected:
		reason, _ := stringField(top, "reason")
		if reason == "" {
			return Message{}, bridgeerrors.New(bridgeerrors.CodeProtocolInvalidMessage, "ConnectionRejected requires \"reason\"")
		}
		msg.Reason = reason
	case TypeConnectionAccepted:
		var p ConnectionAcceptedPayload
		if err := decodePayload(payload, &p); err != nil {
			return Message{}, err
		}
		if p.ConnectionID == "" {
			return Message{}, bridgeerrors.New(bridgeerrors.CodeProtocolInvalidMessage, "ConnectionAccepted requires payload.connectionId")
		}
		msg.Payload = p
	case TypeAIConversation:
		if sid, ok := payload["session_id"]; ok {
			if _, exists := payload["sessionId"]; !exists {
				payload["sessionId"] = sid
			}
			delete(payload, "session_id")
		}
		var p AIConversationPayload
		if err := decodePayload(payload, &p); err != nil {
			return Message{}, err
		}
		if p.SessionID == "" || p.Content == "" || !validRole(p.Role) {
			return Message{}, bridgeerrors.New(bridgeerrors.CodeProtocolInvalidMessage,
				"AIConversation requires payload.sessionId, payload.role (user|assistant|system), payload.content")
		}
		msg.Payload = p
		if b, err := boolField(top, "isStreaming"); err == nil {
			msg.IsStreaming = b
		}
		if b, err := boolField(top, "isFinal"); err == nil {
			msg.IsFinal = b
		}
		if sid, err := stringField(top, "streamId"); err == nil {
			msg.StreamID = sid
		}
		if ci, err := int64Field(top, "chunkIndex"); err == nil {
			v := int(ci)
			msg.ChunkIndex = &v
		}
	case TypeAskResponse:
		var p AskResponsePayload
		if err := decodePayload(payload, &p); err != nil {
			return Message{}, err
		}
		if p.SessionID == "" || !validAskResponse(p.AskResponse) {
			return Message{}, bridgeerrors.New(bridgeerrors.CodeProtocolInvalidMessage,
				"AskResponse requires payload.sessionId and a valid payload.askResponse")
		}
		msg.Payload = p
	case TypeTriggerSend:
		var p TriggerSendPayload
		if err := decodePayload(payload, &p); err != nil {
			return Message{}, err
		}
		if p.SessionID == "" || !validAction(p.Action) {
			return Message{}, bridgeerrors.New(bridgeerrors.CodeProtocolInvalidMessage,
				"TriggerSend requires payload.sessionId and payload.action (send|cancel)")
		}
		msg.Payload = p
	case TypeEcho:
		var p EchoPayload
		if err := decodePayload(payload, &p); err != nil {
			return Message{}, err
		}
		if p.Message == "" {
			return Message{}, bridgeerrors.New(bridgeerrors.CodeProtocolInvalidMessage, "Echo requires payload.message")
		}
		msg.Payload = p
	case TypePing, TypePong:
		// no payload, nothing further to validate
	}

	return msg, nil
}

// decodeClientHandshake normalizes the dual-format handshake: clientType,
// version, and capabilities may arrive top-level or nested under payload.
// Top-level wins when both are present. Missing fields take the spec.md
// §4.2 defaults rather than failing validation.
func decodeClientHandshake(top map[string]json.RawMessage, payload map[string]interface{}, msg *Message) error {
	clientType, _ := stringField(top, "clientType")
	version, _ := stringField(top, "version")
	caps, capsErr := stringSliceField(top, "capabilities")

	if clientType == "" {
		if v, ok := payload["clientType"].(string); ok {
			clientType = v
		}
	}
	if version == "" {
		if v, ok := payload["version"].(string); ok {
			version = v
		}
	}
	if len(caps) == 0 && capsErr == nil {
		if raw, ok := payload["capabilities"]; ok {
			if list, ok := raw.([]interface{}); ok {
				for _, item := range list {
					if s, ok := item.(string); ok {
						caps = append(caps, s)
					}
				}
			} else {
				return bridgeerrors.New(bridgeerrors.CodeProtocolInvalidMessage, "capabilities must be an array of strings")
			}
		}
	}

	if clientType == "" {
		clientType = "visionOS"
	}
	if version == "" {
		version = "1.0.0"
	}
	if caps == nil {
		caps = []string{}
	}

	msg.ClientType = clientType
	msg.Version = version
	msg.Capabilities = caps
	return nil
}

func validRole(r string) bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

func validAskResponse(r string) bool {
	switch r {
	case AskYesButtonClicked, AskNoButtonClicked, AskMessageResponse, AskObjectResponse:
		return true
	default:
		return false
	}
}

func validAction(a string) bool {
	return a == ActionSend || a == ActionCancel
}

func decodePayload(payload map[string]interface{}, dst interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return bridgeerrors.Wrap(bridgeerrors.CodeProtocolInvalidMessage, "payload is not serializable", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return bridgeerrors.Wrap(bridgeerrors.CodeProtocolInvalidMessage, "payload does not match expected shape", err)
	}
	return nil
}

func stringField(top map[string]json.RawMessage, key string) (string, error) {
	raw, ok := top[key]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

func int64Field(top map[string]json.RawMessage, key string) (int64, error) {
	raw, ok := top[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func boolField(top map[string]json.RawMessage, key string) (*bool, error) {
	raw, ok := top[key]
	if !ok {
		return nil, fmt.Errorf("missing %s", key)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func stringSliceField(top map[string]json.RawMessage, key string) ([]string, error) {
	raw, ok := top[key]
	if !ok {
		return nil, nil
	}
	var s []string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func mapField(top map[string]json.RawMessage, key string) (map[string]interface{}, error) {
	raw, ok := top[key]
	if !ok {
		return map[string]interface{}{}, nil
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode renders a Message back to its wire form, putting each field where
// spec.md §4.2/§6.2 says it belongs: ClientHandshake fields top-level,
// ConnectionRejected's reason top-level, everything else nested under
// "payload", and AIConversation's streaming fields top-level alongside the
// base envelope.
func Encode(msg Message) ([]byte, error) {
	out := map[string]interface{}{
		"type":      string(msg.Type),
		"timestamp": msg.Timestamp,
		"id":        msg.ID,
	}

	switch msg.Type {
	case TypeClientHandshake:
		out["clientType"] = msg.ClientType
		out["version"] = msg.Version
		caps := msg.Capabilities
		if caps == nil {
			caps = []string{}
		}
		out["capabilities"] = caps
	case TypeConnectionRejected:
		out["reason"] = msg.Reason
	case TypePing, TypePong:
		// envelope only
	default:
		if msg.Payload != nil {
			out["payload"] = msg.Payload
		}
		if msg.Type == TypeAIConversation {
			if msg.IsStreaming != nil {
				out["isStreaming"] = *msg.IsStreaming
			}
			if msg.IsFinal != nil {
				out["isFinal"] = *msg.IsFinal
			}
			if msg.StreamID != "" {
				out["streamId"] = msg.StreamID
			}
			if msg.ChunkIndex != nil {
				out["chunkIndex"] = *msg.ChunkIndex
			}
		}
	}

	return json.Marshal(out)
}
