package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeClientHandshakeTopLevel(t *testing.T) {
	raw := `{"type":"ClientHandshake","id":"c1","timestamp":1000,"clientType":"visionOS","version":"2.0.0","capabilities":["ask","trigger"]}`
	msg, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.ClientType != "visionOS" || msg.Version != "2.0.0" || len(msg.Capabilities) != 2 {
		t.Fatalf("unexpected normalized handshake: %+v", msg)
	}
}

func TestDecodeClientHandshakeNestedPayload(t *testing.T) {
	raw := `{"type":"ClientHandshake","payload":{"clientType":"visionOS","version":"1.2.3","capabilities":["ask"]}}`
	msg, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.ClientType != "visionOS" || msg.Version != "1.2.3" || len(msg.Capabilities) != 1 {
		t.Fatalf("expected payload-nested fields to normalize, got %+v", msg)
	}
	if msg.ID == "" || msg.Timestamp == 0 {
		t.Fatalf("expected backfilled id/timestamp, got %+v", msg)
	}
}

func TestDecodeClientHandshakeDefaults(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"ClientHandshake"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.ClientType != "visionOS" || msg.Version != "1.0.0" || msg.Capabilities == nil || len(msg.Capabilities) != 0 {
		t.Fatalf("expected spec defaults, got %+v", msg)
	}
}

func TestDecodeAIConversationSnakeCaseSessionID(t *testing.T) {
	raw := `{"type":"AIConversation","payload":{"session_id":"s1","role":"user","content":"hi"}}`
	msg, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p, ok := msg.Payload.(AIConversationPayload)
	if !ok {
		t.Fatalf("expected AIConversationPayload, got %T", msg.Payload)
	}
	if p.SessionID != "s1" {
		t.Fatalf("expected session_id renamed to sessionId, got %+v", p)
	}
}

func TestDecodeAIConversationStreamingExtensionFields(t *testing.T) {
	raw := `{"type":"AIConversation","payload":{"sessionId":"s1","role":"assistant","content":"partial text"},"isStreaming":true,"isFinal":false,"streamId":"stream-1","chunkIndex":3}`
	msg, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.IsStreaming == nil || !*msg.IsStreaming {
		t.Fatalf("expected isStreaming true, got %+v", msg.IsStreaming)
	}
	if msg.IsFinal == nil || *msg.IsFinal {
		t.Fatalf("expected isFinal false, got %+v", msg.IsFinal)
	}
	if msg.StreamID != "stream-1" || msg.ChunkIndex == nil || *msg.ChunkIndex != 3 {
		t.Fatalf("unexpected streaming fields: %+v", msg)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"NotARealType"}`))
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestDecodeValidationTable(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"AIConversation missing content", `{"type":"AIConversation","payload":{"sessionId":"s1","role":"user"}}`, true},
		{"AIConversation invalid role", `{"type":"AIConversation","payload":{"sessionId":"s1","role":"narrator","content":"x"}}`, true},
		{"AIConversation valid", `{"type":"AIConversation","payload":{"sessionId":"s1","role":"user","content":"x"}}`, false},
		{"AskResponse missing askResponse", `{"type":"AskResponse","payload":{"sessionId":"s1"}}`, true},
		{"AskResponse valid", `{"type":"AskResponse","payload":{"sessionId":"s1","askResponse":"yesButtonClicked"}}`, false},
		{"TriggerSend invalid action", `{"type":"TriggerSend","payload":{"sessionId":"s1","action":"pause"}}`, true},
		{"TriggerSend valid", `{"type":"TriggerSend","payload":{"sessionId":"s1","action":"cancel"}}`, false},
		{"Echo missing message", `{"type":"Echo","payload":{}}`, true},
		{"Ping needs nothing", `{"type":"Ping"}`, false},
		{"ConnectionRejected missing reason", `{"type":"ConnectionRejected"}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got none")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestEncodeClientHandshakeIsAlwaysTopLevel(t *testing.T) {
	msg := NewClientHandshakeMessage("id1", "visionOS", "1.0.0", []string{"ask"})
	raw, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal encoded: %v", err)
	}
	if _, hasPayload := out["payload"]; hasPayload {
		t.Fatalf("ClientHandshake must not have a payload key, got %s", raw)
	}
	if out["clientType"] != "visionOS" {
		t.Fatalf("expected top-level clientType, got %s", raw)
	}
}

func TestEncodeConnectionRejectedHasTopLevelReason(t *testing.T) {
	msg := NewConnectionRejectedMessage("id1", "capacity exceeded")
	raw, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var out map[string]interface{}
	json.Unmarshal(raw, &out)
	if out["reason"] != "capacity exceeded" {
		t.Fatalf("expected top-level reason, got %s", raw)
	}
}

func TestEncodeDecodeAIConversationRoundTrip(t *testing.T) {
	partial := true
	msg := NewAIConversationMessage("id1", "s1", RoleAssistant, "hello", map[string]interface{}{"k": "v"}, &partial).
		WithStreaming(true, false, "stream-9", 2)
	raw, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode round-trip: %v", err)
	}
	p := decoded.Payload.(AIConversationPayload)
	if p.SessionID != "s1" || p.Content != "hello" || decoded.StreamID != "stream-9" {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestClassificationHelpers(t *testing.T) {
	if !IsSystemMessage(TypePing) || !IsSystemMessage(TypeEcho) || IsSystemMessage(TypeAIConversation) {
		t.Fatal("IsSystemMessage misclassified")
	}
	if !IsConnectionMessage(TypeClientHandshake) || IsConnectionMessage(TypePing) {
		t.Fatal("IsConnectionMessage misclassified")
	}
	if !IsAIMessage(TypeTriggerSend) || IsAIMessage(TypePong) {
		t.Fatal("IsAIMessage misclassified")
	}
}
