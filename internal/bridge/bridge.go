// Package bridge implements the AI Bridge: the adapter between the host's
// AI task engine and the sync protocol. It converts task message events to
// wire AIConversation messages for broadcast, and executes inbound
// AI-typed wire commands against the host task.
//
// Grounded on the teacher's stream_mappers.go / card_streamer.go
// host-event-to-wire-message conversion idiom and approval.go's
// request/response shape, generalized to spec.md §4.5's create-or-continue
// and ask/trigger semantics.
package bridge

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/syncbridge/host/internal/bridgeerrors"
	"github.com/syncbridge/host/internal/hosttask"
	"github.com/syncbridge/host/internal/protocol"
)

// CurrentSessionFallback is the literal session id used when no client has
// yet declared one. Preserved per spec.md §9 as a compatibility fallback.
const CurrentSessionFallback = "current-session"

// OutboundEvent is what Subscribe delivers: a wire message targeted at one
// connection. The orchestrator forwards it through the Connection Server.
type OutboundEvent struct {
	ConnectionID string
	Message      protocol.Message
}

type clientRecord struct {
	ConnectionID       string
	SessionID          string
	CurrentTaskID      string
	SyncedMessageCount int

	// Replaying and Pending implement spec.md §8 property 6: while a
	// client's snapshot replay is in flight, live task-message conversions
	// that would otherwise race it are buffered here instead of emitted,
	// then drained in arrival order once replay completes.
	Replaying bool
	Pending   []protocol.Message
}

type taskSubscription struct {
	task        hosttask.Task
	unsubscribe func()
}

// Bridge owns the two-directional conversion between host task events and
// the wire protocol.
type Bridge struct {
	provider hosttask.Provider

	mu           sync.Mutex
	clients      map[string]*clientRecord
	clientOrder  []string
	tasks        map[string]*taskSubscription
	unsubCreated func()

	subMu       sync.Mutex
	subscribers map[int]func(OutboundEvent)
	nextSub     int
}

// New creates a Bridge bound to the given host provider. Call Start to
// begin listening for task creation.
func New(provider hosttask.Provider) *Bridge {
	return &Bridge{
		provider:    provider,
		clients:     map[string]*clientRecord{},
		tasks:       map[string]*taskSubscription{},
		subscribers: map[int]func(OutboundEvent){},
	}
}

// Start subscribes to the host's TaskCreated event and installs a listener
// on the current task, if one already exists.
func (b *Bridge) Start() {
	b.unsubCreated = b.provider.OnTaskCreated(func(t hosttask.Task) {
		b.installTaskListener(t)
	})
	if current, ok := b.provider.CurrentTask(); ok {
		b.installTaskListener(current)
	}
}

// Stop clears every table and removes every subscription. Best-effort per
// spec.md §4.5: task teardown notifications aren't relied on, only our own
// bookkeeping is cleared.
func (b *Bridge) Stop() {
	if b.unsubCreated != nil {
		b.unsubCreated()
	}

	b.mu.Lock()
	for _, sub := range b.tasks {
		sub.unsubscribe()
	}
	b.tasks = map[string]*taskSubscription{}
	b.clients = map[string]*clientRecord{}
	b.clientOrder = nil
	b.mu.Unlock()
}

// Subscribe registers cb for every outbound event the bridge produces,
// live conversions and replay alike. The returned func removes cb.
func (b *Bridge) Subscribe(cb func(OutboundEvent)) func() {
	b.subMu.Lock()
	b.nextSub++
	id := b.nextSub
	b.subscribers[id] = cb
	b.subMu.Unlock()

	return func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		delete(b.subscribers, id)
	}
}

func (b *Bridge) emit(connectionID string, msg protocol.Message) {
	b.subMu.Lock()
	cbs := make([]func(OutboundEvent), 0, len(b.subscribers))
	for _, cb := range b.subscribers {
		cbs = append(cbs, cb)
	}
	b.subMu.Unlock()

	ev := OutboundEvent{ConnectionID: connectionID, Message: msg}
	for _, cb := range cbs {
		cb(ev)
	}
}

func (b *Bridge) installTaskListener(t hosttask.Task) {
	b.mu.Lock()
	if _, exists := b.tasks[t.TaskID()]; exists {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	unsubscribe := t.Subscribe(func(ev hosttask.MessageEvent) {
		b.onTaskMessage(t.TaskID(), ev)
	})

	b.mu.Lock()
	b.tasks[t.TaskID()] = &taskSubscription{task: t, unsubscribe: unsubscribe}
	b.mu.Unlock()
}

func (b *Bridge) onTaskMessage(taskID string, ev hosttask.MessageEvent) {
	msg, ok := b.convert(taskID, ev.Message)
	if !ok {
		return
	}

	b.mu.Lock()
	targets := append([]string{}, b.clientOrder...)
	var ready []string
	for _, connID := range targets {
		c, exists := b.clients[connID]
		if !exists {
			continue
		}
		if c.Replaying {
			// Buffer instead of emitting: this client's replay snapshot
			// hasn't finished yet, and spec.md §8 property 6 requires the
			// snapshot to be fully delivered before any live update.
			c.Pending = append(c.Pending, msg)
			continue
		}
		ready = append(ready, connID)
	}
	b.mu.Unlock()

	for _, connID := range ready {
		b.emit(connID, msg)
		b.mu.Lock()
		if c, exists := b.clients[connID]; exists {
			c.SyncedMessageCount++
		}
		b.mu.Unlock()
	}
}

// convert maps one host task message to a wire AIConversation message.
// Empty-after-trim content is dropped per spec.md §4.5/§8.
func (b *Bridge) convert(taskID string, msg hosttask.TaskMessage) (protocol.Message, bool) {
	if strings.TrimSpace(msg.Text) == "" {
		return protocol.Message{}, false
	}

	metadata := map[string]interface{}{
		"timestamp":    msg.Ts,
		"messageId":    msg.Ts,
		"source":       "roo-code",
		"originalType": string(msg.Type),
	}
	if msg.Say != "" {
		metadata["sayType"] = msg.Say
	}
	if msg.Ask != "" {
		metadata["askType"] = msg.Ask
	}
	if taskID != "" {
		metadata["taskId"] = taskID
	}

	partial := msg.Partial
	out := protocol.NewAIConversationMessage(
		uuid.New().String(),
		b.preferredSessionID(),
		mapRole(msg),
		msg.Text,
		metadata,
		&partial,
	)

	streamID := msg.ID
	if streamID == "" {
		streamID = out.ID
	}
	isStreaming := msg.Partial
	out = out.WithStreaming(isStreaming, !isStreaming, streamID, 0)
	return out, true
}

func mapRole(msg hosttask.TaskMessage) string {
	if msg.Type == hosttask.KindAsk {
		return protocol.RoleUser
	}
	switch msg.Say {
	case hosttask.SayText, hosttask.SayCompletionResult:
		return protocol.RoleAssistant
	case hosttask.SayError, hosttask.SayTool:
		return protocol.RoleSystem
	default:
		return protocol.RoleAssistant
	}
}

// preferredSessionID returns the first registered client's last-known
// session id, in registration order, or the current-session fallback if
// none has declared one yet. spec.md §9: "any registered client's
// sessionId will do".
func (b *Bridge) preferredSessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.clientOrder {
		if c, ok := b.clients[id]; ok && c.SessionID != "" {
			return c.SessionID
		}
	}
	return CurrentSessionFallback
}

// RegisterClient creates a Client record for connectionID if one doesn't
// already exist, then replays the current task's full message log to it.
// It is idempotent: calling it again for an already-registered connection
// does nothing. Returns true if this call performed the registration.
func (b *Bridge) RegisterClient(connectionID string) bool {
	b.mu.Lock()
	if _, exists := b.clients[connectionID]; exists {
		b.mu.Unlock()
		return false
	}
	rec := &clientRecord{ConnectionID: connectionID, Replaying: true}
	b.clients[connectionID] = rec
	b.clientOrder = append(b.clientOrder, connectionID)
	b.mu.Unlock()

	b.replay(connectionID, rec)
	return true
}

// replay delivers the current task's full message log to connectionID, then
// drains any live task-message conversions onTaskMessage buffered on rec
// while the snapshot was in flight, before marking the client ready for
// direct future delivery. The empty-check and the Replaying flip happen
// under the same lock hold so no event can be appended to rec.Pending in
// the gap between "pending is empty" and "client is no longer replaying".
func (b *Bridge) replay(connectionID string, rec *clientRecord) {
	if current, ok := b.provider.CurrentTask(); ok {
		for _, m := range current.ClineMessages() {
			msg, ok := b.convert(current.TaskID(), m)
			if !ok {
				continue
			}
			b.emit(connectionID, msg)
			b.mu.Lock()
			rec.SyncedMessageCount++
			b.mu.Unlock()
		}
	}

	for {
		b.mu.Lock()
		if len(rec.Pending) == 0 {
			rec.Replaying = false
			b.mu.Unlock()
			return
		}
		pending := rec.Pending
		rec.Pending = nil
		b.mu.Unlock()

		for _, msg := range pending {
			b.emit(connectionID, msg)
			b.mu.Lock()
			rec.SyncedMessageCount++
			b.mu.Unlock()
		}
	}
}

// UnregisterClient drops the client record for connectionID, called when
// its connection closes.
func (b *Bridge) UnregisterClient(connectionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, connectionID)
	for i, id := range b.clientOrder {
		if id == connectionID {
			b.clientOrder = append(b.clientOrder[:i], b.clientOrder[i+1:]...)
			break
		}
	}
}

// HandleInbound registers connectionID (idempotent) if msg is AI-typed,
// then dispatches it to the matching handler and returns the
// acknowledgment to send back on the originating connection.
func (b *Bridge) HandleInbound(connectionID string, msg protocol.Message) (protocol.Message, bool) {
	if !protocol.IsAIMessage(msg.Type) {
		return protocol.Message{}, false
	}
	b.RegisterClient(connectionID)

	switch msg.Type {
	case protocol.TypeAIConversation:
		p := msg.Payload.(protocol.AIConversationPayload)
		return b.handleAIConversation(connectionID, msg.ID, p), true
	case protocol.TypeAskResponse:
		p := msg.Payload.(protocol.AskResponsePayload)
		return b.handleAskResponse(connectionID, msg.ID, p), true
	case protocol.TypeTriggerSend:
		p := msg.Payload.(protocol.TriggerSendPayload)
		return b.handleTriggerSend(connectionID, msg.ID, p), true
	default:
		return protocol.Message{}, false
	}
}

func (b *Bridge) handleAIConversation(connectionID, msgID string, payload protocol.AIConversationPayload) protocol.Message {
	b.mu.Lock()
	client := b.clients[connectionID]
	client.SessionID = payload.SessionID
	currentTaskID := client.CurrentTaskID
	b.mu.Unlock()

	metadata := map[string]interface{}{"originalMessageId": msgID}
	var content string

	if payload.Role != protocol.RoleUser {
		metadata["type"] = "task_created"
		content = "Message received"
		return protocol.NewAIConversationMessage(uuid.New().String(), payload.SessionID, protocol.RoleAssistant, content, metadata, nil)
	}

	current, hasCurrent := b.provider.CurrentTask()
	var taskID string
	var opErr error

	if hasCurrent && currentTaskID != "" && currentTaskID == current.TaskID() {
		opErr = current.HandleWebviewAskResponse(protocol.AskMessageResponse, payload.Content, []string{})
		taskID = current.TaskID()
	} else {
		t, err := b.provider.CreateTask(payload.Content, []string{}, hosttask.TaskOptions{ConsecutiveMistakeLimit: 0})
		if err != nil {
			opErr = err
		} else {
			taskID = t.TaskID()
			b.mu.Lock()
			client.CurrentTaskID = taskID
			b.mu.Unlock()
		}
	}

	if opErr != nil {
		code, msg := bridgeerrors.ToCodeAndMessage(bridgeerrors.Wrap(bridgeerrors.CodeHostOperationFailed, "failed to process message", opErr))
		metadata["type"] = "error"
		metadata["errorCode"] = code
		content = fmt.Sprintf("Failed to process message: %s", msg)
		log.Printf("bridge: AIConversation handling failed for connection %s: %v", connectionID, opErr)
	} else {
		metadata["type"] = "task_created"
		metadata["taskId"] = taskID
		content = "Message sent"
	}

	return protocol.NewAIConversationMessage(uuid.New().String(), payload.SessionID, protocol.RoleAssistant, content, metadata, nil)
}

func (b *Bridge) handleAskResponse(connectionID, msgID string, payload protocol.AskResponsePayload) protocol.Message {
	b.mu.Lock()
	if client, ok := b.clients[connectionID]; ok {
		client.SessionID = payload.SessionID
	}
	b.mu.Unlock()

	metadata := map[string]interface{}{
		"type":              "ask_response_result",
		"askResponse":       payload.AskResponse,
		"originalMessageId": msgID,
	}
	var content string

	current, hasCurrent := b.provider.CurrentTask()
	if !hasCurrent {
		log.Printf("bridge: AskResponse received from %s with no current task", connectionID)
		metadata["success"] = false
		content = "No active task to respond to"
	} else if err := current.HandleWebviewAskResponse(payload.AskResponse, payload.Text, payload.Images); err != nil {
		code, msg := bridgeerrors.ToCodeAndMessage(bridgeerrors.Wrap(bridgeerrors.CodeHostOperationFailed, "failed to send response", err))
		metadata["type"] = "error"
		metadata["success"] = false
		metadata["errorCode"] = code
		content = fmt.Sprintf("Failed to send response: %s", msg)
		log.Printf("bridge: AskResponse handling failed for connection %s: %v", connectionID, err)
	} else {
		metadata["success"] = true
		content = "Response sent"
	}

	return protocol.NewAIConversationMessage(uuid.New().String(), payload.SessionID, protocol.RoleAssistant, content, metadata, nil)
}

func (b *Bridge) handleTriggerSend(connectionID, msgID string, payload protocol.TriggerSendPayload) protocol.Message {
	var action hosttask.WebviewAction
	var resultType string
	switch payload.Action {
	case protocol.ActionSend:
		action, resultType = hosttask.ActionTriggerDefault, "trigger_result"
	case protocol.ActionCancel:
		action, resultType = hosttask.ActionCancelCurrent, "cancel_result"
	}

	metadata := map[string]interface{}{"type": resultType, "originalMessageId": msgID}
	var content string

	if err := b.provider.PostMessageToWebview(hosttask.WebviewMessage{Type: action}); err != nil {
		code, msg := bridgeerrors.ToCodeAndMessage(bridgeerrors.Wrap(bridgeerrors.CodeHostOperationFailed, "failed to trigger action", err))
		metadata["type"] = "error"
		metadata["success"] = false
		metadata["errorCode"] = code
		content = fmt.Sprintf("Failed to trigger action: %s", msg)
		log.Printf("bridge: TriggerSend handling failed for connection %s: %v", connectionID, err)
	} else {
		metadata["success"] = true
		content = "Action triggered"
	}

	return protocol.NewAIConversationMessage(uuid.New().String(), payload.SessionID, protocol.RoleAssistant, content, metadata, nil)
}
