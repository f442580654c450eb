// Package hosttask declares the narrow interface the AI Bridge depends on
// to talk to the host editor's AI task engine. The engine itself is out of
// scope (spec.md §1); this package specifies only the contract a real host
// integration must satisfy, plus the shapes the bridge converts to and
// from the wire protocol.
package hosttask

// MessageAction distinguishes a brand-new task message from an update to
// one already seen (a streaming delta superseding an earlier partial).
type MessageAction string

const (
	ActionCreated MessageAction = "created"
	ActionUpdated MessageAction = "updated"
)

// Kind is the top-level discriminator on a TaskMessage: a blocking prompt
// waiting on the user, or a non-blocking utterance.
type Kind string

const (
	KindAsk Kind = "ask"
	KindSay Kind = "say"
)

// Say values the bridge gives special role treatment (spec.md §4.5).
const (
	SayText            = "text"
	SayCompletionResult = "completion_result"
	SayError           = "error"
	SayTool            = "tool"
)

// TaskMessage is one entry in a task's message log. It is read-only to the
// bridge; the host engine is the sole writer.
type TaskMessage struct {
	Ts      int64
	ID      string
	Type    Kind
	Ask     string
	Say     string
	Text    string
	Partial bool
}

// MessageEvent is delivered to a task's subscribers whenever a message is
// created or updated.
type MessageEvent struct {
	Action  MessageAction
	Message TaskMessage
}

// TaskOptions configures a newly created task.
type TaskOptions struct {
	// ConsecutiveMistakeLimit caps how many consecutive tool-use mistakes
	// the host's anti-runaway heuristic tolerates before aborting a task.
	// Zero means unbounded, matching spec.md §9's policy of trusting the
	// remote client as a driver whose session should not be cut short.
	ConsecutiveMistakeLimit int
}

// WebviewAction identifies which of the two webview-routed operations a
// TriggerSend message maps to.
type WebviewAction string

const (
	ActionTriggerDefault WebviewAction = "trigger_default"
	ActionCancelCurrent  WebviewAction = "cancel_current"
)

// WebviewMessage is what PostMessageToWebview accepts; it carries only the
// action tag the bridge needs, matching the host's postMessageToWebview
// contract referenced in spec.md §6.3.
type WebviewMessage struct {
	Type WebviewAction
}

// Task is one conversation session inside the host's AI engine.
type Task interface {
	// TaskID identifies this task; stable for its lifetime.
	TaskID() string

	// ClineMessages returns the task's full message log in order, as it
	// exists right now. Used by the bridge for replay on first AI message
	// from a newly registered client.
	ClineMessages() []TaskMessage

	// Subscribe registers cb to be called for every created/updated
	// message event on this task. The returned func removes the
	// subscription; it is safe to call more than once.
	Subscribe(cb func(MessageEvent)) (unsubscribe func())

	// HandleWebviewAskResponse answers the task's currently-pending
	// prompt, if any.
	HandleWebviewAskResponse(askResponse, text string, images []string) error

	// PendingAsk reports the task message the engine is currently
	// blocked on, if any. The zero value with ok=false means nothing is
	// pending.
	PendingAsk() (TaskMessage, bool)
}

// Provider is the host editor's handle to its AI task engine: the single
// dependency the Sync Service needs injected at Start.
type Provider interface {
	// OnTaskCreated registers cb to be called for every task the engine
	// creates after this call (the bridge installs a per-task listener on
	// each). Tasks that already exist are not reported; the bridge picks
	// up the current one through CurrentTask. The returned func removes
	// the subscription.
	OnTaskCreated(cb func(Task)) (unsubscribe func())

	// CurrentTask returns the task currently active in the engine, if
	// any.
	CurrentTask() (Task, bool)

	// PostMessageToWebview requests the trigger-default-action or
	// cancel-current-operation side effect.
	PostMessageToWebview(msg WebviewMessage) error

	// CreateTask starts a new task with the given initial user text and
	// images and returns it.
	CreateTask(text string, images []string, options TaskOptions) (Task, error)
}
