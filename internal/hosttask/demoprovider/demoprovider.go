// Package demoprovider implements a minimal, self-contained hosttask.Provider
// for cmd/syncbridge: a standalone binary has no host editor process to embed
// in, since the in-process provider handle (spec.md §6.3) is something a real
// integration supplies. This provider exists so the binary has something to
// drive the sync protocol against for manual testing and demos: it answers
// every user message with a canned acknowledgment after a short delay.
package demoprovider

import (
	"fmt"
	"sync"
	"time"

	"github.com/syncbridge/host/internal/hosttask"
)

// replyDelay mimics the brief turnaround of a real AI engine so a connected
// client actually observes the partial/final streaming path rather than an
// instantaneous reply.
const replyDelay = 400 * time.Millisecond

// Provider is a Provider that answers every task it creates on its own,
// with no external driving required.
type Provider struct {
	mu          sync.Mutex
	tasks       map[string]*Task
	current     *Task
	taskCreated []func(hosttask.Task)
	nextID      int
}

// New returns a demo provider with no current task.
func New() *Provider {
	return &Provider{tasks: map[string]*Task{}}
}

func (p *Provider) OnTaskCreated(cb func(hosttask.Task)) func() {
	p.mu.Lock()
	p.taskCreated = append(p.taskCreated, cb)
	idx := len(p.taskCreated) - 1
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if idx < len(p.taskCreated) {
			p.taskCreated[idx] = nil
		}
	}
}

func (p *Provider) CurrentTask() (hosttask.Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, false
	}
	return p.current, true
}

// PostMessageToWebview has nothing to forward to; it only exists to satisfy
// the Provider contract.
func (p *Provider) PostMessageToWebview(msg hosttask.WebviewMessage) error {
	return nil
}

// CreateTask starts a new task and schedules its canned reply.
func (p *Provider) CreateTask(text string, images []string, options hosttask.TaskOptions) (hosttask.Task, error) {
	p.mu.Lock()
	p.nextID++
	id := fmt.Sprintf("demo-task-%d", p.nextID)
	t := newTask(id)
	p.tasks[id] = t
	p.current = t
	subs := append([]func(hosttask.Task){}, p.taskCreated...)
	p.mu.Unlock()

	t.emit(hosttask.ActionCreated, hosttask.TaskMessage{Type: hosttask.KindSay, Say: hosttask.SayText, Text: text})

	for _, cb := range subs {
		if cb != nil {
			cb(t)
		}
	}

	go t.reply(text)
	return t, nil
}

// Task is a demo-driven Task: it talks only to itself, via Provider.CreateTask
// and its own reply goroutine.
type Task struct {
	mu          sync.Mutex
	id          string
	messages    []hosttask.TaskMessage
	subscribers map[int]func(hosttask.MessageEvent)
	nextSub     int
	pending     *hosttask.TaskMessage
}

func newTask(id string) *Task {
	return &Task{id: id, subscribers: map[int]func(hosttask.MessageEvent){}}
}

func (t *Task) TaskID() string { return t.id }

func (t *Task) ClineMessages() []hosttask.TaskMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]hosttask.TaskMessage{}, t.messages...)
}

func (t *Task) Subscribe(cb func(hosttask.MessageEvent)) func() {
	t.mu.Lock()
	t.nextSub++
	id := t.nextSub
	t.subscribers[id] = cb
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subscribers, id)
	}
}

// HandleWebviewAskResponse has nothing pending to answer in the demo flow,
// but clears any pending marker defensively.
func (t *Task) HandleWebviewAskResponse(askResponse, text string, images []string) error {
	t.mu.Lock()
	t.pending = nil
	t.mu.Unlock()
	return nil
}

func (t *Task) PendingAsk() (hosttask.TaskMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil {
		return hosttask.TaskMessage{}, false
	}
	return *t.pending, true
}

// emit appends msg to the task's message log, replacing the existing entry
// in place when action updates a previously-seen message id (mirroring
// fakehost.Task.Emit), and notifies every subscriber.
func (t *Task) emit(action hosttask.MessageAction, msg hosttask.TaskMessage) {
	t.mu.Lock()
	if action == hosttask.ActionCreated {
		t.messages = append(t.messages, msg)
	} else {
		replaced := false
		for i, existing := range t.messages {
			if existing.ID != "" && existing.ID == msg.ID {
				t.messages[i] = msg
				replaced = true
				break
			}
		}
		if !replaced {
			t.messages = append(t.messages, msg)
		}
	}
	subs := make([]func(hosttask.MessageEvent), 0, len(t.subscribers))
	for _, cb := range t.subscribers {
		subs = append(subs, cb)
	}
	t.mu.Unlock()

	ev := hosttask.MessageEvent{Action: action, Message: msg}
	for _, cb := range subs {
		cb(ev)
	}
}

// reply streams a canned acknowledgment as a partial message followed by a
// final one, exercising the streaming delta path end to end.
func (t *Task) reply(originalText string) {
	time.Sleep(replyDelay)
	id := fmt.Sprintf("%s-reply", t.id)
	partial := fmt.Sprintf("Received: %q", originalText)
	t.emit(hosttask.ActionCreated, hosttask.TaskMessage{ID: id, Type: hosttask.KindSay, Say: hosttask.SayText, Text: partial, Partial: true})

	time.Sleep(replyDelay)
	final := partial + " (demo provider has no real AI engine wired in)"
	t.emit(hosttask.ActionUpdated, hosttask.TaskMessage{ID: id, Type: hosttask.KindSay, Say: hosttask.SayText, Text: final})
}
