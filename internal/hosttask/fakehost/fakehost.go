// Package fakehost implements an in-process fake of the hosttask.Provider
// contract for use by the Test Harness. It lets tests drive task creation,
// message streaming, and ask/cancel calls without a real host editor.
package fakehost

import (
	"fmt"
	"sync"

	"github.com/syncbridge/host/internal/hosttask"
)

// Provider is a scriptable hosttask.Provider. Zero value is usable; tests
// create one with New and then call CreateTask / Task.Emit to drive it.
type Provider struct {
	mu           sync.Mutex
	tasks        map[string]*Task
	current      *Task
	taskCreated  []func(hosttask.Task)
	nextID       int
	webviewCalls []hosttask.WebviewMessage
}

// New returns an empty fake provider with no current task.
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

func (p *Provider) PostMessageToWebview(msg hosttask.WebviewMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.webviewCalls = append(p.webviewCalls, msg)
	return nil
}

// CreateTask creates and installs a new task as current, then notifies every
// OnTaskCreated subscriber, mirroring the order a real host engine fires
// TaskCreated: subscribers observe the task only after it's addressable.
func (p *Provider) CreateTask(text string, images []string, options hosttask.TaskOptions) (hosttask.Task, error) {
	p.mu.Lock()
	p.nextID++
	if p.tasks == nil {
		p.tasks = map[string]*Task{}
	}
	id := fmt.Sprintf("task-%d", p.nextID)
	t := newTask(id)
	p.tasks[id] = t
	p.current = t
	subs := append([]func(hosttask.Task){}, p.taskCreated...)
	p.mu.Unlock()

	t.appendLocked(hosttask.TaskMessage{Type: hosttask.KindSay, Say: hosttask.SayText, Text: text})

	for _, cb := range subs {
		if cb != nil {
			cb(t)
		}
	}
	return t, nil
}

// WebviewCalls returns every PostMessageToWebview call observed so far, in
// order. Intended for test assertions.
func (p *Provider) WebviewCalls() []hosttask.WebviewMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]hosttask.WebviewMessage{}, p.webviewCalls...)
}

// Task is a scriptable hosttask.Task.
type Task struct {
	mu           sync.Mutex
	id           string
	messages     []hosttask.TaskMessage
	subscribers  map[int]func(hosttask.MessageEvent)
	nextSub      int
	pending      *hosttask.TaskMessage
	askResponses []askCall
}

type askCall struct {
	AskResponse string
	Text        string
	Images      []string
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

func (t *Task) HandleWebviewAskResponse(askResponse, text string, images []string) error {
	t.mu.Lock()
	t.askResponses = append(t.askResponses, askCall{askResponse, text, images})
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

// AskResponses returns every HandleWebviewAskResponse call observed, in
// order. Intended for test assertions.
func (t *Task) AskResponses() []askCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]askCall{}, t.askResponses...)
}

// Emit appends msg to the task's message log, marks it pending if it's an
// unanswered ask, and notifies every subscriber with the given action.
func (t *Task) Emit(action hosttask.MessageAction, msg hosttask.TaskMessage) {
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
	if msg.Type == hosttask.KindAsk && !msg.Partial {
		m := msg
		t.pending = &m
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

// appendLocked appends msg directly to the log without notifying
// subscribers; used by CreateTask to seed the task's first message before
// any listener has had a chance to subscribe.
func (t *Task) appendLocked(msg hosttask.TaskMessage) {
	t.mu.Lock()
	t.messages = append(t.messages, msg)
	t.mu.Unlock()
}
