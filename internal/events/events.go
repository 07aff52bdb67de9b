// Package events provides the live event bus bosun components publish to
// and the stream served over WebSocket.
package events

import (
	"sync"
	"time"
)

// GlobalTaskID subscribes to events for all tasks.
const GlobalTaskID = "*"

// Type defines the kind of event.
type Type string

const (
	// TypeTask mirrors a task store event (created, status change, attempt
	// lifecycle, archive).
	TypeTask Type = "task"
	// TypeSweep carries a maintenance sweep summary.
	TypeSweep Type = "sweep"
	// TypeSync carries a kanban sync result.
	TypeSync Type = "sync"
	// TypeExecutor carries executor pool changes (cooldown, disable).
	TypeExecutor Type = "executor"
	// TypeWarning carries a non-fatal warning.
	TypeWarning Type = "warning"
)

// Event is a published event.
type Event struct {
	Type   Type      `json:"type"`
	TaskID string    `json:"task_id,omitempty"`
	Data   any       `json:"data,omitempty"`
	Time   time.Time `json:"time"`
}

// New creates an event stamped with the current time.
func New(t Type, taskID string, data any) Event {
	return Event{Type: t, TaskID: taskID, Data: data, Time: time.Now()}
}

// Publisher is the event publishing interface.
type Publisher interface {
	// Publish delivers an event to subscribers of its task and to global
	// subscribers.
	Publish(event Event)
	// Subscribe returns a channel of events for one task, or for all tasks
	// with GlobalTaskID.
	Subscribe(taskID string) <-chan Event
	// Unsubscribe removes and closes a subscription channel.
	Unsubscribe(taskID string, ch <-chan Event)
	// Close shuts down the publisher and all subscriptions.
	Close()
}

// MemoryPublisher is an in-memory Publisher. Delivery is non-blocking: a
// subscriber that stops draining loses events rather than stalling the
// supervisor.
type MemoryPublisher struct {
	mu     sync.RWMutex
	subs   map[string][]chan Event
	buffer int
	closed bool
}

// NewMemoryPublisher creates a publisher with the given per-subscriber
// buffer; buffer <= 0 uses 100.
func NewMemoryPublisher(buffer int) *MemoryPublisher {
	if buffer <= 0 {
		buffer = 100
	}
	return &MemoryPublisher{subs: make(map[string][]chan Event), buffer: buffer}
}

// Publish delivers the event to task and global subscribers.
func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	deliver := func(chans []chan Event) {
		for _, ch := range chans {
			select {
			case ch <- event:
			default:
			}
		}
	}
	deliver(p.subs[event.TaskID])
	if event.TaskID != GlobalTaskID {
		deliver(p.subs[GlobalTaskID])
	}
}

// Subscribe returns a channel receiving events for taskID.
func (p *MemoryPublisher) Subscribe(taskID string) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	ch := make(chan Event, p.buffer)
	p.subs[taskID] = append(p.subs[taskID], ch)
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (p *MemoryPublisher) Unsubscribe(taskID string, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := p.subs[taskID]
	for i, sub := range subs {
		if sub == ch {
			p.subs[taskID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(p.subs[taskID]) == 0 {
		delete(p.subs, taskID)
	}
}

// Close shuts down the publisher and closes all subscription channels.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, subs := range p.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(p.subs, id)
	}
}
