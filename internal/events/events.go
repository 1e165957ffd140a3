// Package events fans out activity and chat-streaming events to subscribers
// such as the websocket stream and the interactive CLI.
package events

import (
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	SessionStart     Type = "session_start"
	SessionEnd       Type = "session_end"
	ToolCall         Type = "tool_call"
	AutoExecuted     Type = "auto_executed"
	ApprovalCreated  Type = "approval_created"
	ApprovalResolved Type = "approval_resolved"
	Notification     Type = "notification"
	ChatChunk        Type = "chat_chunk"
	ChatToolCall     Type = "chat_tool_call"
	ChatDone         Type = "chat_done"
	ConfigReloaded   Type = "config_reloaded"
)

// Event is one published occurrence.
type Event struct {
	Type      Type           `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Time      time.Time      `json:"time"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher is implemented by Bus and accepted by producers.
type Publisher interface {
	Publish(e Event)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

const defaultBuffer = 256

// Bus delivers events to every subscriber without blocking the publisher.
// A subscriber that falls behind loses events rather than stalling a session.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	now    func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event), now: time.Now}
}

// Publish sends e to all current subscribers.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	return b.SubscribeBuffered(defaultBuffer)
}

// SubscribeBuffered is Subscribe with an explicit channel size.
func (b *Bus) SubscribeBuffered(size int) (<-chan Event, func()) {
	ch := make(chan Event, size)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Func adapts a function to Publisher.
type Func func(Event)

func (f Func) Publish(e Event) { f(e) }

// Tee publishes to several publishers in order.
func Tee(ps ...Publisher) Publisher {
	return Func(func(e Event) {
		for _, p := range ps {
			if p != nil {
				p.Publish(e)
			}
		}
	})
}
