package chat

import (
	"sync"

	"github.com/zhouzirui/z-counsel/backend/internal/model/chat"
)

// EventType names a change published to session subscribers.
type EventType string

const (
	EventMessageAppended EventType = "message.appended"
	EventMessageUpdated  EventType = "message.updated"
	EventMessageDelta    EventType = "message.delta"
	EventSpeechChanged   EventType = "speech.changed"
)

// Event is a single change notification. Message is set for appended and
// updated events; Delta for streamed partial text; ActiveMessageID for speech.
type Event struct {
	Type            EventType     `json:"type"`
	Message         *chat.Message `json:"message,omitempty"`
	MessageID       string        `json:"messageId,omitempty"`
	Delta           string        `json:"delta,omitempty"`
	ActiveMessageID string        `json:"activeMessageId"`
}

const subscriberBuffer = 64

// Broadcaster fans events out to subscribers. Slow subscribers drop events
// rather than block the publisher.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel func is idempotent.
// After Close the channel is returned already closed.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers ev to every subscriber without blocking.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Count returns the number of live subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close releases all subscribers.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
