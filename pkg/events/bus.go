package events

import (
	"sync"
	"time"

	"github.com/kabili207/mesh-chess/pkg/game"
	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/models"
)

type Type string

const (
	TypeChat  Type = "chat"
	TypeGame  Type = "game"
	TypeTrace Type = "trace"
	TypeNode  Type = "node"
)

// Event is a change notification for presentation layers. Only the field
// matching Type is set.
type Event struct {
	Type    Type              `json:"type"`
	Chat    *models.ChatKey   `json:"chat,omitempty"`
	Node    meshtastic.NodeID `json:"node,omitempty"`
	Session *game.Snapshot    `json:"session,omitempty"`
	Time    time.Time         `json:"time"`
}

const subscriberBuffer = 32

// Bus fans events out to subscribers without ever blocking the publisher.
// A subscriber that falls behind loses events.
type Bus struct {
	subscribers map[chan Event]struct{}
	mu          sync.RWMutex
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber
func (b *Bus) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// Subscriber is full, drop
		}
	}
}

func (b *Bus) ChatUpdated(key models.ChatKey) {
	b.Publish(Event{Type: TypeChat, Chat: &key})
}

func (b *Bus) SessionStateChanged(s game.Snapshot) {
	b.Publish(Event{Type: TypeGame, Session: &s})
}

func (b *Bus) TraceUpdated(dest meshtastic.NodeID) {
	b.Publish(Event{Type: TypeTrace, Node: dest})
}

func (b *Bus) NodeUpdated(id meshtastic.NodeID) {
	b.Publish(Event{Type: TypeNode, Node: id})
}
