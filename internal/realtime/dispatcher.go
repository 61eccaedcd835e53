// Package realtime fans profile changes out to the streams subscribed for a user.
package realtime

import (
	"context"
	"sync"
	"time"
)

const (
	// EventProfileChanged is published whenever a persisted profile row changes.
	EventProfileChanged = "profile-change"
	// EventHeartbeat keeps idle streams alive.
	EventHeartbeat = "heartbeat"

	defaultBufferSize = 16
)

// Message carries the full profile row after a change.
type Message struct {
	UserID    string    `json:"user_id"`
	EventType string    `json:"event"`
	Level     int       `json:"level"`
	XP        int64     `json:"xp"`
	FullName  string    `json:"full_name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher keeps per-user subscriber sets.
// Slow subscribers drop messages instead of blocking publishers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Message
	once   sync.Once
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a stream for userID. The stream closes when ctx ends or cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context, userID string) (<-chan Message, func()) {
	if userID == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{stream: make(chan Message, d.bufferSize)}
	d.register(userID, sub)
	cleanup := func() {
		d.unregister(userID, sub)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers message to every subscriber of message.UserID.
func (d *Dispatcher) Publish(message Message) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subscribers[message.UserID] {
		select {
		case sub.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports how many streams are open for userID.
func (d *Dispatcher) SubscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}

func (d *Dispatcher) register(userID string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	sub.id = d.nextID
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*subscriber)
	}
	d.subscribers[userID][sub.id] = sub
}

func (d *Dispatcher) unregister(userID string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if subscribers := d.subscribers[userID]; subscribers != nil {
		delete(subscribers, sub.id)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	sub.once.Do(func() { close(sub.stream) })
}
