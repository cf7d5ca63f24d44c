package events

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/intentions/internal/documents"
)

// Kind enumerates the events delivered to a user's subscribers.
type Kind string

const (
	// KindCollectionChanged reports an acknowledged write to one of the user's collections.
	KindCollectionChanged Kind = "collection-change"
	// KindTierChanged reports a new entitlement tier for the user.
	KindTierChanged Kind = "tier-change"
	// KindSignedOut reports that the user's session ended.
	KindSignedOut Kind = "signed-out"
	// KindHeartbeat keeps idle streams open.
	KindHeartbeat Kind = "heartbeat"
)

// Message is one event addressed to a single user.
type Message struct {
	UserID      string    `json:"-"`
	Kind        Kind      `json:"kind"`
	Collection  string    `json:"collection,omitempty"`
	DocumentIDs []string  `json:"documentIds,omitempty"`
	Tier        string    `json:"tier,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Dispatcher fans events out per user. Stream subscribers receive messages on buffered
// channels and miss messages when they fall behind; listeners are invoked synchronously.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	listeners   map[string]map[int64]func(Message)
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type subscriber struct {
	id     int64
	stream chan Message
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		listeners:   make(map[string]map[int64]func(Message)),
		bufferSize:  16,
		clock:       time.Now,
	}
}

// Subscribe opens a stream for userID that closes its registration when ctx ends.
func (d *Dispatcher) Subscribe(ctx context.Context, userID string) (<-chan Message, func()) {
	if userID == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	entry := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Message, d.bufferSize),
	}
	d.mu.Lock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*subscriber)
	}
	d.subscribers[userID][entry.id] = entry
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if subscribers := d.subscribers[userID]; subscribers != nil {
				delete(subscribers, entry.id)
				if len(subscribers) == 0 {
					delete(d.subscribers, userID)
				}
			}
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return entry.stream, cleanup
}

// Listen registers a callback for userID's events. Callbacks must not block.
func (d *Dispatcher) Listen(userID string, callback func(Message)) func() {
	if userID == "" || callback == nil {
		return func() {}
	}
	id := d.nextSequence()
	d.mu.Lock()
	if _, ok := d.listeners[userID]; !ok {
		d.listeners[userID] = make(map[int64]func(Message))
	}
	d.listeners[userID][id] = callback
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if listeners := d.listeners[userID]; listeners != nil {
			delete(listeners, id)
			if len(listeners) == 0 {
				delete(d.listeners, userID)
			}
		}
	}
}

// Publish delivers message to every listener and stream of its user.
func (d *Dispatcher) Publish(message Message) {
	if message.UserID == "" || message.Kind == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = d.clock().UTC()
	}

	d.mu.RLock()
	streams := make([]*subscriber, 0, len(d.subscribers[message.UserID]))
	for _, entry := range d.subscribers[message.UserID] {
		streams = append(streams, entry)
	}
	callbacks := make([]func(Message), 0, len(d.listeners[message.UserID]))
	for _, callback := range d.listeners[message.UserID] {
		callbacks = append(callbacks, callback)
	}
	d.mu.RUnlock()

	for _, callback := range callbacks {
		callback(message)
	}
	for _, entry := range streams {
		select {
		case entry.stream <- message:
		default:
		}
	}
}

// DocumentChanged publishes acknowledged document writes as collection changes.
func (d *Dispatcher) DocumentChanged(change documents.Change) {
	d.Publish(Message{
		UserID:      change.UserID.String(),
		Kind:        KindCollectionChanged,
		Collection:  change.Collection.String(),
		DocumentIDs: []string{change.DocumentID.String()},
	})
}

// PublishTierChanged announces a new tier for userID.
func (d *Dispatcher) PublishTierChanged(userID, tier string) {
	d.Publish(Message{UserID: userID, Kind: KindTierChanged, Tier: tier})
}

// PublishSignedOut announces the end of userID's session.
func (d *Dispatcher) PublishSignedOut(userID string) {
	d.Publish(Message{UserID: userID, Kind: KindSignedOut})
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}
