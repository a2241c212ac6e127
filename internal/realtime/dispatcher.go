package realtime

import (
	"context"
	"sync"
	"time"
)

const (
	// EventSession tells a user that their session or profile changed and must be re-resolved.
	EventSession = "session"
	// EventRecordsChanged tells a user that one of their record sets changed and views should reload.
	EventRecordsChanged = "records-changed"
	// EventHeartbeat keeps idle streams open.
	EventHeartbeat = "heartbeat"

	defaultBufferSize = 16
)

// Topics name the record sets a records-changed event refers to.
const (
	TopicHectares  = "hectares"
	TopicEmissions = "emissions"
	TopicTokens    = "tokens"
	TopicProfiles  = "profiles"
)

// Message is a single event delivered to every stream a user has open.
type Message struct {
	UserID    string
	EventType string
	Topics    []string
	Timestamp time.Time
}

// Publisher delivers messages to subscribed streams.
type Publisher interface {
	Publish(message Message)
}

// Dispatcher fans messages out to per-user subscribers. A subscriber may restrict itself to
// a set of event types. Slow subscribers drop messages rather than block publishers.
type Dispatcher struct {
	mu         sync.RWMutex
	byUser     map[string]map[*subscription]struct{}
	bufferSize int
}

type subscription struct {
	stream     chan Message
	eventTypes map[string]struct{}
	done       chan struct{}
}

func (s *subscription) accepts(eventType string) bool {
	if len(s.eventTypes) == 0 {
		return true
	}
	_, ok := s.eventTypes[eventType]
	return ok
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		byUser:     make(map[string]map[*subscription]struct{}),
		bufferSize: defaultBufferSize,
	}
}

// Subscribe registers a stream for userID that receives the listed event types, or every
// event when none are listed. The stream is released when ctx ends or cleanup is called,
// whichever comes first.
func (d *Dispatcher) Subscribe(ctx context.Context, userID string, eventTypes ...string) (<-chan Message, func()) {
	if userID == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	sub := &subscription{
		stream: make(chan Message, d.bufferSize),
		done:   make(chan struct{}),
	}
	if len(eventTypes) > 0 {
		sub.eventTypes = make(map[string]struct{}, len(eventTypes))
		for _, eventType := range eventTypes {
			sub.eventTypes[eventType] = struct{}{}
		}
	}

	d.mu.Lock()
	if d.byUser[userID] == nil {
		d.byUser[userID] = make(map[*subscription]struct{})
	}
	d.byUser[userID][sub] = struct{}{}
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			if subs := d.byUser[userID]; subs != nil {
				delete(subs, sub)
				if len(subs) == 0 {
					delete(d.byUser, userID)
				}
			}
			d.mu.Unlock()
			close(sub.done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-sub.done:
		}
	}()
	return sub.stream, cleanup
}

// Publish delivers message to every subscriber of its user that accepts its event type.
// Messages without a user or event type are dropped.
func (d *Dispatcher) Publish(message Message) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	targets := make([]*subscription, 0, len(d.byUser[message.UserID]))
	for sub := range d.byUser[message.UserID] {
		if sub.accepts(message.EventType) {
			targets = append(targets, sub)
		}
	}
	d.mu.RUnlock()
	for _, sub := range targets {
		select {
		case sub.stream <- message:
		default:
		}
	}
}

// SubscriberCount returns the number of open streams for userID.
func (d *Dispatcher) SubscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byUser[userID])
}

// NopPublisher discards every message.
type NopPublisher struct{}

func (NopPublisher) Publish(Message) {}
