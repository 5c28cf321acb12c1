package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/modledger/internal/moderation"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "modledger"
	defaultStreamBuffer    = 16
)

// RealtimeMessage is one ledger event addressed to the subscribers of a community.
type RealtimeMessage struct {
	CommunityID string      `json:"community_id"`
	EventType   string      `json:"type"`
	Payload     interface{} `json:"payload"`
	Source      string      `json:"source"`
	Timestamp   time.Time   `json:"timestamp"`
}

// RealtimeDispatcher fans moderation events out to per-community subscribers. Slow
// subscribers drop messages instead of blocking the publisher.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
	once   sync.Once
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  defaultStreamBuffer,
		clock:       time.Now,
	}
}

// Subscribe registers a stream for communityID until ctx ends or the returned cleanup
// runs. The stream is closed on cleanup.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, communityID string) (<-chan RealtimeMessage, func()) {
	if communityID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(communityID, subscriber)

	done := make(chan struct{})
	var stopOnce sync.Once
	cleanup := func() {
		stopOnce.Do(func() {
			close(done)
			d.unregisterSubscriber(communityID, subscriber)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return subscriber.stream, cleanup
}

// Publish implements moderation.EventSink.
func (d *RealtimeDispatcher) Publish(event moderation.Event) {
	d.broadcast(RealtimeMessage{
		CommunityID: event.CommunityID,
		EventType:   event.Type,
		Payload:     event.Payload,
		Source:      realtimeSourceBackend,
		Timestamp:   d.clock().UTC(),
	})
}

// SubscriberCount reports how many streams are open for communityID.
func (d *RealtimeDispatcher) SubscriberCount(communityID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[communityID])
}

func (d *RealtimeDispatcher) broadcast(message RealtimeMessage) {
	if message.CommunityID == "" || message.EventType == "" {
		return
	}
	// Sends happen under the read lock so unregisterSubscriber cannot close a stream mid-send.
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, subscriber := range d.subscribers[message.CommunityID] {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(communityID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[communityID]; !ok {
		d.subscribers[communityID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[communityID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(communityID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[communityID]
	if subscribers != nil {
		delete(subscribers, subscriber.id)
		if len(subscribers) == 0 {
			delete(d.subscribers, communityID)
		}
	}
	subscriber.once.Do(func() { close(subscriber.stream) })
}
