package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/indelible/internal/canvases"
	"github.com/MarcoPoloResearchLab/indelible/internal/syncbridge"
)

const (
	RealtimeEventCanvasChanged = "canvas-change"
	RealtimeEventSyncChanged   = "sync-change"
	realtimeEventHeartbeat     = "heartbeat"
)

// RealtimeMessage is one server-sent event.
type RealtimeMessage struct {
	EventType string
	Payload   interface{}
	Timestamp time.Time
}

// RealtimeDispatcher fans messages out to every open event stream. Slow
// subscribers drop messages instead of blocking publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream that lives until ctx is done or cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context) (<-chan RealtimeMessage, func()) {
	subscriber := &realtimeSubscriber{
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.mu.Lock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, subscriber.id)
			d.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.EventType == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	copies := make([]*realtimeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// Subscribers reports the number of open streams.
func (d *RealtimeDispatcher) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

// ForwardChanges publishes repository and sync-bridge changes on the
// dispatcher. The returned function stops forwarding.
func ForwardChanges(dispatcher *RealtimeDispatcher, repository *canvases.Repository, bridge *syncbridge.Bridge) func() {
	disposers := make([]func(), 0, 2)
	if repository != nil {
		disposers = append(disposers, repository.OnChange(func(change canvases.Change) {
			dispatcher.Publish(RealtimeMessage{EventType: RealtimeEventCanvasChanged, Payload: change})
		}))
	}
	if bridge != nil {
		disposers = append(disposers, bridge.OnChange(func(snapshot syncbridge.Snapshot) {
			dispatcher.Publish(RealtimeMessage{EventType: RealtimeEventSyncChanged, Payload: snapshot})
		}))
	}
	return func() {
		for _, dispose := range disposers {
			dispose()
		}
	}
}
