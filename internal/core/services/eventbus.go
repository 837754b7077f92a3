package services

import (
	"log/slog"
	"sync"
)

type EventType string

const (
	EventJobQueued      EventType = "job.queued"
	EventJobRunning     EventType = "job.running"
	EventJobCompleted   EventType = "job.completed"
	EventJobFailed      EventType = "job.failed"
	EventBatchStarted   EventType = "batch.started"
	EventBatchCompleted EventType = "batch.completed"
)

// Event is one progress notification for a batch. Data carries the JSON of
// the job or batch row as it was when the event fired.
type Event struct {
	BatchID   string    `json:"batch_id"`
	JobID     string    `json:"job_id,omitempty"`
	Type      EventType `json:"type"`
	Data      string    `json:"data"`
	Timestamp int64     `json:"timestamp"`
}

// EventBus fans progress events out to SSE streams. Subscribers are keyed by
// batch ID; global subscribers see everything.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event // Key: BatchID
	global []chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel that receives events for a specific batch
func (b *EventBus) Subscribe(batchID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100) // Buffer to prevent blocking publisher
	b.subs[batchID] = append(b.subs[batchID], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subs[batchID]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					b.subs[batchID] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subs[batchID]) == 0 {
				delete(b.subs, batchID)
			}
		})
	}

	return ch, unsub
}

// SubscribeGlobal returns a channel receiving the events of every batch.
func (b *EventBus) SubscribeGlobal() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.global = append(b.global, ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, sub := range b.global {
				if sub == ch {
					close(ch)
					b.global = append(b.global[:i], b.global[i+1:]...)
					break
				}
			}
		})
	}
	return ch, unsub
}

// Publish sends an event to all subscribers of the batch. It never blocks:
// a subscriber whose buffer is full misses the event.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.BatchID] {
		b.send(ch, e)
	}
	for _, ch := range b.global {
		b.send(ch, e)
	}
}

func (b *EventBus) send(ch chan Event, e Event) {
	select {
	case ch <- e:
	default:
		b.logger.Warn("event bus channel full, dropping event", "batch_id", e.BatchID, "type", e.Type)
	}
}
