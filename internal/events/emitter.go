package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies a lifecycle event emitted by the pipeline.
type Type string

const (
	TypeQueued       Type = "queued"
	TypeDelivered    Type = "delivered"
	TypeFailed       Type = "failed"
	TypeRetried      Type = "retried"
	TypeDeadLettered Type = "dead_lettered"
	TypeBreakerState Type = "breaker_state_changed"
)

// Event is one observability record. Events are diagnostic only and never
// gate pipeline behavior.
type Event struct {
	Type      Type
	RequestID string
	QueueID   string
	At        time.Time
	Fields    map[string]string
}

type subscriber struct {
	ch    chan Event
	types map[Type]struct{}
}

func (s *subscriber) wants(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Emitter fans lifecycle events out to subscribers over buffered channels.
// Emit never blocks: when a subscriber's buffer is full the event is dropped
// for that subscriber and counted.
type Emitter struct {
	mu      sync.RWMutex
	subs    []*subscriber
	buffer  int
	closed  bool
	dropped atomic.Uint64
}

const defaultBuffer = 64

func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Emitter{buffer: buffer}
}

// Subscribe registers interest in the given event types (all types when none
// are given). The returned cancel func closes the channel.
func (e *Emitter) Subscribe(types ...Type) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, e.buffer)}
	if len(types) > 0 {
		sub.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	e.subs = append(e.subs, sub)
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s == sub {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
	return sub.ch, cancel
}

// Emit delivers the event to every interested subscriber without blocking.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	for _, sub := range e.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			e.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were discarded due to full buffers.
func (e *Emitter) Dropped() uint64 {
	if e == nil {
		return 0
	}
	return e.dropped.Load()
}

func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for _, sub := range e.subs {
		close(sub.ch)
	}
	e.subs = nil
}
