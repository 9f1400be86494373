package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Envelope carries a payload together with its topic.
type Envelope struct {
	Topic   Event     `json:"topic"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

type subscriber struct {
	topics map[Event]bool
	ch     chan Envelope
}

// Bus is a lightweight pub/sub broker using channels. Publish never blocks:
// a slow subscriber loses messages and the loss is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    []*subscriber
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a listener for the given topics (all topics when none
// are given) and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(buffer int, topics ...Event) (<-chan Envelope, func()) {
	s := &subscriber{ch: make(chan Envelope, buffer)}
	if len(topics) > 0 {
		s.topics = make(map[Event]bool, len(topics))
		for _, t := range topics {
			s.topics[t] = true
		}
	}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, c := range b.subs {
				if c == s {
					close(c.ch)
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
		})
	}
	return s.ch, unsub
}

// Publish fans the payload out to matching subscribers.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	env := Envelope{Topic: e, Time: time.Now().UTC(), Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.topics != nil && !s.topics[e] {
			continue
		}
		select {
		case s.ch <- env:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped is the number of deliveries skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }
