package events

import (
	"sync"
	"sync/atomic"
)

// allTopics keys the subscribers that receive every event.
const allTopics = "*"

const defaultBufSize = 256

// EventBus is an in-process pub/sub bus. Publishing never blocks the engine:
// a subscriber that falls behind loses events rather than stalling the run.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event // topic -> subscriber channels, allTopics for SubscribeAll
	closed  bool
	dropped atomic.Uint64
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[string][]chan Event)}
}

// Subscribe returns a channel receiving events published to topic. bufSize
// defaults to 256 when <= 0. On a closed bus the channel is already closed.
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	return b.subscribe(topic, bufSize)
}

// SubscribeAll returns a channel receiving events of every topic.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	return b.subscribe(allTopics, bufSize)
}

func (b *EventBus) subscribe(key string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs[key] = append(b.subs[key], ch)
	return ch
}

// Publish delivers event to the topic's subscribers and to every SubscribeAll
// channel. Full channels skip the event and count it as dropped.
func (b *EventBus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.deliver(b.subs[topic], event)
	b.deliver(b.subs[allTopics], event)
}

func (b *EventBus) deliver(channels []chan Event, event Event) {
	for _, ch := range channels {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Unsubscribe removes a channel returned by Subscribe or SubscribeAll and
// closes it. Unknown channels are ignored.
func (b *EventBus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for key, channels := range b.subs {
		for i, ch := range channels {
			if ch == sub {
				b.subs[key] = append(channels[:i:i], channels[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
// Safe to call more than once.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
}
