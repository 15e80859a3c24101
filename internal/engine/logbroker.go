package engine

import (
	"sync"

	"github.com/seantiz/wart/internal/model"
)

// subscriberBufferSize is the channel buffer for each log subscriber.
// Lines are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// LogBroker fans guest log lines out to live subscribers, one topic per
// session token. It is safe for concurrent use.
//
// A closed topic stays behind as a marker so that subscribing to a session
// that was already closed yields a closed channel.
type LogBroker struct {
	mu     sync.Mutex
	topics map[string]*logTopic
}

type logTopic struct {
	subs   map[int]chan model.LogLine
	nextID int
	closed bool
}

// NewLogBroker creates an empty broker.
func NewLogBroker() *LogBroker {
	return &LogBroker{
		topics: make(map[string]*logTopic),
	}
}

func (b *LogBroker) topic(token string) *logTopic {
	t, ok := b.topics[token]
	if !ok {
		t = &logTopic{subs: make(map[int]chan model.LogLine)}
		b.topics[token] = t
	}
	return t
}

// Subscribe returns a channel receiving the session's log lines from now on
// and an unsubscribe function.
func (b *LogBroker) Subscribe(token string) (<-chan model.LogLine, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(token)
	ch := make(chan model.LogLine, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}
}

// Publish delivers a line to every subscriber of the session without
// blocking; full subscribers miss it.
func (b *LogBroker) Publish(token string, line model.LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[token]
	if !ok || t.closed {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Subscribers returns the number of live subscribers of a session.
func (b *LogBroker) Subscribers(token string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[token]; ok {
		return len(t.subs)
	}
	return 0
}

// Close ends the session's topic. Subscriber channels are closed and later
// subscriptions get a closed channel.
func (b *LogBroker) Close(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(token)
	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
