package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Topic names one slice of client state that observers can watch.
type Topic string

const (
	TopicCall          Topic = "call"
	TopicConversations Topic = "conversations"
	TopicMessages      Topic = "messages"
	TopicContacts      Topic = "contacts"
	TopicStatuses      Topic = "statuses"
	TopicTyping        Topic = "typing"
	TopicProfile       Topic = "profile"
)

// Change is one state-changed notification. It carries no data: observers
// re-read the service snapshot they care about.
type Change struct {
	Topic Topic     `json:"topic"`
	At    time.Time `json:"at"`
}

// Bus fans state-change notifications out to subscribers. Publishing never
// blocks; a subscriber that cannot keep up loses notifications, which is
// harmless because a later one makes it re-read the same snapshot.
type Bus struct {
	logger *zap.SugaredLogger

	mu     sync.Mutex
	nextID int
	subs   map[Topic]map[int]chan Change
	closed bool
}

func NewBus(logger *zap.SugaredLogger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[Topic]map[int]chan Change),
	}
}

// Subscribe watches one topic. The returned cancel function drops the
// subscription and closes the channel.
func (b *Bus) Subscribe(topic Topic, buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Change)
	}
	b.subs[topic][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if subs, ok := b.subs[topic]; ok {
			if _, live := subs[id]; live {
				delete(subs, id)
				close(ch)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish notifies every subscriber of the topic. Safe on a nil bus, so
// services can treat the notifier as optional.
func (b *Bus) Publish(topic Topic) {
	if b == nil {
		return
	}
	change := Change{Topic: topic, At: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- change:
		default:
			if b.logger != nil {
				b.logger.Debugw("dropping change notification", "topic", topic)
			}
		}
	}
}

// Close drops all subscriptions and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
	}
}
