package events

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/R3DPanda1/LWN-Node/node/metrics"
)

var eventCounter uint64

func nextID() string {
	n := atomic.AddUint64(&eventCounter, 1)
	return time.Now().Format("20060102150405") + "-" + strconv.FormatUint(n, 10)
}

type subscriber struct {
	ch chan interface{}
}

// EventBroker fans events out to topic subscribers and keeps a short history
// per topic for late subscribers.
type EventBroker struct {
	history     *History
	subscribers map[string][]*subscriber
	mu          sync.RWMutex
}

func NewEventBroker(historyPerTopic int) *EventBroker {
	return &EventBroker{
		history:     NewHistory(historyPerTopic),
		subscribers: make(map[string][]*subscriber),
	}
}

func (b *EventBroker) Subscribe(topic string) (ch <-chan interface{}, history []interface{}, unsubscribe func()) {
	sub := &subscriber{ch: make(chan interface{}, 256)}

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	b.mu.Unlock()
	metrics.EventSubscriptions.Inc()

	history = b.history.Get(topic)

	var once sync.Once
	unsubscribe = func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subscribers[topic]
			for i, s := range subs {
				if s == sub {
					b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
					close(sub.ch)
					metrics.EventSubscriptions.Dec()
					break
				}
			}
		})
	}

	return sub.ch, history, unsubscribe
}

// Last returns the newest event published on topic.
func (b *EventBroker) Last(topic string) (interface{}, bool) {
	return b.history.Last(topic)
}

func (b *EventBroker) publish(topic, eventType string, event interface{}) {
	b.history.Append(topic, event)
	metrics.EventsPublished.WithLabelValues(eventType).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers[topic] {
		select {
		case sub.ch <- event:
		default:
			slog.Warn("event subscriber buffer full, dropping event", "component", "events", "topic", topic)
		}
	}
}

func (b *EventBroker) PublishNodeEvent(devEUI string, event NodeEvent) {
	if event.ID == "" {
		event.ID = nextID()
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	b.publish(NodeTopic(devEUI), event.Type, event)
	if event.Type == EventError {
		b.publish(ErrorsTopic, event.Type, event)
	}
}

func (b *EventBroker) PublishRadioEvent(radio string, event RadioEvent) {
	if event.ID == "" {
		event.ID = nextID()
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	b.publish(RadioTopic(radio), event.Type, event)
	if event.Type == RadioEventError || event.Type == RadioEventRxError {
		b.publish(ErrorsTopic, event.Type, event)
	}
}

func (b *EventBroker) PublishSystemEvent(event SystemEvent) {
	if event.ID == "" {
		event.ID = nextID()
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	b.publish(SystemTopic, event.Type, event)
	if event.IsError {
		b.publish(ErrorsTopic, event.Type, event)
	}
}

// Remove drops the history of topic and closes its subscribers.
func (b *EventBroker) Remove(topic string) {
	b.history.Drop(topic)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers[topic] {
		close(sub.ch)
		metrics.EventSubscriptions.Dec()
	}
	delete(b.subscribers, topic)
}
