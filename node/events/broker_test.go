package events

import (
	"testing"
	"time"
)

const testEUI = "0102030405060708"

func TestBrokerPublishSubscribe(t *testing.T) {
	broker := NewEventBroker(100)
	ch, history, unsub := broker.Subscribe(NodeTopic(testEUI))
	defer unsub()

	if len(history) != 0 {
		t.Errorf("expected empty history, got %d", len(history))
	}

	broker.PublishNodeEvent(testEUI, NodeEvent{DevEUI: testEUI, Type: EventJoin})

	select {
	case event := <-ch:
		ne := event.(NodeEvent)
		if ne.Type != EventJoin {
			t.Errorf("expected 'join' event, got %s", ne.Type)
		}
		if ne.ID == "" || ne.Time.IsZero() {
			t.Error("expected generated ID and time")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBrokerHistoryAndLast(t *testing.T) {
	broker := NewEventBroker(100)

	broker.PublishNodeEvent(testEUI, NodeEvent{Type: EventJoin})
	broker.PublishNodeEvent(testEUI, NodeEvent{Type: EventUp})

	_, history, unsub := broker.Subscribe(NodeTopic(testEUI))
	defer unsub()
	if len(history) != 2 {
		t.Fatalf("expected 2 history events, got %d", len(history))
	}

	last, ok := broker.Last(NodeTopic(testEUI))
	if !ok || last.(NodeEvent).Type != EventUp {
		t.Errorf("expected last event 'up', got %v", last)
	}
}

func TestBrokerErrorsTopic(t *testing.T) {
	broker := NewEventBroker(100)
	errCh, _, unsub := broker.Subscribe(ErrorsTopic)
	defer unsub()

	broker.PublishRadioEvent("raw", RadioEvent{Type: RadioEventRxError})

	select {
	case evt := <-errCh:
		if _, ok := evt.(RadioEvent); !ok {
			t.Errorf("expected RadioEvent, got %T", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("rx error not forwarded to errors topic")
	}
}

func TestBrokerUnsubscribeTwice(t *testing.T) {
	broker := NewEventBroker(100)
	ch, _, unsub := broker.Subscribe(NodeTopic(testEUI))
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestBrokerRemove(t *testing.T) {
	broker := NewEventBroker(10)
	broker.PublishRadioEvent("raw", RadioEvent{Type: RadioEventSend})
	ch, _, _ := broker.Subscribe(RadioTopic("raw"))

	broker.Remove(RadioTopic("raw"))
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
	if _, ok := broker.Last(RadioTopic("raw")); ok {
		t.Error("history should be dropped")
	}
}
