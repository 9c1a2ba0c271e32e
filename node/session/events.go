package session

import (
	"github.com/R3DPanda1/LWN-Node/node/events"
)

// id names the node in logs and event topics: DevEUI for OTAA, DevAddr for ABP.
func (s *Session) id() string {
	if s.state.JoinType == ActivationABP {
		return s.state.DevAddr.String()
	}
	return s.state.DevEUI.String()
}

// Topic is the event broker topic this session publishes on.
func (s *Session) Topic() string {
	return events.NodeTopic(s.id())
}

func (s *Session) publish(event events.NodeEvent) {
	if s.broker == nil {
		return
	}
	event.DevEUI = s.id()
	event.Class = s.Class().String()
	event.JoinType = s.state.JoinType.String()
	s.broker.PublishNodeEvent(s.id(), event)
}

func (s *Session) emitEvent(eventType string, extra map[string]string) {
	s.publish(events.NodeEvent{Type: eventType, Extra: extra})
}

func (s *Session) emitErrorEvent(err error) {
	s.publish(events.NodeEvent{Type: events.EventError, Extra: map[string]string{"error": err.Error()}})
}
