package ecs

import (
	"reflect"

	"github.com/Refsa/pollus-sub003/pkg/assert"
)

// eventID is a unique identifier for an event type within one world.
type eventID = uint32

// eventChannel buffers the events of one type emitted during the current tick.
type eventChannel interface {
	clear()
	len() int
}

type typedEventChannel[E any] struct {
	events []E
}

func (c *typedEventChannel[E]) clear() {
	clear(c.events)
	c.events = c.events[:0]
}

func (c *typedEventChannel[E]) len() int {
	return len(c.events)
}

// systemEventManager manages the event channels systems use to talk to each other. Events live
// until the end of the tick they were emitted in.
type systemEventManager struct {
	registry map[reflect.Type]eventID // Event type -> event ID
	channels []eventChannel           // Event ID -> channel
	names    []string                 // Event ID -> type name
}

// newSystemEventManager creates a new systemEventManager.
func newSystemEventManager() systemEventManager {
	return systemEventManager{
		registry: make(map[reflect.Type]eventID),
		channels: make([]eventChannel, 0),
		names:    make([]string, 0),
	}
}

// registerEvent registers an event type. If it is already registered, the existing channel is
// returned.
func registerEvent[E any](s *systemEventManager) (eventID, *typedEventChannel[E]) {
	typ := reflect.TypeFor[E]()
	if id, exists := s.registry[typ]; exists {
		ch, ok := s.channels[id].(*typedEventChannel[E])
		assert.That(ok, "event channel %s has the wrong type", typ)
		return id, ch
	}

	const initialEventBufferCapacity = 128
	id := eventID(len(s.channels)) //nolint:gosec // bounded by number of types
	ch := &typedEventChannel[E]{events: make([]E, 0, initialEventBufferCapacity)}
	s.registry[typ] = id
	s.channels = append(s.channels, ch)
	s.names = append(s.names, typ.String())
	assert.That(len(s.channels) == len(s.names), "event tables out of sync")
	return id, ch
}

// clear clears every event buffer.
func (s *systemEventManager) clear() {
	for _, ch := range s.channels {
		ch.clear()
		assert.That(ch.len() == 0, "system events not cleared properly")
	}
}
