package netclient

import (
	"sync"

	"github.com/slipstream-racing/slipstream/go/internal/protocol"
)

// EventType enumerates the closed set of events a client surfaces.
type EventType string

const (
	EventPlayerJoined EventType = "player-joined"
	EventPlayerLeft   EventType = "player-left"
	EventPlayerState  EventType = "player-state"
	EventPlayerAction EventType = "player-action"
	EventDisconnected EventType = "disconnected"
)

// Event is one inbound occurrence. Exactly one of the optional fields
// is set, matching Type. PlayerID is the remote subject for joined and
// left events.
type Event struct {
	Type     EventType
	PlayerID string
	State    *protocol.PlayerState
	Action   *protocol.PlayerAction
}

const subscriberBuffer = 64

// mustDeliver reports whether an event may never be dropped.
// Membership and disconnect events drive remote-entity lifecycle;
// losing one would strand an entity forever. State and action frames
// are droppable under backpressure since fresher ones keep coming.
func mustDeliver(t EventType) bool {
	switch t {
	case EventPlayerJoined, EventPlayerLeft, EventDisconnected:
		return true
	}
	return false
}

// subscriber decouples the read loop from one consumer. Events pass
// through an internal queue drained by a pump goroutine; enqueue never
// blocks the read loop. The queue caps droppable events at
// subscriberBuffer but grows without bound for must-deliver events.
type subscriber struct {
	out  chan Event
	wake chan struct{}
	done chan struct{}

	mu     sync.Mutex
	queue  []Event
	closed bool
}

func newSubscriber() *subscriber {
	s := &subscriber{
		out:  make(chan Event, subscriberBuffer),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *subscriber) enqueue(ev Event) {
	s.mu.Lock()
	if s.closed || (len(s.queue) >= subscriberBuffer && !mustDeliver(ev.Type)) {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
}

func (s *subscriber) pump() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				close(s.out)
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			close(s.out)
			return
		}
	}
}

// Subscribe registers a listener for inbound events and returns the
// event channel plus an unsubscribe func. The channel is closed on
// unsubscribe.
func (c *Client) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	sub := newSubscriber()
	c.subscribers[id] = sub

	return sub.out, func() {
		c.mu.Lock()
		sub, ok := c.subscribers[id]
		if ok {
			delete(c.subscribers, id)
		}
		c.mu.Unlock()
		if ok {
			sub.close()
		}
	}
}

// emit fans an event out to every subscriber without blocking. Caller
// must hold c.mu.
func (c *Client) emitLocked(ev Event) {
	for _, sub := range c.subscribers {
		sub.enqueue(ev)
	}
}
