package session

import (
	"log/slog"
	"sync"
	"time"
)

// EventType classifies a session event.
type EventType string

const (
	EventOutput EventType = "output"
	EventIdle   EventType = "idle"
	EventExit   EventType = "exit"
	EventError  EventType = "error"
)

// Event is published to subscribers for every session occurrence.
// Spawn failures and process exits are delivered here rather than
// returned to the code that is waiting on the session.
type Event struct {
	Type       EventType
	SessionID  string
	Data       []byte
	ExitCode   int
	Terminated bool
	Err        error
	At         time.Time
}

// subscriber queues events for one consumer. Output chunks beyond limit
// are dropped; lifecycle events always stay queued until delivered.
type subscriber struct {
	out   chan Event
	wake  chan struct{}
	done  chan struct{}
	limit int

	mu      sync.Mutex
	queue   []Event
	outputs int
}

func (s *subscriber) push(ev Event) bool {
	s.mu.Lock()
	if ev.Type == EventOutput {
		if s.outputs >= s.limit {
			s.mu.Unlock()
			return false
		}
		s.outputs++
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *subscriber) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue[0] = Event{}
	s.queue = s.queue[1:]
	if ev.Type == EventOutput {
		s.outputs--
	}
	return ev, true
}

// run delivers queued events in order until done is closed, then closes out.
func (s *subscriber) run() {
	defer close(s.out)
	for {
		ev, ok := s.pop()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

type broker struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	next   int
	closed bool
	logger *slog.Logger
}

func newBroker(logger *slog.Logger) *broker {
	return &broker{subs: make(map[int]*subscriber), logger: logger}
}

func (b *broker) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{
		out:   make(chan Event),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		limit: buffer,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.out)
		return sub.out, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = sub
	go sub.run()

	var once sync.Once
	return sub.out, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.done)
			}
		})
	}
}

// publish never blocks. A subscriber whose output backlog is full misses
// the chunk; exit, error and idle events are never dropped.
func (b *broker) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, sub := range b.subs {
		if !sub.push(ev) {
			b.logger.Debug("session event dropped", "subscriber", id, "type", ev.Type, "session_id", ev.SessionID)
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.done)
	}
}
