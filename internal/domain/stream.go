package domain

import "sync"

// Stream is an ordered, unbounded event queue with a single consumer.
// Push never blocks; events wait in memory until the consumer reads C.
// Close lets queued events drain and then closes C.
type Stream struct {
	mu     sync.Mutex
	queue  []Event
	closed bool

	wake    chan struct{}
	discard chan struct{}
	once    sync.Once
	out     chan Event
}

func NewStream() *Stream {
	st := &Stream{
		wake:    make(chan struct{}, 1),
		discard: make(chan struct{}),
		out:     make(chan Event),
	}
	go st.pump()
	return st
}

// C returns the receiving end. It is closed after Close once every queued
// event has been delivered, or right away after Discard.
func (st *Stream) C() <-chan Event {
	return st.out
}

// Push enqueues an event. Returns false if the stream is already closed.
func (st *Stream) Push(ev Event) bool {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return false
	}
	st.queue = append(st.queue, ev)
	st.mu.Unlock()

	select {
	case st.wake <- struct{}{}:
	default:
	}
	return true
}

// Emit is Push without the result, so a Stream satisfies emitter interfaces.
func (st *Stream) Emit(ev Event) {
	st.Push(ev)
}

// Len returns the number of events not yet handed to the consumer.
func (st *Stream) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.queue)
}

// Close stops accepting events. Safe to call more than once.
func (st *Stream) Close() {
	st.mu.Lock()
	st.closed = true
	st.mu.Unlock()

	select {
	case st.wake <- struct{}{}:
	default:
	}
}

// Discard closes the stream and drops anything still queued.
func (st *Stream) Discard() {
	st.Close()
	st.once.Do(func() { close(st.discard) })
}

func (st *Stream) pump() {
	defer close(st.out)
	for {
		st.mu.Lock()
		if len(st.queue) == 0 {
			closed := st.closed
			st.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-st.wake:
			case <-st.discard:
				return
			}
			continue
		}
		ev := st.queue[0]
		st.queue[0] = Event{}
		st.queue = st.queue[1:]
		st.mu.Unlock()

		select {
		case st.out <- ev:
		case <-st.discard:
			return
		}
	}
}
