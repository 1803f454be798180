package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// drainGrace bounds how long a closed subscriber's pump keeps trying to hand
// queued events to a consumer that stopped reading.
const drainGrace = 250 * time.Millisecond

// Bus is the in-process event multicast. Publishing never blocks: each
// subscriber owns a pump goroutine draining a private queue, and a slow
// subscriber only ever costs itself coalesced progress events — lifecycle
// events are never dropped.
//
// Per-execution subscribers are closed automatically when that execution
// publishes execution-completed. Topic subscribers span executions and live
// until unsubscribed.
type Bus struct {
	mu        sync.Mutex
	execSubs  map[uuid.UUID][]*subscriber
	topicSubs map[*subscriber]Topic
	closed    bool
}

func NewBus() *Bus {
	return &Bus{
		execSubs:  make(map[uuid.UUID][]*subscriber),
		topicSubs: make(map[*subscriber]Topic),
	}
}

// Subscribe registers for all events of one execution. The channel closes
// after the execution's execution-completed event is delivered, or when the
// returned cancel function runs.
func (b *Bus) Subscribe(executionID uuid.UUID) (<-chan Event, func()) {
	sub := newSubscriber()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub.out, func() {}
	}
	b.execSubs[executionID] = append(b.execSubs[executionID], sub)
	b.mu.Unlock()

	return sub.out, func() { b.dropExecSub(executionID, sub) }
}

// SubscribeTopic registers for every event whose type falls under the topic,
// across executions.
func (b *Bus) SubscribeTopic(topic Topic) (<-chan Event, func()) {
	sub := newSubscriber()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub.out, func() {}
	}
	b.topicSubs[sub] = topic
	b.mu.Unlock()

	return sub.out, func() {
		b.mu.Lock()
		delete(b.topicSubs, sub)
		b.mu.Unlock()
		sub.close()
	}
}

// Publish fans the event out to every matching subscriber in emission order.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	for _, sub := range b.execSubs[ev.ExecutionID] {
		sub.enqueue(ev)
	}
	for sub, topic := range b.topicSubs {
		if topic.Matches(ev.Type) {
			sub.enqueue(ev)
		}
	}

	var done []*subscriber
	if ev.Type == ExecutionCompleted {
		done = b.execSubs[ev.ExecutionID]
		delete(b.execSubs, ev.ExecutionID)
	}
	b.mu.Unlock()

	// Close after the terminal event is queued so it is still delivered.
	for _, sub := range done {
		sub.close()
	}
}

// Close shuts down the bus and every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscriber
	for _, subs := range b.execSubs {
		all = append(all, subs...)
	}
	for sub := range b.topicSubs {
		all = append(all, sub)
	}
	b.execSubs = map[uuid.UUID][]*subscriber{}
	b.topicSubs = map[*subscriber]Topic{}
	b.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
}

func (b *Bus) dropExecSub(executionID uuid.UUID, sub *subscriber) {
	b.mu.Lock()
	subs := b.execSubs[executionID]
	for i, s := range subs {
		if s == sub {
			b.execSubs[executionID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	sub.close()
}

// subscriber pumps a private ordered queue into its out channel. The only
// queue compaction allowed is replacing a not-yet-delivered progress event
// with a newer one for the same execution.
type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	done   chan struct{}
	out    chan Event
}

func newSubscriber() *subscriber {
	s := &subscriber{
		done: make(chan struct{}),
		out:  make(chan Event, 16),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

func (s *subscriber) enqueue(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if ev.Type == ExecutionProgress {
		for i := len(s.queue) - 1; i >= 0; i-- {
			q := s.queue[i]
			if q.Type == ExecutionProgress && q.ExecutionID == ev.ExecutionID {
				s.queue[i] = ev
				s.cond.Signal()
				return
			}
		}
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
}

func (s *subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscriber) pump() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			close(s.out)
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			// Closed while the buffer is full. A consumer still draining
			// gets a short grace; an abandoned one must not pin this
			// goroutine forever.
			t := time.NewTimer(drainGrace)
			select {
			case s.out <- ev:
				t.Stop()
			case <-t.C:
				close(s.out)
				return
			}
		}
	}
}
