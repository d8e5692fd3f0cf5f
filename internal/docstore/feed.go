package docstore

import "sync"

// Feed fans committed change events out to subscribers. Publish only appends
// to per-subscriber queues, so stores may call it while holding their own
// write lock to preserve commit order without risking deadlock; a goroutine
// per subscriber drains the queue into the delivery channel.
type Feed struct {
	mu     sync.Mutex
	subs   []*subscriber
	closed bool
}

type subscriber struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Event
	closed  bool
	ch      chan Event
}

// Subscribe registers a new subscriber and returns its delivery channel.
// The channel is closed once the feed is closed and the backlog drained.
func (f *Feed) Subscribe(buffer int) <-chan Event {
	sub := &subscriber{ch: make(chan Event, buffer)}
	sub.cond = sync.NewCond(&sub.mu)
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(sub.ch)
		return sub.ch
	}
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	go sub.run()
	return sub.ch
}

// Publish appends events to every subscriber's queue. It never blocks on
// slow consumers; the queue is unbounded.
func (f *Feed) Publish(events []Event) {
	if len(events) == 0 {
		return
	}
	f.mu.Lock()
	subs := f.subs
	f.mu.Unlock()
	for _, sub := range subs {
		sub.mu.Lock()
		if !sub.closed {
			sub.pending = append(sub.pending, events...)
			sub.cond.Signal()
		}
		sub.mu.Unlock()
	}
}

// Close stops the feed. Subscriber channels close after their backlog is
// delivered.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()
	for _, sub := range subs {
		sub.mu.Lock()
		sub.closed = true
		sub.cond.Signal()
		sub.mu.Unlock()
	}
}

func (sub *subscriber) run() {
	for {
		sub.mu.Lock()
		for len(sub.pending) == 0 && !sub.closed {
			sub.cond.Wait()
		}
		if len(sub.pending) == 0 {
			sub.mu.Unlock()
			close(sub.ch)
			return
		}
		batch := sub.pending
		sub.pending = nil
		sub.mu.Unlock()
		for _, ev := range batch {
			sub.ch <- ev
		}
	}
}
