package events

import "sync"

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// slower than this rate starts dropping events rather than stalling
// Publish.
const subscriberBuffer = 64

// Broadcaster is the default in-process [Publisher]. It fans out every
// published event to all current subscribers on a best-effort basis and
// forwards a copy to an optional [Recorder] for audit purposes.
type Broadcaster struct {
	mu       sync.Mutex
	seq      uint64
	subs     map[int]chan Event
	nextID   int
	recorder Recorder
	closed   bool
}

// NewBroadcaster returns a ready-to-use Broadcaster. rec may be
// [Discard] if no audit trail is wanted.
func NewBroadcaster(rec Recorder) *Broadcaster {
	if rec == nil {
		rec = Discard
	}
	return &Broadcaster{
		subs:     make(map[int]chan Event),
		recorder: rec,
	}
}

// Publish implements [Publisher]. It auto-fills Seq and never blocks.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.seq++
	e.Seq = b.seq
	subs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	b.recorder.Record(e)

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Subscriber is behind; drop rather than block the loop.
		}
	}
}

// Subscribe implements [Publisher].
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	id := b.nextID
	b.nextID++
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, unsub
}

// Close implements [Publisher]. Zero-linger: subscriber channels are
// closed immediately, regardless of unread buffered events.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

var _ Publisher = (*Broadcaster)(nil)
