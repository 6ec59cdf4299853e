// Package stream is the bounded pub/sub fan-out for simulation events:
// per-channel ring-buffer history plus independently queued subscribers.
// Publishing never blocks on a slow consumer.
package stream

import (
	"sync"
	"time"

	"luna.social/internal/protocol"
)

const (
	DefaultHistoryCapacity    = 1000
	DefaultSubscriberCapacity = 64
)

type Broker struct {
	histCap int
	subCap  int

	mu        sync.Mutex
	channels  map[string]*channelState
	nextSubID uint64
	published uint64
}

type channelState struct {
	ring *ring
	seq  uint64
	subs map[uint64]chan protocol.Event
}

// Subscription delivers one channel's events. C is closed by Unsubscribe.
type Subscription struct {
	C       <-chan protocol.Event
	Channel string

	id uint64
	ch chan protocol.Event
}

func NewBroker(historyCapacity, subscriberCapacity int) *Broker {
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	if subscriberCapacity <= 0 {
		subscriberCapacity = DefaultSubscriberCapacity
	}
	b := &Broker{
		histCap:  historyCapacity,
		subCap:   subscriberCapacity,
		channels: make(map[string]*channelState, len(protocol.Channels)),
	}
	for _, ch := range protocol.Channels {
		b.channels[ch] = &channelState{
			ring: newRing(historyCapacity),
			subs: map[uint64]chan protocol.Event{},
		}
	}
	return b
}

// Publish stamps the event with the channel's next sequence number (and a
// created-at time if missing), appends it to the channel history, and
// fans it out. The oldest unread event of a full subscriber queue is
// dropped rather than blocking the publisher.
func (b *Broker) Publish(ev protocol.Event) (protocol.Event, error) {
	if !protocol.IsKnownChannel(ev.Channel) {
		return ev, protocol.Errorf(protocol.ErrValidation, "unknown channel %q", ev.Channel)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cs := b.channels[ev.Channel]
	cs.seq++
	ev.Seq = cs.seq
	cs.ring.push(ev)
	b.published++

	for _, q := range cs.subs {
		sendLatest(q, ev)
	}
	return ev, nil
}

// sendLatest enqueues without blocking; when the queue is full it evicts
// one pending event first.
func sendLatest(q chan protocol.Event, ev protocol.Event) {
	select {
	case q <- ev:
		return
	default:
	}
	select {
	case <-q:
	default:
	}
	select {
	case q <- ev:
	default:
	}
}

// Subscribe registers a queue on the channel. With includeHistory the
// current ring contents are delivered (oldest first) before live events.
func (b *Broker) Subscribe(channel string, includeHistory bool) (*Subscription, error) {
	if !protocol.IsKnownChannel(channel) {
		return nil, protocol.Errorf(protocol.ErrValidation, "unknown channel %q", channel)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cs := b.channels[channel]
	capacity := b.subCap
	if includeHistory {
		capacity += cs.ring.len()
	}
	q := make(chan protocol.Event, capacity)
	if includeHistory {
		for _, ev := range cs.ring.snapshot(0) {
			q <- ev
		}
	}

	b.nextSubID++
	cs.subs[b.nextSubID] = q
	return &Subscription{C: q, Channel: channel, id: b.nextSubID, ch: q}, nil
}

func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cs := b.channels[sub.Channel]
	if cs == nil {
		return
	}
	if _, ok := cs.subs[sub.id]; !ok {
		return
	}
	delete(cs.subs, sub.id)
	close(sub.ch)
}

// History returns the most recent limit events, most-recent-last.
// limit <= 0 returns the full ring.
func (b *Broker) History(channel string, limit int) ([]protocol.Event, error) {
	if !protocol.IsKnownChannel(channel) {
		return nil, protocol.Errorf(protocol.ErrValidation, "unknown channel %q", channel)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channels[channel].ring.snapshot(limit), nil
}

// Clear drops all channel history and resets sequence counters. Live
// subscriptions stay registered.
func (b *Broker) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cs := range b.channels {
		cs.ring = newRing(b.histCap)
		cs.seq = 0
	}
	b.published = 0
}

// Published returns the total number of events accepted since the last
// Clear.
func (b *Broker) Published() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published
}

// ring is a fixed-capacity circular buffer; push evicts oldest-first.
type ring struct {
	buf   []protocol.Event
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]protocol.Event, capacity)}
}

func (r *ring) len() int { return r.n }

func (r *ring) push(ev protocol.Event) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = ev
		r.n++
		return
	}
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

// snapshot copies up to limit most recent entries in order, oldest first.
func (r *ring) snapshot(limit int) []protocol.Event {
	n := r.n
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]protocol.Event, 0, n)
	first := r.n - n
	for i := first; i < r.n; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}
