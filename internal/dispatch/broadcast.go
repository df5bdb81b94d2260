package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/cbegin/hapticbridge-go/internal/process"
	"github.com/cbegin/hapticbridge-go/internal/toy"
)

// Signal is one item on the toy broadcast: either an OSC sample fanned out
// to every dispatcher, or a toy edit that dispatchers self-filter by id.
type Signal struct {
	Msg    *OSCMessage
	Update *toy.Toy
}

// OSCMessage is a decoded OSC sample: an address plus its last argument.
type OSCMessage struct {
	Addr string
	Arg  process.Input
}

func OSCSignal(addr string, arg process.Input) Signal {
	return Signal{Msg: &OSCMessage{Addr: addr, Arg: arg}}
}

func UpdateSignal(t *toy.Toy) Signal {
	return Signal{Update: t}
}

// ErrClosed is returned by Subscriber.Recv after the broadcaster shuts down.
var ErrClosed = errors.New("broadcast closed")

// Broadcaster fans Signals out to per-subscriber bounded queues. Sends
// never block: when a subscriber's queue is full the oldest queued signal
// is dropped, because the next OSC sample supersedes the one it replaces.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	buffer int
	closed bool
}

// NewBroadcaster creates a broadcaster whose subscribers buffer up to
// buffer signals each.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{subs: make(map[*Subscriber]struct{}), buffer: buffer}
}

// Subscribe registers a new subscriber. Subscribing to a closed broadcaster
// yields a subscriber that only ever reports ErrClosed.
func (b *Broadcaster) Subscribe() *Subscriber {
	s := &Subscriber{ch: make(chan Signal, b.buffer), b: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Send fans one signal out to every live subscriber and returns how many
// received it (counting lossy deliveries that displaced an older signal).
func (b *Broadcaster) Send(sig Signal) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	n := 0
	for s := range b.subs {
		select {
		case s.ch <- sig:
		default:
			// Lagging subscriber: displace the oldest queued signal.
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- sig:
			default:
			}
		}
		n++
	}
	return n
}

// Closed reports whether Close has run.
func (b *Broadcaster) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close shuts the broadcaster down. Subscribers drain their queues and then
// see ErrClosed; the OSC ingest task exits on its next Send.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}

// Subscriber is one bounded queue onto the broadcast.
type Subscriber struct {
	ch   chan Signal
	b    *Broadcaster
	once sync.Once
}

// Recv blocks for the next signal. It returns ErrClosed once the
// broadcaster is closed and the queue is drained, or ctx.Err on cancel.
func (s *Subscriber) Recv(ctx context.Context) (Signal, error) {
	select {
	case sig, ok := <-s.ch:
		if !ok {
			return Signal{}, ErrClosed
		}
		return sig, nil
	case <-ctx.Done():
		return Signal{}, ctx.Err()
	}
}

// Close unsubscribes without waiting for the broadcaster to shut down.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()
		if s.b.closed {
			return
		}
		delete(s.b.subs, s)
		close(s.ch)
	})
}
