// Package memory implements the transport capabilities with Go channels,
// for running the whole cluster inside one process.
package memory

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-cluster/internal/transport"
)

const (
	defaultQueueBuffer = 1024
	defaultBusBuffer   = 256
)

// Options tunes channel capacities. Zero values use defaults.
type Options struct {
	QueueBuffer int
	BusBuffer   int
}

// Transport is an in-process transport.
type Transport struct {
	opts Options
	log  *zerolog.Logger

	mu     sync.Mutex
	queues map[string]*queue
	buses  map[string]*bus

	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// New creates an empty in-process transport.
func New(opts Options, logger *zerolog.Logger) *Transport {
	if opts.QueueBuffer <= 0 {
		opts.QueueBuffer = defaultQueueBuffer
	}
	if opts.BusBuffer <= 0 {
		opts.BusBuffer = defaultBusBuffer
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Transport{
		opts:   opts,
		log:    logger,
		queues: make(map[string]*queue),
		buses:  make(map[string]*bus),
		done:   make(chan struct{}),
	}
}

// Queue returns the queue called name, creating it on first use.
func (t *Transport) Queue(name string) transport.Queue {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[name]
	if !ok {
		q = &queue{t: t, ch: make(chan []byte, t.opts.QueueBuffer)}
		t.queues[name] = q
	}
	return q
}

// Bus returns the bus called name, creating it on first use.
func (t *Transport) Bus(name string) transport.Bus {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buses[name]
	if !ok {
		b = &bus{t: t, name: name, subs: make(map[*subscriber]struct{})}
		t.buses[name] = b
	}
	return b
}

// Close stops every consumer and subscription.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

type queue struct {
	t  *Transport
	ch chan []byte
}

func (q *queue) Push(ctx context.Context, payload []byte) error {
	select {
	case <-q.t.done:
		return transport.ErrClosed
	default:
	}
	select {
	case q.ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.t.done:
		return transport.ErrClosed
	}
}

func (q *queue) Consume(ctx context.Context) (<-chan []byte, error) {
	select {
	case <-q.t.done:
		return nil, transport.ErrClosed
	default:
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.t.done:
				return
			case payload := <-q.ch:
				select {
				case out <- payload:
				case <-ctx.Done():
					return
				case <-q.t.done:
					return
				}
			}
		}
	}()
	return out, nil
}

type subscriber struct {
	filters []string
	ch      chan transport.Publication
}

type bus struct {
	t    *Transport
	name string

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// Publish never blocks: a subscriber whose buffer is full misses the publication.
func (b *bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-b.t.done:
		return transport.ErrClosed
	default:
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !transport.Matches(topic, sub.filters) {
			continue
		}
		select {
		case sub.ch <- transport.Publication{Topic: topic, Payload: payload}:
		default:
			b.t.log.Warn().Str("bus", b.name).Str("topic", topic).Msg("subscriber buffer full, publication dropped")
		}
	}
	return nil
}

func (b *bus) Subscribe(ctx context.Context, filters ...string) (<-chan transport.Publication, error) {
	select {
	case <-b.t.done:
		return nil, transport.ErrClosed
	default:
	}

	sub := &subscriber{
		filters: append([]string(nil), filters...),
		ch:      make(chan transport.Publication, b.t.opts.BusBuffer),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.t.done:
		}
		b.mu.Lock()
		delete(b.subs, sub)
		close(sub.ch)
		b.mu.Unlock()
	}()
	return sub.ch, nil
}
