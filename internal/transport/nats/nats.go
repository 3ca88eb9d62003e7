// Package nats implements the transport capabilities on core NATS:
// queues are queue-group subscriptions, buses are plain subjects.
//
// Core NATS does not store messages, so a push with no consumer connected is lost.
package nats

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-cluster/internal/transport"
)

const (
	defaultPrefix = "wirechat"
	queueGroup    = "workers"
	chanBuffer    = 256
)

// Transport is a NATS-backed transport.
type Transport struct {
	conn   *nats.Conn
	owned  bool
	prefix string
	log    *zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// New wraps an existing connection. Subjects are namespaced by prefix.
func New(conn *nats.Conn, prefix string, logger *zerolog.Logger) *Transport {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Transport{
		conn:   conn,
		prefix: prefix,
		log:    logger,
		done:   make(chan struct{}),
	}
}

// Dial connects to url.
func Dial(url, prefix string, logger *zerolog.Logger) (*Transport, error) {
	conn, err := nats.Connect(url, nats.Name("wirechat"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	t := New(conn, prefix, logger)
	t.owned = true
	return t, nil
}

// Queue returns the queue-group backed queue called name.
func (t *Transport) Queue(name string) transport.Queue {
	return &queue{t: t, subject: t.prefix + ".queue." + name}
}

// Bus returns the subject backed bus called name.
func (t *Transport) Bus(name string) transport.Bus {
	return &bus{t: t, base: t.prefix + ".bus." + name + "."}
}

// Close stops consumers and subscriptions; it drains the connection only if Dial created it.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if t.owned {
			err = t.conn.Drain()
		}
	})
	return err
}

func (t *Transport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// forward relays messages from a subscription until ctx or the transport ends.
func forward[T any](ctx context.Context, t *Transport, sub *nats.Subscription, in <-chan *nats.Msg, out chan<- T, conv func(*nats.Msg) (T, bool)) {
	defer close(out)
	defer func() {
		if err := sub.Unsubscribe(); err != nil && t.conn.IsConnected() {
			t.log.Debug().Err(err).Str("subject", sub.Subject).Msg("unsubscribe")
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			v, keep := conv(msg)
			if !keep {
				continue
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			case <-t.done:
				return
			}
		}
	}
}

type queue struct {
	t       *Transport
	subject string
}

func (q *queue) Push(ctx context.Context, payload []byte) error {
	if q.t.closed() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.t.conn.Publish(q.subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", q.subject, err)
	}
	return nil
}

func (q *queue) Consume(ctx context.Context) (<-chan []byte, error) {
	if q.t.closed() {
		return nil, transport.ErrClosed
	}
	in := make(chan *nats.Msg, chanBuffer)
	sub, err := q.t.conn.ChanQueueSubscribe(q.subject, queueGroup, in)
	if err != nil {
		return nil, fmt.Errorf("queue subscribe %s: %w", q.subject, err)
	}
	if err := q.t.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription %s: %w", q.subject, err)
	}

	out := make(chan []byte)
	go forward[[]byte](ctx, q.t, sub, in, out, func(m *nats.Msg) ([]byte, bool) {
		return m.Data, true
	})
	return out, nil
}

type bus struct {
	t    *Transport
	base string
}

func (b *bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.t.closed() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.t.conn.Publish(b.base+topic, payload); err != nil {
		return fmt.Errorf("publish %s: %w", b.base+topic, err)
	}
	return nil
}

func (b *bus) Subscribe(ctx context.Context, filters ...string) (<-chan transport.Publication, error) {
	if b.t.closed() {
		return nil, transport.ErrClosed
	}
	in := make(chan *nats.Msg, chanBuffer)
	sub, err := b.t.conn.ChanSubscribe(b.base+">", in)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s>: %w", b.base, err)
	}
	if err := b.t.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription %s>: %w", b.base, err)
	}

	filters = append([]string(nil), filters...)
	out := make(chan transport.Publication)
	go forward[transport.Publication](ctx, b.t, sub, in, out, func(m *nats.Msg) (transport.Publication, bool) {
		topic := strings.TrimPrefix(m.Subject, b.base)
		if !transport.Matches(topic, filters) {
			return transport.Publication{}, false
		}
		return transport.Publication{Topic: topic, Payload: m.Data}, true
	})
	return out, nil
}
