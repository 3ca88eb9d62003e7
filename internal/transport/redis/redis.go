// Package redis implements the transport capabilities on Redis:
// queues are lists (RPUSH / BLPOP), buses are pattern-subscribed channels.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-cluster/internal/transport"
)

const (
	defaultPrefix = "wirechat"
	popTimeout    = time.Second
)

// Transport is a Redis-backed transport shared by every process of a cluster.
type Transport struct {
	client goredis.UniversalClient
	owned  bool
	prefix string
	log    *zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// New wraps an existing client. Keys and channels are namespaced by prefix.
func New(client goredis.UniversalClient, prefix string, logger *zerolog.Logger) *Transport {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Transport{
		client: client,
		prefix: prefix,
		log:    logger,
		done:   make(chan struct{}),
	}
}

// Dial connects to addr and verifies the server answers.
func Dial(ctx context.Context, addr, prefix string, logger *zerolog.Logger) (*Transport, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	t := New(client, prefix, logger)
	t.owned = true
	return t, nil
}

// Queue returns the list-backed queue called name.
func (t *Transport) Queue(name string) transport.Queue {
	return &queue{t: t, key: t.prefix + ":queue:" + name}
}

// Bus returns the channel-backed bus called name.
func (t *Transport) Bus(name string) transport.Bus {
	return &bus{t: t, channel: t.prefix + ":bus:" + name + ":"}
}

// Close stops consumers and subscriptions; it closes the client only if Dial created it.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if t.owned {
			err = t.client.Close()
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

type queue struct {
	t   *Transport
	key string
}

func (q *queue) Push(ctx context.Context, payload []byte) error {
	if q.t.closed() {
		return transport.ErrClosed
	}
	if err := q.t.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.key, err)
	}
	return nil
}

func (q *queue) Consume(ctx context.Context) (<-chan []byte, error) {
	if q.t.closed() {
		return nil, transport.ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-ctx.Done():
		case <-q.t.done:
			cancel()
		}
	}()

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer cancel()
		for ctx.Err() == nil {
			vals, err := q.t.client.BLPop(ctx, popTimeout, q.key).Result()
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				q.t.log.Warn().Err(err).Str("queue", q.key).Msg("blpop failed")
				select {
				case <-time.After(popTimeout):
				case <-ctx.Done():
					return
				}
				continue
			}
			if len(vals) != 2 {
				continue
			}
			select {
			case out <- []byte(vals[1]):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type bus struct {
	t       *Transport
	channel string
}

func (b *bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.t.closed() {
		return transport.ErrClosed
	}
	if err := b.t.client.Publish(ctx, b.channel+topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", b.channel+topic, err)
	}
	return nil
}

func (b *bus) Subscribe(ctx context.Context, filters ...string) (<-chan transport.Publication, error) {
	if b.t.closed() {
		return nil, transport.ErrClosed
	}
	if len(filters) == 0 {
		return nil, errors.New("subscribe: no topic filters")
	}

	patterns := make([]string, len(filters))
	for i, f := range filters {
		patterns[i] = b.channel + f + "*"
	}

	ps := b.t.client.PSubscribe(ctx, patterns...)
	for range patterns {
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("psubscribe %s: %w", strings.Join(patterns, ","), err)
		}
	}

	messages := ps.Channel()
	out := make(chan transport.Publication)
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.t.done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				pub := transport.Publication{
					Topic:   strings.TrimPrefix(msg.Channel, b.channel),
					Payload: []byte(msg.Payload),
				}
				select {
				case out <- pub:
				case <-ctx.Done():
					return
				case <-b.t.done:
					return
				}
			}
		}
	}()
	return out, nil
}
