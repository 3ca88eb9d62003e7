// Package transport defines the two messaging capabilities the cluster is built on.
//
// A Queue is point-to-point: every pushed payload is handed to exactly one consumer,
// FIFO per producer, at most once. A Bus is fan-out: every published payload reaches
// all current subscribers whose topic filter is a prefix of the topic; late subscribers
// get no history.
package transport

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// Queue is a work queue with many producers and one or more competing consumers.
type Queue interface {
	// Push enqueues payload, blocking while the queue is full.
	Push(ctx context.Context, payload []byte) error
	// Consume returns a channel of payloads. Consumers of the same queue compete.
	// The channel is closed when ctx is done or the transport closes.
	Consume(ctx context.Context) (<-chan []byte, error)
}

// Publication is one payload received from a Bus.
type Publication struct {
	Topic   string
	Payload []byte
}

// Bus is a publish/subscribe channel filtered by topic prefix.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe returns publications for topics starting with any of the filters.
	// The subscription is active when Subscribe returns. The channel is closed when
	// ctx is done or the transport closes.
	Subscribe(ctx context.Context, filters ...string) (<-chan Publication, error)
}

// Transport hands out named queues and buses.
type Transport interface {
	Queue(name string) Queue
	Bus(name string) Bus
	Close() error
}

// Matches reports whether topic passes any of the prefix filters.
func Matches(topic string, filters []string) bool {
	for _, f := range filters {
		if strings.HasPrefix(topic, f) {
			return true
		}
	}
	return false
}
