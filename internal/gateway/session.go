package gateway

import (
	"context"

	"github.com/rs/zerolog"
)

// outboxSize bounds the texts queued for one connection before it is dropped.
const outboxSize = 64

// session is one registered connection. Its writer goroutine owns conn writes;
// everything else only enqueues. Fields other than conn and outbox are guarded
// by Gateway.mu.
type session struct {
	conn   conn
	outbox chan string

	// closing is set once the cluster asked for the connection to be closed.
	closing bool
	sealed  bool
}

func newSession(c conn) *session {
	return &session{conn: c, outbox: make(chan string, outboxSize)}
}

// enqueue hands text to the writer without blocking. It reports false when
// the outbox is full. Callers hold Gateway.mu.
func (s *session) enqueue(text string) bool {
	if s.sealed {
		return true
	}
	select {
	case s.outbox <- text:
		return true
	default:
		return false
	}
}

// seal stops accepting texts; the writer flushes what is queued and closes conn.
// Callers hold Gateway.mu.
func (s *session) seal() {
	if s.sealed {
		return
	}
	s.sealed = true
	close(s.outbox)
}

// write drains the outbox until it is sealed. A failed write drops the connection.
func (s *session) write(ctx context.Context, log zerolog.Logger) {
	for text := range s.outbox {
		if err := s.conn.Write(ctx, text); err != nil {
			log.Warn().Err(err).Msg("write to client, dropping connection")
			_ = s.conn.Close()
			for range s.outbox {
			}
			return
		}
	}
	_ = s.conn.Close()
}
