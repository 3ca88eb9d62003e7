// Package gateway terminates client connections and bridges them to the engine.
//
// Every connection gets a random identity. The gateway pushes one envelope per
// line to the engine queue, an empty envelope when a connection opens and
// another when the client goes away, and executes the send and close
// directives it receives on the gateway queue.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-cluster/internal/config"
	"github.com/vovakirdan/wirechat-cluster/internal/core"
	"github.com/vovakirdan/wirechat-cluster/internal/proto"
	"github.com/vovakirdan/wirechat-cluster/internal/transport"
)

// conn is one client connection, regardless of its wire protocol.
type conn interface {
	Write(ctx context.Context, text string) error
	Close() error
}

// Gateway owns the client connections.
type Gateway struct {
	cfg config.GatewayConfig
	tr  transport.Transport
	log zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	roomsMu sync.RWMutex
	rooms   []proto.Room
}

// New creates a gateway on tr.
func New(cfg config.GatewayConfig, tr transport.Transport, logger *zerolog.Logger) *Gateway {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Gateway{
		cfg:      cfg,
		tr:       tr,
		log:      logger.With().Str("worker", "gateway").Logger(),
		sessions: make(map[string]*session),
		rooms:    []proto.Room{},
	}
}

// Run executes directives, tracks the room list and serves the configured
// listeners until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	directives, err := g.tr.Queue(proto.QueueGateway).Consume(ctx)
	if err != nil {
		return fmt.Errorf("gateway: consume %s: %w", proto.QueueGateway, err)
	}
	rooms, err := g.tr.Bus(proto.BusDownstream).Subscribe(ctx, proto.TopicRooms)
	if err != nil {
		return fmt.Errorf("gateway: subscribe %s: %w", proto.BusDownstream, err)
	}

	var ln net.Listener
	if g.cfg.TCPAddr != "" {
		if ln, err = net.Listen("tcp", g.cfg.TCPAddr); err != nil {
			return fmt.Errorf("gateway: listen tcp %s: %w", g.cfg.TCPAddr, err)
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		g.serveDirectives(ctx, directives)
		return nil
	})
	group.Go(func() error {
		g.watchRooms(rooms)
		return nil
	})

	if ln != nil {
		g.log.Info().Str("addr", ln.Addr().String()).Msg("tcp gateway listening")
		group.Go(func() error { return g.ServeTCP(ctx, ln) })
	}

	if g.cfg.HTTPAddr != "" {
		srv := &stdhttp.Server{
			Addr:              g.cfg.HTTPAddr,
			Handler:           g.Handler(),
			ReadHeaderTimeout: g.cfg.ReadHeaderTimeout,
		}
		group.Go(func() error {
			g.log.Info().Str("addr", g.cfg.HTTPAddr).Msg("http gateway listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				return fmt.Errorf("gateway: serve http: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	err = group.Wait()
	g.closeAll()
	return err
}

func (g *Gateway) serveDirectives(ctx context.Context, directives <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-directives:
			if !ok {
				return
			}
			g.execute(data)
		}
	}
}

// execute never blocks on a client: texts are queued on the session's outbox.
func (g *Gateway) execute(data []byte) {
	msg, err := proto.DecodeCommand(data)
	if err != nil {
		g.log.Warn().Err(err).Msg("dropping undecodable directive")
		return
	}
	if !msg.Valid() {
		g.log.Warn().Msg("dropping invalid directive")
		return
	}

	switch core.ParseCommand(proto.QueueGateway, msg.Command) {
	case core.CommandSend:
		g.send(msg.Identity, msg.Arguments)
	case core.CommandClose:
		g.mu.Lock()
		if s := g.sessions[msg.Identity]; s != nil {
			s.closing = true
			s.seal()
		}
		g.mu.Unlock()
	default:
		g.log.Warn().Str("command", msg.Command).Msg("dropping unknown directive")
	}
}

func (g *Gateway) send(identity, text string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.sessions[identity]
	if s == nil {
		g.log.Debug().Str("identity", identity).Msg("send to unknown connection")
		return
	}
	if s.enqueue(text) {
		return
	}
	// The client is not reading. Dropping it makes the read side report the
	// disconnect like any other client-side close.
	g.log.Warn().Str("identity", identity).Msg("outbox full, dropping connection")
	s.seal()
	if err := s.conn.Close(); err != nil {
		g.log.Debug().Err(err).Str("identity", identity).Msg("close client")
	}
}

func (g *Gateway) watchRooms(updates <-chan transport.Publication) {
	for pub := range updates {
		rooms, err := proto.DecodeRooms(pub.Payload)
		if err != nil {
			g.log.Warn().Err(err).Msg("dropping rooms snapshot")
			continue
		}
		g.roomsMu.Lock()
		g.rooms = rooms
		g.roomsMu.Unlock()
	}
}

// Rooms returns the latest rooms snapshot seen on the downstream bus.
func (g *Gateway) Rooms() []proto.Room {
	g.roomsMu.RLock()
	defer g.roomsMu.RUnlock()
	return append([]proto.Room(nil), g.rooms...)
}

// open registers c and announces it to the engine.
func (g *Gateway) open(ctx context.Context, c conn) string {
	identity := uuid.NewString()
	s := newSession(c)
	g.mu.Lock()
	g.sessions[identity] = s
	g.mu.Unlock()

	go s.write(ctx, g.log.With().Str("identity", identity).Logger())

	g.log.Debug().Str("identity", identity).Msg("connection opened")
	g.forward(ctx, identity, "")
	return identity
}

// closed unregisters identity and, unless the cluster closed it, reports the disconnect.
func (g *Gateway) closed(ctx context.Context, identity string) {
	g.mu.Lock()
	s := g.sessions[identity]
	delete(g.sessions, identity)
	if s != nil {
		s.seal()
	}
	g.mu.Unlock()

	g.log.Debug().Str("identity", identity).Msg("connection closed")
	if s != nil && !s.closing {
		g.forward(ctx, identity, "")
	}
}

// line forwards one client line, normalized to end with a single "\n".
func (g *Gateway) line(ctx context.Context, identity, text string) {
	text = strings.TrimRight(text, "\r\n")
	g.forward(ctx, identity, text+"\n")
}

func (g *Gateway) forward(ctx context.Context, identity, body string) {
	data, err := proto.EncodeEnvelope(proto.ClientEnvelope{Identity: identity, Body: body})
	if err != nil {
		g.log.Error().Err(err).Msg("encode envelope")
		return
	}
	if err := g.tr.Queue(proto.QueueEngine).Push(ctx, data); err != nil {
		g.log.Warn().Err(err).Str("identity", identity).Msg("forward to engine")
	}
}

func (g *Gateway) closeAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, s := range g.sessions {
		s.closing = true
		s.seal()
		if err := s.conn.Close(); err != nil {
			g.log.Debug().Err(err).Str("identity", id).Msg("close client")
		}
	}
}
