// Package app wires the cluster roles onto a transport and supervises them.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-cluster/internal/chat"
	"github.com/vovakirdan/wirechat-cluster/internal/config"
	"github.com/vovakirdan/wirechat-cluster/internal/engine"
	"github.com/vovakirdan/wirechat-cluster/internal/gateway"
	"github.com/vovakirdan/wirechat-cluster/internal/log"
	"github.com/vovakirdan/wirechat-cluster/internal/proto"
	"github.com/vovakirdan/wirechat-cluster/internal/rooms"
	"github.com/vovakirdan/wirechat-cluster/internal/transport"
	"github.com/vovakirdan/wirechat-cluster/internal/transport/memory"
	"github.com/vovakirdan/wirechat-cluster/internal/transport/nats"
	"github.com/vovakirdan/wirechat-cluster/internal/transport/redis"
	"github.com/vovakirdan/wirechat-cluster/internal/users"
	"github.com/vovakirdan/wirechat-cluster/internal/worker"
)

// Cluster roles.
const (
	RoleEngine  = "engine"
	RoleUsers   = "users"
	RoleRooms   = "rooms"
	RoleChat    = "chat"
	RoleGateway = "gateway"
)

// Roles lists every role in start order.
var Roles = []string{RoleUsers, RoleRooms, RoleChat, RoleEngine, RoleGateway}

// ErrUnknownRole is returned for a role name outside Roles.
var ErrUnknownRole = errors.New("unknown role")

type runner func(ctx context.Context) error

// App runs a set of roles over one transport.
type App struct {
	cfg     config.Config
	tr      transport.Transport
	log     *zerolog.Logger
	runners []runner
}

// New opens the configured transport and prepares roles. No roles means all of them.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger, roles ...string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		roles = Roles
	}
	if cfg.Transport.Kind == config.TransportMemory && len(roles) != len(Roles) {
		return nil, fmt.Errorf("app: transport %q only supports running every role in one process", cfg.Transport.Kind)
	}

	tr, err := OpenTransport(ctx, cfg.Transport, logger)
	if err != nil {
		return nil, err
	}
	a, err := NewWithTransport(cfg, tr, logger, roles...)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	return a, nil
}

// NewWithTransport prepares roles on an already open transport, which App then owns.
func NewWithTransport(cfg config.Config, tr transport.Transport, logger *zerolog.Logger, roles ...string) (*App, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if len(roles) == 0 {
		roles = Roles
	}

	a := &App{cfg: cfg, tr: tr, log: logger}
	for _, role := range roles {
		runners, err := a.build(role)
		if err != nil {
			return nil, err
		}
		a.runners = append(a.runners, runners...)
	}
	return a, nil
}

// OpenTransport connects the transport selected by cfg.Kind.
func OpenTransport(ctx context.Context, cfg config.TransportConfig, logger *zerolog.Logger) (transport.Transport, error) {
	switch cfg.Kind {
	case config.TransportMemory:
		return memory.New(memory.Options{QueueBuffer: cfg.QueueBuffer, BusBuffer: cfg.BusBuffer}, logger), nil
	case config.TransportRedis:
		tr, err := redis.Dial(ctx, cfg.RedisAddr, cfg.Prefix, logger)
		if err != nil {
			return nil, fmt.Errorf("app: open redis transport: %w", err)
		}
		return tr, nil
	case config.TransportNATS:
		tr, err := nats.Dial(cfg.NATSURL, cfg.Prefix, logger)
		if err != nil {
			return nil, fmt.Errorf("app: open nats transport: %w", err)
		}
		return tr, nil
	default:
		return nil, fmt.Errorf("app: unknown transport kind %q", cfg.Kind)
	}
}

func (a *App) build(role string) ([]runner, error) {
	logger := log.Component(a.log, role)

	switch role {
	case RoleEngine:
		return []runner{engine.New(a.tr, logger).Run}, nil
	case RoleUsers:
		rt := a.runtime(role, proto.QueueUsers, logger, proto.TopicRooms)
		return []runner{users.New(rt).Run}, nil
	case RoleRooms:
		rt := a.runtime(role, proto.QueueRooms, logger, proto.TopicUsers)
		return []runner{rooms.New(rt).Run}, nil
	case RoleChat:
		pool := a.cfg.ChatPool
		if pool < 1 {
			pool = 1
		}
		runners := make([]runner, 0, pool)
		for i := 0; i < pool; i++ {
			replica := logger.With().Int("replica", i).Logger()
			rt := a.runtime(fmt.Sprintf("chat-%d", i), proto.QueueChat, &replica, proto.TopicUsers)
			runners = append(runners, chat.New(rt).Run)
		}
		return runners, nil
	case RoleGateway:
		return []runner{gateway.New(a.cfg.Gateway, a.tr, logger).Run}, nil
	default:
		return nil, fmt.Errorf("app: %w: %q", ErrUnknownRole, role)
	}
}

func (a *App) runtime(name, queue string, logger *zerolog.Logger, topics ...string) *worker.Runtime {
	return worker.New(worker.Config{
		Name:       name,
		Queue:      queue,
		Inbox:      a.tr.Queue(queue),
		Replies:    a.tr.Queue(proto.QueueReplies),
		Publisher:  a.tr.Bus(proto.BusUpstream),
		Subscriber: a.tr.Bus(proto.BusDownstream),
		Topics:     topics,
	}, logger)
}

// Run starts every prepared role and blocks until ctx is cancelled or a role fails.
// The transport is closed on return.
func (a *App) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, run := range a.runners {
		run := run
		group.Go(func() error { return run(groupCtx) })
	}

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	a.log.Info().Int("workers", len(a.runners)).Msg("cluster started")

	select {
	case err := <-done:
		a.cleanup()
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down workers")
	timeout := a.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		a.cleanup()
		return err
	case <-timer.C:
		a.cleanup()
		return fmt.Errorf("app: workers still running after %s", timeout)
	}
}

func (a *App) cleanup() {
	if err := a.tr.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close transport")
		return
	}
	a.log.Info().Msg("transport closed")
}
