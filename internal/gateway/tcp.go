package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	writeTimeout    = 5 * time.Second
	defaultMaxLine  = 4096
	rateLimitWindow = time.Minute
)

type tcpConn struct {
	conn net.Conn
}

func (c *tcpConn) Write(_ context.Context, text string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := io.WriteString(c.conn, text)
	return err
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

// ServeTCP accepts line-oriented clients on ln until ctx is cancelled.
func (g *Gateway) ServeTCP(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("gateway: accept: %w", err)
		}
		go g.serveTCPConn(ctx, c)
	}
}

func (g *Gateway) serveTCPConn(ctx context.Context, c net.Conn) {
	identity := g.open(ctx, &tcpConn{conn: c})
	defer func() {
		_ = c.Close()
		g.closed(ctx, identity)
	}()

	maxLine := g.cfg.MaxLineBytes
	if maxLine <= 0 {
		maxLine = defaultMaxLine
	}
	limiter := newRateLimiter(g.cfg.RateLimit, rateLimitWindow)

	scanner := bufio.NewScanner(c)
	scanner.Buffer(make([]byte, 0, 256), maxLine)
	for scanner.Scan() {
		if !limiter.allow() {
			g.log.Debug().Str("identity", identity).Msg("rate limit exceeded, line dropped")
			continue
		}
		g.line(ctx, identity, scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		g.log.Debug().Err(err).Str("identity", identity).Msg("tcp read")
	}
}
