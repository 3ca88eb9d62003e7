package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-cluster/internal/config"
	"github.com/vovakirdan/wirechat-cluster/internal/core"
	"github.com/vovakirdan/wirechat-cluster/internal/proto"
	"github.com/vovakirdan/wirechat-cluster/internal/transport/memory"
)

type harness struct {
	ctx    context.Context
	tr     *memory.Transport
	gw     *Gateway
	engine <-chan []byte
}

func startGateway(t *testing.T, cfg config.GatewayConfig) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	tr := memory.New(memory.Options{}, nil)

	engine, err := tr.Queue(proto.QueueEngine).Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	gw := New(cfg, tr, nil)
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("gateway returned error: %v", err)
		}
		_ = tr.Close()
	})
	return &harness{ctx: ctx, tr: tr, gw: gw, engine: engine}
}

func (h *harness) serveTCP(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = h.gw.ServeTCP(h.ctx, ln) }()
	return ln.Addr().String()
}

func (h *harness) nextEnvelope(t *testing.T) proto.ClientEnvelope {
	t.Helper()
	select {
	case data := <-h.engine:
		env, err := proto.DecodeEnvelope(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return env
	case <-h.ctx.Done():
		t.Fatalf("timed out waiting for envelope")
	}
	return proto.ClientEnvelope{}
}

func (h *harness) expectNoEnvelope(t *testing.T) {
	t.Helper()
	select {
	case data := <-h.engine:
		t.Fatalf("unexpected envelope %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func (h *harness) direct(t *testing.T, msg proto.InternalCommand) {
	t.Helper()
	data, _ := proto.EncodeCommand(msg)
	if err := h.tr.Queue(proto.QueueGateway).Push(h.ctx, data); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func TestTCPSession(t *testing.T) {
	h := startGateway(t, config.GatewayConfig{})
	conn, err := net.Dial("tcp", h.serveTCP(t))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)

	opened := h.nextEnvelope(t)
	if opened.Identity == "" || opened.Body != "" {
		t.Fatalf("expected connect envelope, got %+v", opened)
	}

	if _, err := io.WriteString(conn, "hello\r\n/rooms\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, want := range []string{"hello\n", "/rooms\n"} {
		if env := h.nextEnvelope(t); env.Identity != opened.Identity || env.Body != want {
			t.Fatalf("expected %q from %s, got %+v", want, opened.Identity, env)
		}
	}

	h.direct(t, core.Send(opened.Identity, "<= hi\n"))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadString('\n')
	if err != nil || line != "<= hi\n" {
		t.Fatalf("expected greeting, got %q (%v)", line, err)
	}

	h.direct(t, core.Close(opened.Identity))
	if _, err := reader.ReadString('\n'); err != io.EOF {
		t.Fatalf("expected EOF after close directive, got %v", err)
	}
	h.expectNoEnvelope(t)
}

func TestTCPDisconnectIsReported(t *testing.T) {
	h := startGateway(t, config.GatewayConfig{})
	conn, err := net.Dial("tcp", h.serveTCP(t))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	opened := h.nextEnvelope(t)
	_ = conn.Close()

	closed := h.nextEnvelope(t)
	if closed.Identity != opened.Identity || closed.Body != "" {
		t.Fatalf("expected disconnect envelope, got %+v", closed)
	}
}

func TestTCPLineLimit(t *testing.T) {
	h := startGateway(t, config.GatewayConfig{MaxLineBytes: 16})
	conn, err := net.Dial("tcp", h.serveTCP(t))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	opened := h.nextEnvelope(t)

	if _, err := io.WriteString(conn, strings.Repeat("x", 64)+"\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if env := h.nextEnvelope(t); env.Identity != opened.Identity || env.Body != "" {
		t.Fatalf("oversized line should drop the connection, got %+v", env)
	}
}

func TestSlowClientDoesNotStallOthers(t *testing.T) {
	h := startGateway(t, config.GatewayConfig{})
	addr := h.serveTCP(t)

	slow, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer slow.Close()
	stalled := h.nextEnvelope(t)

	fast, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer fast.Close()
	healthy := h.nextEnvelope(t)

	big := strings.Repeat("x", 1<<20) + "\n"
	for i := 0; i < 100; i++ {
		h.direct(t, core.Send(stalled.Identity, big))
	}
	h.direct(t, core.Send(healthy.Identity, "<= hi\n"))

	_ = fast.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(fast).ReadString('\n')
	if err != nil || line != "<= hi\n" {
		t.Fatalf("healthy client starved: %q (%v)", line, err)
	}

	if env := h.nextEnvelope(t); env.Identity != stalled.Identity || env.Body != "" {
		t.Fatalf("expected the stalled client to be dropped, got %+v", env)
	}
}

func TestCloseFlushesQueuedOutput(t *testing.T) {
	h := startGateway(t, config.GatewayConfig{})
	conn, err := net.Dial("tcp", h.serveTCP(t))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	opened := h.nextEnvelope(t)

	h.direct(t, core.Send(opened.Identity, "<= one\n"))
	h.direct(t, core.Send(opened.Identity, "BYE\n"))
	h.direct(t, core.Close(opened.Identity))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := io.ReadAll(conn)
	if err != nil || string(got) != "<= one\nBYE\n" {
		t.Fatalf("expected queued output before close, got %q (%v)", got, err)
	}
	h.expectNoEnvelope(t)
}

type blockedConn struct {
	release chan struct{}
	closed  chan struct{}
}

func (c *blockedConn) Write(ctx context.Context, _ string) error {
	select {
	case <-c.release:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *blockedConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func TestSessionOutboxIsBounded(t *testing.T) {
	c := &blockedConn{release: make(chan struct{}), closed: make(chan struct{})}
	s := newSession(c)
	go s.write(context.Background(), zerolog.Nop())

	// One text may already be held by the writer.
	accepted := 0
	for i := 0; i < outboxSize+2; i++ {
		if s.enqueue("x") {
			accepted++
		}
	}
	if accepted > outboxSize+1 {
		t.Fatalf("outbox accepted %d texts", accepted)
	}

	close(c.release)
	select {
	case <-c.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("failed write must close the connection")
	}
	s.seal()
	if !s.enqueue("late") {
		t.Fatalf("sealed session must swallow texts")
	}
}

func TestDirectiveForUnknownConnection(t *testing.T) {
	h := startGateway(t, config.GatewayConfig{})
	h.direct(t, core.Send("ghost", "<= hi\n"))
	h.direct(t, core.Close("ghost"))
	h.expectNoEnvelope(t)
}

func TestWebSocketSession(t *testing.T) {
	h := startGateway(t, config.GatewayConfig{})
	srv := httptest.NewServer(h.gw.Handler())
	defer srv.Close()

	conn, _, err := websocket.Dial(h.ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	opened := h.nextEnvelope(t)
	if err := conn.Write(h.ctx, websocket.MessageText, []byte("alice")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if env := h.nextEnvelope(t); env.Identity != opened.Identity || env.Body != "alice\n" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	h.direct(t, core.Send(opened.Identity, "Welcome alice!\n"))
	typ, data, err := conn.Read(h.ctx)
	if err != nil || typ != websocket.MessageText || string(data) != "Welcome alice!\n" {
		t.Fatalf("unexpected message %q (%v)", data, err)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	if env := h.nextEnvelope(t); env.Identity != opened.Identity || env.Body != "" {
		t.Fatalf("expected disconnect envelope, got %+v", env)
	}
}

func TestHealthAndRooms(t *testing.T) {
	h := startGateway(t, config.GatewayConfig{})
	handler := h.gw.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}

	snapshot, _ := proto.EncodeRooms([]proto.Room{{Name: "lobby", ConnectedUsers: 2}})
	deadline := time.Now().Add(2 * time.Second)
	for len(h.gw.Rooms()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("rooms snapshot never applied")
		}
		_ = h.tr.Bus(proto.BusDownstream).Publish(h.ctx, proto.TopicRooms, snapshot)
		time.Sleep(10 * time.Millisecond)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var rooms []RoomResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &rooms); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(rooms) != 1 || rooms[0] != (RoomResponse{Name: "lobby", ConnectedUsers: 2}) {
		t.Fatalf("unexpected rooms %+v", rooms)
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(0, 0)
	r := newRateLimiter(2, time.Minute)
	r.now = func() time.Time { return now }

	if !r.allow() || !r.allow() {
		t.Fatalf("first two lines must pass")
	}
	if r.allow() {
		t.Fatalf("third line must be limited")
	}
	now = now.Add(time.Minute)
	if !r.allow() {
		t.Fatalf("limit must reset after the window")
	}

	if !newRateLimiter(0, time.Minute).allow() {
		t.Fatalf("zero limit disables limiting")
	}
}
