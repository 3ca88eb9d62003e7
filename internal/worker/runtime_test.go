package worker

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-cluster/internal/core"
	"github.com/vovakirdan/wirechat-cluster/internal/proto"
	"github.com/vovakirdan/wirechat-cluster/internal/transport/memory"
)

type broadcast struct {
	topic   string
	payload string
}

type recordingHandler struct {
	commands   chan core.Command
	broadcasts chan broadcast
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		commands:   make(chan core.Command, 16),
		broadcasts: make(chan broadcast, 16),
	}
}

func (h *recordingHandler) HandleCommand(_ context.Context, cmd core.Command) {
	h.commands <- cmd
}

func (h *recordingHandler) HandleBroadcast(_ context.Context, topic string, payload []byte) {
	h.broadcasts <- broadcast{topic: topic, payload: string(payload)}
}

func newTestRuntime(t *testing.T) (*Runtime, *memory.Transport) {
	t.Helper()
	tr := memory.New(memory.Options{}, nil)
	t.Cleanup(func() { _ = tr.Close() })

	rt := New(Config{
		Name:       "users",
		Queue:      proto.QueueUsers,
		Inbox:      tr.Queue(proto.QueueUsers),
		Replies:    tr.Queue(proto.QueueReplies),
		Publisher:  tr.Bus(proto.BusUpstream),
		Subscriber: tr.Bus(proto.BusDownstream),
		Topics:     []string{proto.TopicRooms},
	}, nil)
	return rt, tr
}

func startRuntime(t *testing.T, rt *Runtime, h Handler) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx, h) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("run returned error: %v", err)
		}
	})
	return ctx
}

func push(t *testing.T, ctx context.Context, tr *memory.Transport, raw string) {
	t.Helper()
	if err := tr.Queue(proto.QueueUsers).Push(ctx, []byte(raw)); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func TestRunDispatchesValidCommandsOnly(t *testing.T) {
	rt, tr := newTestRuntime(t)
	h := newRecordingHandler()
	ctx := startRuntime(t, rt, h)

	push(t, ctx, tr, `not json`)
	push(t, ctx, tr, `{"identity":"","command":"join"}`)
	push(t, ctx, tr, `{"identity":"a"}`)
	push(t, ctx, tr, `{"identity":"a","command":"broadcast"}`)
	push(t, ctx, tr, `{"identity":"a","command":"join","arguments":"room1"}`)

	select {
	case cmd := <-h.commands:
		if cmd.Kind != core.CommandJoin || cmd.Identity != "a" || cmd.Arguments != "room1" {
			t.Fatalf("unexpected command: %+v", cmd)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for command")
	}

	select {
	case cmd := <-h.commands:
		t.Fatalf("unexpected extra command: %+v", cmd)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunDeliversSubscribedTopics(t *testing.T) {
	rt, tr := newTestRuntime(t)
	h := newRecordingHandler()
	ctx := startRuntime(t, rt, h)

	// Wait until the loop subscribed by round-tripping a command first.
	push(t, ctx, tr, `{"identity":"a","command":"create"}`)
	<-h.commands

	down := tr.Bus(proto.BusDownstream)
	_ = down.Publish(ctx, proto.TopicUsers, []byte(`{}`))
	_ = down.Publish(ctx, proto.TopicRooms, []byte(`[]`))

	select {
	case b := <-h.broadcasts:
		if b.topic != proto.TopicRooms || b.payload != "[]" {
			t.Fatalf("unexpected broadcast: %+v", b)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for broadcast")
	}
}

func TestReplyAndPublish(t *testing.T) {
	rt, tr := newTestRuntime(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	up, err := tr.Bus(proto.BusUpstream).Subscribe(ctx, proto.TopicUsers)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	replies, _ := tr.Queue(proto.QueueReplies).Consume(ctx)

	rt.Reply(ctx, core.Send("a", "hello"), core.Close("a"))
	rt.Publish(ctx, proto.TopicUsers, []byte(`{"a":{"login":"","room":""}}`))

	for _, want := range []string{"send", "close"} {
		select {
		case data := <-replies:
			msg, err := proto.DecodeCommand(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if msg.Command != want || msg.Identity != "a" {
				t.Fatalf("expected %s to a, got %+v", want, msg)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	select {
	case pub := <-up:
		if pub.Topic != proto.TopicUsers {
			t.Fatalf("unexpected topic %q", pub.Topic)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for publication")
	}
}
