package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/coder/websocket"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "tester", "login to configure")
	room := flag.String("room", "general", "room to create and join")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	// Each step waits for its acknowledgement so the cluster state has settled.
	steps := []struct {
		line   string
		expect string
	}{
		{"", "Login Name ?"},
		{*user, "Welcome " + *user},
		{"/create " + *room, *room},
		{"/join " + *room, "end of list."},
		{*text, *user + ": " + *text},
		{"/quit", "BYE"},
	}

	for _, step := range steps {
		if step.line != "" {
			if err := conn.Write(ctx, websocket.MessageText, []byte(step.line)); err != nil {
				log.Fatalf("send %q: %v", step.line, err)
			}
		}
		if err := waitFor(ctx, conn, step.expect); err != nil {
			log.Fatalf("after %q: %v", step.line, err)
		}
	}
	fmt.Println("smoke test passed")
}

func waitFor(ctx context.Context, conn *websocket.Conn, want string) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("waiting for %q: %w", want, err)
		}
		fmt.Print(string(data))
		if strings.Contains(string(data), want) {
			return nil
		}
	}
}
