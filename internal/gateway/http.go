package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// RoomResponse is one entry of GET /api/rooms.
type RoomResponse struct {
	Name           string `json:"name"`
	ConnectedUsers int    `json:"connected_users"`
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Write(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, []byte(text))
}

// Close does not wait for the peer to acknowledge the close frame.
func (c *wsConn) Close() error {
	go func() {
		_ = c.conn.Close(websocket.StatusNormalClosure, "closing")
	}()
	return nil
}

// Handler returns the HTTP surface: health check, room list and the WebSocket endpoint.
func (g *Gateway) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), g.loggerMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/api/rooms", g.listRooms)
	r.GET("/ws", g.serveWS)
	return r
}

func (g *Gateway) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		g.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

// listRooms handles GET /api/rooms.
func (g *Gateway) listRooms(c *gin.Context) {
	rooms := g.Rooms()
	resp := make([]RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		resp = append(resp, RoomResponse{Name: room.Name, ConnectedUsers: room.ConnectedUsers})
	}
	c.JSON(http.StatusOK, resp)
}

// serveWS handles GET /ws. Every text message is one client line.
func (g *Gateway) serveWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.log.Error().Err(err).Msg("ws accept error")
		return
	}
	maxLine := g.cfg.MaxLineBytes
	if maxLine <= 0 {
		maxLine = defaultMaxLine
	}
	conn.SetReadLimit(int64(maxLine))

	ctx := c.Request.Context()
	identity := g.open(ctx, &wsConn{conn: conn})
	defer g.closed(context.WithoutCancel(ctx), identity)

	limiter := newRateLimiter(g.cfg.RateLimit, rateLimitWindow)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				g.log.Debug().Err(err).Str("identity", identity).Msg("ws read")
			}
			_ = conn.CloseNow()
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		if !limiter.allow() {
			g.log.Debug().Str("identity", identity).Msg("rate limit exceeded, line dropped")
			continue
		}
		for _, line := range strings.Split(strings.TrimRight(string(data), "\r\n"), "\n") {
			g.line(ctx, identity, line)
		}
	}
}
