package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kaustavdm/audio-transcript-webrtc/internal/app"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/config"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

const controlWriteWait = 5 * time.Second

type Controller struct {
	Orch    *app.Orchestrator
	limiter *RateLimiter
	cfg     *config.Config
}

func NewController(orch *app.Orchestrator, cfg *config.Config) *Controller {
	return &Controller{
		Orch:    orch,
		limiter: NewRateLimiter(20, time.Second),
		cfg:     cfg,
	}
}

type WsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsConn) Ping() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteWait))
}

// Close stops the connection accepting frames and closes the send
// queue. The writePump drains whatever is already queued and closes the
// underlying socket, so an Error sent just before teardown still
// reaches the client.
func (c *WsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("token", token).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &WsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	sess := ctl.Orch.Connect(ctx, conn)
	ws.SetReadLimit(ctl.cfg.ReadLimit)
	ws.SetPongHandler(func(string) error {
		sess.MarkAlive()
		return nil
	})

	go ctl.writePump(sess.Context(), conn)
	go ctl.readPump(sess.Context(), sess, conn)
}
