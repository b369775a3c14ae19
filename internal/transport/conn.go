package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrConnClosed is returned when sending on a closed connection
var ErrConnClosed = errors.New("connection closed")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	outboundBuffer = 256
)

// wsConn serializes writes to one candidate connection through a single writer goroutine
type wsConn struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	out       chan any
	done      chan struct{}
	closeOnce sync.Once
	writerWG  sync.WaitGroup
}

func newWSConn(conn *websocket.Conn, logger zerolog.Logger) *wsConn {
	c := &wsConn{
		conn:   conn,
		logger: logger,
		out:    make(chan any, outboundBuffer),
		done:   make(chan struct{}),
	}
	c.writerWG.Add(1)
	go c.writePump()
	return c
}

// Send queues a JSON message for the client
func (c *wsConn) Send(v any) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- v:
		return nil
	case <-c.done:
		return ErrConnClosed
	}
}

func (c *wsConn) writePump() {
	defer c.writerWG.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn().Err(err).Msg("WebSocket write error")
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued before the socket goes away
func (c *wsConn) flush() {
	for {
		select {
		case msg := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Close stops the writer after flushing queued messages
func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// wait blocks until the writer has exited
func (c *wsConn) wait() {
	c.writerWG.Wait()
}
