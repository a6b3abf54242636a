package handler

import (
	"sync"
	"time"

	"discussion_forum/internal/pkg/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxFrameSize = 8 << 10

// wsConn 基于 gorilla/websocket 的连接，写操作全部在 writePump 中完成
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	writeTimeout time.Duration
	pingInterval time.Duration
	log          *zap.Logger
}

func newWSConn(ws *websocket.Conn, opts Options, log *zap.Logger) *wsConn {
	id := uuid.New().String()
	return &wsConn{
		id:           id,
		ws:           ws,
		send:         make(chan []byte, opts.SendBuffer),
		done:         make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		log:          log.With(zap.String("conn_id", id)),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send 非阻塞入队，队列满说明客户端读得太慢，直接断开
func (c *wsConn) Send(frame []byte) error {
	select {
	case <-c.done:
		return realtime.ErrConnClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return realtime.ErrConnClosed
	default:
		c.log.Warn("send buffer full, closing connection")
		c.Close()
		return realtime.ErrSendFull
	}
}

// Close 可重复调用，底层连接由 writePump 关闭
func (c *wsConn) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsConn) closed() <-chan struct{} {
	return c.done
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
			return
		}
	}
}

// readPump 把收到的文本帧交给 handle，连接出错或关闭时返回
func (c *wsConn) readPump(handle func(frame []byte)) {
	pongWait := 2 * c.pingInterval
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		handle(frame)
	}
}
