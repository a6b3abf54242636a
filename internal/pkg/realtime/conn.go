package realtime

import "errors"

var (
	ErrConnClosed = errors.New("realtime: connection closed")
	ErrSendFull   = errors.New("realtime: send buffer full")
)

// Conn 一个客户端连接
// Send 不能阻塞：缓冲满时返回 ErrSendFull 并由实现负责关闭连接
type Conn interface {
	ID() string
	Send(frame []byte) error
}
