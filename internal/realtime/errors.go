package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectTimeout 连接在超时时间内未进入 OPEN 状态
	ErrConnectTimeout = errors.New("realtime: connect timeout")

	// ErrNotFound 对未注册的连接 ID 执行操作（调用方 bug）
	ErrNotFound = errors.New("realtime: connection not found")

	// ErrQueueRejected 连接关闭时仍有排队消息未发出
	ErrQueueRejected = errors.New("realtime: connection closed before message was sent")

	// ErrMaxRetries 重连次数耗尽，连接已终止
	ErrMaxRetries = errors.New("realtime: max reconnect attempts exceeded")

	// ErrClosed 连接已进入终态，需要重新 Connect
	ErrClosed = errors.New("realtime: connection closed")
)

// SocketError 底层传输错误
type SocketError struct {
	Op  string // dial / write / read
	Err error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("realtime: socket %s error: %v", e.Op, e.Err)
}

func (e *SocketError) Unwrap() error {
	return e.Err
}
