package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/airvista/airvista-realtime/internal/monitor"
	"github.com/airvista/airvista-realtime/pkg/concurrent"
	"github.com/airvista/airvista-realtime/pkg/goplus"
	"github.com/airvista/airvista-realtime/pkg/logger"
)

const (
	writeWait        = 10 * time.Second       // 写入超时
	maxMessageSize   = 1024 * 1024 * 2        // 最大消息限制 2MB
	activityThrottle = 100 * time.Millisecond // 活跃时间戳合并窗口
)

// FrameHandler 入站帧处理器，按频道注册（多路复用层的聚合器）
type FrameHandler func(channel string, data []byte)

// pingFrame 心跳帧
type pingFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Conn 对应一个归一化端点的唯一物理连接
// 状态变更全部在连接自身的锁内完成，绝不使用跨连接的全局锁
type Conn struct {
	id       string
	endpoint string
	opts     Options
	mgr      *Manager

	mu                sync.Mutex
	sock              *websocket.Conn // 断开时为 nil
	connected         bool
	flushing          bool // 存量队列冲刷中，新消息继续入队以保证提交顺序
	closed            bool // 终态，进入后该实例不再复用
	reconnecting      bool
	reconnectAttempts int
	lastError         error
	gen               int64         // 会话代数，丢弃旧会话的迟到回调
	sessDone          chan struct{} // 当前会话的退出信号
	reconnectTimer    *time.Timer   // 至多一个待触发的重连定时器

	dialMu  sync.Mutex // 同一时间只允许一个拨号过程
	writeMu sync.Mutex

	lastActivity atomic.Int64 // unix nano，合并窗口内不重复写
	queue        sendQueue
	handlers     concurrent.Map[string, FrameHandler]
}

func newConn(mgr *Manager, id, endpoint string, opts Options) *Conn {
	return &Conn{
		id:       id,
		endpoint: endpoint,
		opts:     opts,
		mgr:      mgr,
	}
}

// ID 返回归一化连接标识
func (c *Conn) ID() string {
	return c.id
}

// Endpoint 返回原始端点地址
func (c *Conn) Endpoint() string {
	return c.endpoint
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Conn) IsReconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnecting
}

func (c *Conn) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectAttempts
}

func (c *Conn) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// LastActivity 返回最近一次收发数据的时间（合并窗口内精度约 100ms）
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// QueueSize 当前排队等待发送的消息数
func (c *Conn) QueueSize() int {
	return c.queue.size()
}

// Bind 注册频道的入站帧处理器，每频道恰好一个
func (c *Conn) Bind(channel string, h FrameHandler) {
	c.handlers.Store(channel, h)
}

// Unbind 移除频道处理器
func (c *Conn) Unbind(channel string) {
	c.handlers.Delete(channel)
}

// open 建立物理连接，幂等：已 OPEN 时直接返回
// 调用方阻塞直到 OPEN、出错或超时
func (c *Conn) open(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.dial(ctx)
}

// dial 必须在持有 dialMu 时调用
func (c *Conn) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.opts.ConnectTimeout,
	}

	dctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	sock, _, err := dialer.DialContext(dctx, c.endpoint, nil)
	if err != nil {
		// 超时与原生错误走同一条失败路径
		if errors.Is(dctx.Err(), context.DeadlineExceeded) {
			err = ErrConnectTimeout
		} else {
			err = &SocketError{Op: "dial", Err: err}
		}
		c.mu.Lock()
		c.lastError = err
		c.mu.Unlock()
		return err
	}

	pongWait := c.opts.PingInterval * 2
	sock.SetReadLimit(maxMessageSize)
	sock.SetReadDeadline(time.Now().Add(pongWait))
	sock.SetPongHandler(func(string) error {
		sock.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	c.mu.Lock()
	if c.closed {
		// 拨号期间被显式关闭，丢弃迟到的 socket
		c.mu.Unlock()
		sock.Close()
		return ErrClosed
	}
	c.sock = sock
	c.connected = true
	c.flushing = true
	c.reconnecting = false
	c.reconnectAttempts = 0
	c.lastError = nil
	c.gen++
	gen := c.gen
	done := make(chan struct{})
	c.sessDone = done
	c.mu.Unlock()

	c.lastActivity.Store(time.Now().UnixNano())
	monitor.IncConnectTotal()

	goplus.Go(func() { c.readPump(sock, gen, pongWait) })
	goplus.Go(func() { c.pingPump(sock, done) })

	// 连接就绪后按 FIFO 冲刷排队消息；冲刷期间到达的 Send 继续入队，
	// 直到锁内观察到队列为空才放行直写，保证同一连接严格按提交顺序发出
	for {
		flushErr := c.queue.drain(func(p []byte) error {
			if werr := c.writeMessage(sock, p); werr != nil {
				return &SocketError{Op: "write", Err: werr}
			}
			return nil
		})
		c.mu.Lock()
		if flushErr != nil || c.closed || c.queue.size() == 0 {
			c.flushing = false
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()
	}

	logger.Info().Str("conn", c.id).Msg("connection open")
	c.mgr.emit(Event{
		Type:         EventConnect,
		ConnectionID: c.id,
		Endpoint:     c.endpoint,
		Timestamp:    time.Now(),
	})
	return nil
}

// Send 立即发送（OPEN 时）或入队等待；返回的通道在消息发出或被拒绝时收到结果
func (c *Conn) Send(payload []byte) <-chan error {
	m := newPendingMessage(payload)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		m.settle(ErrQueueRejected)
		return m.done
	}
	sock := c.sock
	if !c.connected || sock == nil || c.flushing {
		c.queue.push(m)
		c.mu.Unlock()
		return m.done
	}
	c.mu.Unlock()

	if err := c.writeMessage(sock, payload); err != nil {
		m.settle(&SocketError{Op: "write", Err: err})
	} else {
		m.settle(nil)
	}
	return m.done
}

// Close 显式关闭：清定时器、按序拒绝排队消息、关 socket、从注册表移除
// 幂等，可重复调用
func (c *Conn) Close() error {
	if c.terminate(nil) {
		c.mgr.emit(Event{
			Type:         EventDisconnect,
			ConnectionID: c.id,
			Endpoint:     c.endpoint,
			Code:         websocket.CloseNormalClosure,
			Reason:       "client closed",
			WasClean:     true,
			Timestamp:    time.Now(),
		})
	}
	return nil
}

// terminate 进入终态，返回是否由本次调用完成状态切换
func (c *Conn) terminate(cause error) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.reconnecting = false
	c.flushing = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	sock := c.sock
	c.sock = nil
	if c.connected {
		c.connected = false
		close(c.sessDone)
	}
	if cause != nil {
		c.lastError = cause
	}
	c.mu.Unlock()

	if sock != nil {
		sock.Close()
	}
	c.queue.rejectAll(ErrQueueRejected)
	c.mgr.removeConn(c.id)
	return true
}

func (c *Conn) readPump(sock *websocket.Conn, gen int64, pongWait time.Duration) {
	for {
		_, msg, err := sock.ReadMessage()
		if err != nil {
			c.handleSocketClosed(gen, err)
			return
		}

		sock.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		monitor.IncFramesReceived()

		channel := gjson.GetBytes(msg, "channel").String()
		if channel == "" {
			// pong 等无频道帧只刷新活跃时间
			continue
		}

		if h, ok := c.handlers.Load(channel); ok {
			h(channel, msg)
		}
	}
}

func (c *Conn) pingPump(sock *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			// 心跳发送失败仅记录日志，断连以 read 侧的关闭事件为准
			if err := c.writePing(sock); err != nil {
				logger.Warn().Err(err).Str("conn", c.id).Msg("ping failed")
			}
		}
	}
}

// writePing 应用层心跳帧之外再发一个协议层 Ping，
// 对端的 Pong 会刷新读超时，安静但健康的连接不会被误杀
func (c *Conn) writePing(sock *websocket.Conn) error {
	frame, err := json.Marshal(pingFrame{
		Type:      "ping",
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	if err = c.writeMessage(sock, frame); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Conn) writeMessage(sock *websocket.Conn, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	sock.SetWriteDeadline(time.Now().Add(writeWait))
	if err := sock.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	c.touch()
	return nil
}

// handleSocketClosed 会话结束的唯一入口（读协程退出时调用）
func (c *Conn) handleSocketClosed(gen int64, readErr error) {
	c.mu.Lock()
	if c.gen != gen || !c.connected {
		// 旧会话的迟到回调，或已由 terminate 收尾
		c.mu.Unlock()
		return
	}
	c.connected = false
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	close(c.sessDone)
	c.lastError = readErr
	c.mu.Unlock()

	code, reason, wasClean := closeDetails(readErr)
	monitor.IncDisconnect(wasClean)
	logger.Warn().Str("conn", c.id).Int("code", code).Str("reason", reason).Msg("connection lost")

	c.mgr.emit(Event{
		Type:         EventDisconnect,
		ConnectionID: c.id,
		Endpoint:     c.endpoint,
		Code:         code,
		Reason:       reason,
		WasClean:     wasClean,
		Timestamp:    time.Now(),
	})

	if c.opts.suppressed(code) {
		// 正常关闭码不重连，直接清理
		c.terminate(nil)
		return
	}
	c.scheduleReconnect()
}

// scheduleReconnect 退避调度下一次重连，任一时刻至多一个待触发定时器
func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	if c.closed || c.connected {
		c.mu.Unlock()
		return
	}
	if c.reconnectAttempts >= c.opts.MaxReconnectAttempts {
		c.mu.Unlock()
		logger.Error().Str("conn", c.id).Int("attempts", c.opts.MaxReconnectAttempts).Msg("reconnect attempts exhausted")
		monitor.IncReconnectFailed()
		c.mgr.emit(Event{
			Type:         EventReconnectFailed,
			ConnectionID: c.id,
			Endpoint:     c.endpoint,
			Err:          ErrMaxRetries,
			Reason:       "max reconnect attempts exceeded",
			Timestamp:    time.Now(),
		})
		c.terminate(ErrMaxRetries)
		return
	}
	c.reconnectAttempts++
	attempt := c.reconnectAttempts
	c.reconnecting = true
	delay := c.opts.policy().Next(attempt)
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(delay, c.reconnectNow)
	c.mu.Unlock()

	logger.Warn().Str("conn", c.id).Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
	monitor.IncReconnectAttempt()
	c.mgr.emit(Event{
		Type:         EventReconnecting,
		ConnectionID: c.id,
		Endpoint:     c.endpoint,
		Attempt:      attempt,
		Timestamp:    time.Now(),
	})
}

func (c *Conn) reconnectNow() {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed || c.connected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.dial(context.Background()); err != nil {
		c.mgr.emit(Event{
			Type:         EventError,
			ConnectionID: c.id,
			Endpoint:     c.endpoint,
			Err:          err,
			Timestamp:    time.Now(),
		})
		c.scheduleReconnect()
	}
}

// touch 刷新活跃时间戳，合并窗口内的高频更新只写一次
func (c *Conn) touch() {
	now := time.Now().UnixNano()
	last := c.lastActivity.Load()
	if now-last < int64(activityThrottle) {
		return
	}
	c.lastActivity.CompareAndSwap(last, now)
}

// closeDetails 从读错误中提取关闭码；非关闭帧错误视为 1006 异常断开
func closeDetails(err error) (code int, reason string, wasClean bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		// 1006 不会出现在线上关闭帧里，是库对异常断开的合成码
		return ce.Code, ce.Text, ce.Code != websocket.CloseAbnormalClosure
	}
	return websocket.CloseAbnormalClosure, err.Error(), false
}
