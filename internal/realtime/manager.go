package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airvista/airvista-realtime/internal/monitor"
	"github.com/airvista/airvista-realtime/pkg/concurrent"
	"github.com/airvista/airvista-realtime/pkg/goplus"
	"github.com/airvista/airvista-realtime/pkg/logger"
)

// Manager 连接管理器：按归一化端点去重的连接注册表，
// 进程内唯一有权创建和销毁 socket 的组件。
// 显式构造注入使用方，不做包级单例，便于测试隔离。
type Manager struct {
	mu    sync.Mutex // 仅保护注册表的插入/删除
	conns map[string]*Conn

	listeners   concurrent.Map[int64, Listener]
	listenerSeq atomic.Int64
}

func NewManager() *Manager {
	return &Manager{
		conns: make(map[string]*Conn),
	}
}

// Connect 查找或创建端点对应的连接并确保其打开。
// 同一端点并发调用只会创建一个连接实例；已 OPEN 时直接复用。
// 首次拨号失败会同步返回错误并且不保留注册表残留（不会静默重试）。
func (m *Manager) Connect(ctx context.Context, endpoint string, opts Options) (*Conn, error) {
	id, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	c, exists := m.conns[id]
	if !exists {
		c = newConn(m, id, endpoint, opts.withDefaults())
		m.conns[id] = c
	}
	m.mu.Unlock()

	if err := c.open(ctx); err != nil {
		if !exists {
			// 首次连接失败不保留半成品实例；并发等待同一实例的
			// 调用方会观察到终态并拿到 ErrClosed
			c.terminate(err)
		}
		return nil, err
	}

	monitor.SetActiveConnections(m.ConnectionCount())
	return c, nil
}

// Get 查找已注册的连接
func (m *Manager) Get(id string) (*Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	return c, ok
}

// Send 向指定连接发送消息，未注册的 ID 返回 ErrNotFound（调用方 bug）。
// 连接未就绪时消息入队，返回的通道在实际发出或被拒绝时收到结果。
func (m *Manager) Send(id string, payload []byte) (<-chan error, error) {
	c, ok := m.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return c.Send(payload), nil
}

// Disconnect 显式断开，未注册的 ID 视为无操作（非错误）
func (m *Manager) Disconnect(id string) {
	c, ok := m.Get(id)
	if !ok {
		return
	}
	c.Close()
}

// CleanupAll 断开所有连接，进程退出时调用
func (m *Manager) CleanupAll() {
	for _, c := range m.snapshot() {
		c.Close()
	}
	m.emit(Event{Type: EventCleanup, Timestamp: time.Now()})
	logger.Info().Msg("all connections cleaned up")
}

// CleanupIdle 关闭超过空闲阈值的连接，返回关闭数量。
// 由外部定时器周期触发，也可在内存压力下主动调用。
func (m *Manager) CleanupIdle(maxIdle time.Duration) int {
	closed := 0
	now := time.Now()
	for _, c := range m.snapshot() {
		if now.Sub(c.LastActivity()) > maxIdle {
			logger.Info().Str("conn", c.ID()).Dur("max_idle", maxIdle).Msg("closing idle connection")
			c.Close()
			closed++
		}
	}
	return closed
}

// ConnectionCount 当前注册的连接数
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// IsConnected 是否有至少一个连接处于 OPEN
func (m *Manager) IsConnected() bool {
	for _, c := range m.snapshot() {
		if c.IsConnected() {
			return true
		}
	}
	return false
}

// IsReconnecting 是否有连接正在重连
func (m *Manager) IsReconnecting() bool {
	for _, c := range m.snapshot() {
		if c.IsReconnecting() {
			return true
		}
	}
	return false
}

// GetStats 连接池统计信息
func (m *Manager) GetStats() map[string]any {
	conns := m.snapshot()

	open := 0
	reconnecting := 0
	queued := 0
	for _, c := range conns {
		if c.IsConnected() {
			open++
		}
		if c.IsReconnecting() {
			reconnecting++
		}
		queued += c.QueueSize()
	}

	return map[string]any{
		"connection_count":   len(conns),
		"open_count":         open,
		"reconnecting_count": reconnecting,
		"queued_messages":    queued,
	}
}

// AddListener 注册生命周期事件监听器，返回注销函数
func (m *Manager) AddListener(l Listener) func() {
	id := m.listenerSeq.Add(1)
	m.listeners.Store(id, l)
	return func() {
		m.listeners.Delete(id)
	}
}

// emit 向所有监听器分发事件。先拷贝快照再在锁外执行，
// 监听器回调内可以安全地调用 Manager 的任何方法。
func (m *Manager) emit(e Event) {
	var snapshot []Listener
	m.listeners.Range(func(_ int64, l Listener) bool {
		snapshot = append(snapshot, l)
		return true
	})

	for _, l := range snapshot {
		func() {
			defer goplus.Recover()
			l.OnEvent(e)
		}()
	}
}

// removeConn 从注册表删除（由连接终态时回调）
func (m *Manager) removeConn(id string) {
	m.mu.Lock()
	delete(m.conns, id)
	m.mu.Unlock()
	monitor.SetActiveConnections(m.ConnectionCount())
}

// snapshot 注册表快照，避免遍历时长时间持有锁
func (m *Manager) snapshot() []*Conn {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}
