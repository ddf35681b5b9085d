package status

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/airvista/airvista-realtime/internal/monitor"
	"github.com/airvista/airvista-realtime/internal/realtime"
	"github.com/airvista/airvista-realtime/pkg/goplus"
	"github.com/airvista/airvista-realtime/pkg/logger"
)

// Status 进程级粗粒度连接状态，由连接事件推导，外部只读
type Status string

const (
	Connected    Status = "connected"
	Reconnecting Status = "reconnecting"
	Disconnected Status = "disconnected"
)

// DefaultWindow 默认节流窗口：窗口内的中间状态合并为最新值
const DefaultWindow = time.Second

// notifyTTL 终态通知去重保留时间
const notifyTTL = time.Hour

// Broadcaster 状态广播器：聚合所有连接的状态并节流下发，
// 避免高频连接事件引起下游重绘风暴
type Broadcaster struct {
	mgr    *realtime.Manager
	window time.Duration

	mu         sync.Mutex
	current    Status
	pending    Status
	hasPending bool
	lastSent   time.Time
	timer      *time.Timer

	listeners   map[int64]func(Status)
	listenerSeq atomic.Int64

	notified   *cache.Cache // 每连接一次性终态通知去重
	onTerminal func(connectionID, reason string)

	removeListener func()
}

// New 创建广播器并挂接到连接管理器的事件流
func New(mgr *realtime.Manager, window time.Duration) *Broadcaster {
	if window <= 0 {
		window = DefaultWindow
	}

	b := &Broadcaster{
		mgr:       mgr,
		window:    window,
		current:   Disconnected,
		listeners: make(map[int64]func(Status)),
		notified:  cache.New(notifyTTL, 2*notifyTTL),
	}
	b.removeListener = mgr.AddListener(realtime.ListenerFunc(b.handleEvent))
	return b
}

// Current 当前粗粒度状态
func (b *Broadcaster) Current() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe 注册状态监听，返回注销函数
func (b *Broadcaster) Subscribe(fn func(Status)) func() {
	id := b.listenerSeq.Add(1)

	b.mu.Lock()
	b.listeners[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// SetTerminalNotifier 设置重连耗尽时的一次性通知回调（每连接只触发一次）
func (b *Broadcaster) SetTerminalNotifier(fn func(connectionID, reason string)) {
	b.mu.Lock()
	b.onTerminal = fn
	b.mu.Unlock()
}

// Close 摘除事件监听并停止待触发的下发
func (b *Broadcaster) Close() {
	if b.removeListener != nil {
		b.removeListener()
	}

	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.hasPending = false
	b.mu.Unlock()
}

func (b *Broadcaster) handleEvent(e realtime.Event) {
	if e.Type == realtime.EventReconnectFailed {
		b.notifyTerminal(e)
	}
	b.recompute()
}

// notifyTerminal 终态失败通知，按连接去重只发一次
func (b *Broadcaster) notifyTerminal(e realtime.Event) {
	if err := b.notified.Add(e.ConnectionID, struct{}{}, cache.DefaultExpiration); err != nil {
		return // 已通知过
	}

	b.mu.Lock()
	fn := b.onTerminal
	b.mu.Unlock()

	logger.Warn().Str("conn", e.ConnectionID).Str("reason", e.Reason).Msg("connection permanently lost")
	if fn != nil {
		fn(e.ConnectionID, e.Reason)
	}
}

// recompute 重新推导状态并节流下发
func (b *Broadcaster) recompute() {
	s := b.derive()

	switch s {
	case Connected:
		monitor.SetCoarseStatus(2)
	case Reconnecting:
		monitor.SetCoarseStatus(1)
	default:
		monitor.SetCoarseStatus(0)
	}

	b.deliver(s)
}

// derive 推导规则：有连接在重试即 reconnecting，
// 否则有 OPEN 连接即 connected，再否则 disconnected
func (b *Broadcaster) derive() Status {
	if b.mgr.IsReconnecting() {
		return Reconnecting
	}
	if b.mgr.IsConnected() {
		return Connected
	}
	return Disconnected
}

// deliver 节流下发：窗口外立即发送，窗口内合并为最新值等到 trailing 定时器
func (b *Broadcaster) deliver(s Status) {
	b.mu.Lock()

	if s == b.current && !b.hasPending {
		b.mu.Unlock()
		return
	}

	now := time.Now()
	if now.Sub(b.lastSent) >= b.window {
		b.current = s
		b.lastSent = now
		b.hasPending = false
		fns := b.snapshotLocked()
		b.mu.Unlock()
		b.fanout(fns, s)
		return
	}

	// 窗口内：只保留最新值，至多一个待触发定时器
	b.pending = s
	if !b.hasPending {
		b.hasPending = true
		if b.timer != nil {
			b.timer.Stop()
		}
		b.timer = time.AfterFunc(b.window-now.Sub(b.lastSent), b.flushPending)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) flushPending() {
	b.mu.Lock()
	if !b.hasPending {
		b.mu.Unlock()
		return
	}
	s := b.pending
	b.hasPending = false
	if s == b.current {
		b.mu.Unlock()
		return
	}
	b.current = s
	b.lastSent = time.Now()
	fns := b.snapshotLocked()
	b.mu.Unlock()

	b.fanout(fns, s)
}

// snapshotLocked 必须在持有 mu 时调用
func (b *Broadcaster) snapshotLocked() []func(Status) {
	fns := make([]func(Status), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func (b *Broadcaster) fanout(fns []func(Status), s Status) {
	for _, fn := range fns {
		callback := fn
		func() {
			defer goplus.Recover()
			callback(s)
		}()
	}
}
