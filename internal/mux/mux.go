package mux

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/airvista/airvista-realtime/internal/monitor"
	"github.com/airvista/airvista-realtime/internal/realtime"
	"github.com/airvista/airvista-realtime/pkg/goplus"
	"github.com/airvista/airvista-realtime/pkg/logger"
)

// Callback 频道消息回调
type Callback func(channel string, data []byte)

// SubscribeOptions 订阅选项
type SubscribeOptions struct {
	Persistent bool // 持久频道：本地监听数归零也不退订
}

// entry 每个逻辑频道一个条目
type entry struct {
	channel    string
	persistent bool // 任一订阅方声明过持久即永久生效
	active     bool // 线上订阅已发出
	callbacks  map[int64]Callback
	order      []int64 // 注册顺序，分发时按此顺序执行
	connID     string
}

// Mux 订阅复用器：N 个独立监听方共享同一条线上订阅。
// 每个频道在底层连接上恰好注册一个聚合器，无论本地有多少回调。
type Mux struct {
	endpoint string
	opts     realtime.Options
	mgr      *realtime.Manager

	mu      sync.Mutex
	entries map[string]*entry
	seq     atomic.Int64
	pool    *ants.Pool

	removeListener func()
}

// New 创建复用器，endpoint 为实时后端地址
func New(mgr *realtime.Manager, endpoint string, opts realtime.Options, poolSize int) *Mux {
	if poolSize <= 0 {
		poolSize = 1000
	}
	pool, _ := ants.NewPool(poolSize)

	m := &Mux{
		endpoint: endpoint,
		opts:     opts,
		mgr:      mgr,
		entries:  make(map[string]*entry),
		pool:     pool,
	}

	// 重连成功后恢复所有活跃频道的线上订阅
	m.removeListener = mgr.AddListener(realtime.ListenerFunc(m.onEvent))
	return m
}

// Subscribe 注册频道监听。同一频道订阅 N 次只产生一条线上订阅，
// 返回的注销函数幂等（重复调用无副作用）。
func (m *Mux) Subscribe(ctx context.Context, channel string, cb Callback, opts SubscribeOptions) (func(), error) {
	if channel == "" {
		return nil, errors.New("mux: channel cannot be empty")
	}
	if cb == nil {
		return nil, errors.New("mux: callback cannot be nil")
	}

	id := m.seq.Add(1)

	m.mu.Lock()
	e, exists := m.entries[channel]
	if !exists {
		e = &entry{
			channel:   channel,
			callbacks: make(map[int64]Callback),
		}
		m.entries[channel] = e
	}
	if opts.Persistent {
		e.persistent = true
	}
	e.callbacks[id] = cb
	e.order = append(e.order, id)
	needActivate := !e.active
	m.mu.Unlock()

	if needActivate {
		if err := m.activate(ctx, e); err != nil {
			m.rollback(channel, id)
			return nil, err
		}
	}
	monitor.SetActiveChannels(m.ChannelCount())

	var once sync.Once
	return func() {
		once.Do(func() {
			m.unsubscribe(channel, id)
		})
	}, nil
}

// activate 确保频道的底层连接与线上订阅就绪，并发激活时幂等
func (m *Mux) activate(ctx context.Context, e *entry) error {
	conn, err := m.mgr.Connect(ctx, m.endpoint, m.opts)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if e.active {
		m.mu.Unlock()
		return nil
	}
	e.active = true
	e.connID = conn.ID()
	m.mu.Unlock()

	// 每频道恰好一个聚合器
	conn.Bind(e.channel, m.dispatch)
	m.sendControl(conn.ID(), "subscribe", e.channel)
	return nil
}

// rollback 激活失败时撤销本次注册
func (m *Mux) rollback(channel string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[channel]
	if !ok {
		return
	}
	delete(e.callbacks, id)
	e.order = removeID(e.order, id)
	if len(e.callbacks) == 0 && !e.active {
		delete(m.entries, channel)
	}
}

// unsubscribe 注销单个回调；最后一个非持久回调移除时退订并删除条目
func (m *Mux) unsubscribe(channel string, id int64) {
	m.mu.Lock()
	e, ok := m.entries[channel]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, ok := e.callbacks[id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(e.callbacks, id)
	e.order = removeID(e.order, id)

	drained := len(e.callbacks) == 0 && !e.persistent
	connID := e.connID
	wasActive := e.active
	if drained {
		delete(m.entries, channel)
		e.active = false
	}
	m.mu.Unlock()

	if drained && wasActive {
		if conn, found := m.mgr.Get(connID); found {
			conn.Unbind(channel)
		}
		m.sendControl(connID, "unsubscribe", channel)
		logger.Info().Str("channel", channel).Msg("channel fully unsubscribed")
	}
	monitor.SetActiveChannels(m.ChannelCount())
}

// dispatch 聚合器：把一帧扇出到频道的所有回调。
// 先在锁内拷贝快照，锁外按注册顺序同步执行，回调之间不交错；
// 回调内注销自身或其他回调不影响本次分发。
func (m *Mux) dispatch(channel string, data []byte) {
	cbs := m.snapshotCallbacks(channel)
	if len(cbs) == 0 {
		return
	}

	job := func() {
		for _, cb := range cbs {
			callback := cb
			func() {
				defer goplus.Recover()
				callback(channel, data)
			}()
		}
		monitor.AddFramesDispatched(len(cbs))
	}

	if err := m.pool.Submit(job); err != nil {
		// 池满降级为同步执行；此时不持有任何锁，只会阻塞读协程，不会死锁
		logger.Warn().Err(err).Str("channel", channel).Msg("mux pool full, executing synchronously")
		job()
	}
}

// snapshotCallbacks 按注册顺序拷贝回调快照
func (m *Mux) snapshotCallbacks(channel string) []Callback {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[channel]
	if !ok || len(e.callbacks) == 0 {
		return nil
	}

	cbs := make([]Callback, 0, len(e.callbacks))
	for _, id := range e.order {
		if cb, found := e.callbacks[id]; found {
			cbs = append(cbs, cb)
		}
	}
	return cbs
}

// onEvent 监听连接事件，重连成功后恢复线上订阅
func (m *Mux) onEvent(e realtime.Event) {
	if e.Type != realtime.EventConnect {
		return
	}

	m.mu.Lock()
	var channels []string
	for ch, ent := range m.entries {
		if ent.active && ent.connID == e.ConnectionID {
			channels = append(channels, ch)
		}
	}
	m.mu.Unlock()

	for _, ch := range channels {
		m.sendControl(e.ConnectionID, "subscribe", ch)
	}
	if len(channels) > 0 {
		logger.Info().Int("count", len(channels)).Msg("resubscribed channels after reconnect")
	}
}

// sendControl 发送线上订阅指令，连接未就绪时由出站队列暂存
func (m *Mux) sendControl(connID, op, channel string) {
	payload, err := json.Marshal(map[string]string{
		"type":    op,
		"channel": channel,
	})
	if err != nil {
		return
	}

	if _, err := m.mgr.Send(connID, payload); err != nil {
		logger.Warn().Err(err).Str("op", op).Str("channel", channel).Msg("send control frame failed")
		return
	}
	monitor.IncWireOp(op)
}

// ChannelCount 当前复用频道数
func (m *Mux) ChannelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// GetStats 复用器统计信息
func (m *Mux) GetStats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	callbacks := 0
	persistent := 0
	for _, e := range m.entries {
		callbacks += len(e.callbacks)
		if e.persistent {
			persistent++
		}
	}

	return map[string]any{
		"channel_count":       len(m.entries),
		"callback_count":      callbacks,
		"persistent_channels": persistent,
	}
}

// Close 释放复用器资源
func (m *Mux) Close() {
	if m.removeListener != nil {
		m.removeListener()
	}
	if m.pool != nil {
		m.pool.Release()
	}
}

func removeID(order []int64, id int64) []int64 {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
