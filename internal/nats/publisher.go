package nats

import (
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/airvista/airvista-realtime/internal/monitor"
	"github.com/airvista/airvista-realtime/internal/realtime"
	"github.com/airvista/airvista-realtime/pkg/logger"
)

// TopicConnEvent 连接生命周期事件主题
const TopicConnEvent = "rt_conn_event"

// ConnEventMsg 对外广播的连接事件消息
type ConnEventMsg struct {
	Type         string `json:"type"`          // connect/disconnect/error/reconnecting/reconnect_failed/cleanup
	ConnectionID string `json:"connection_id"` // 归一化连接标识
	Endpoint     string `json:"endpoint"`      // 原始端点
	Code         int    `json:"code"`          // 关闭码
	Reason       string `json:"reason"`        // 关闭原因
	Timestamp    int64  `json:"timestamp"`     // 毫秒时间戳
}

// Publisher NATS 发布器，把连接事件镜像给旁路服务
type Publisher struct {
	*nats.Conn
	mu     sync.RWMutex
	closed bool
}

// NewPublisher 创建 NATS 发布器
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		Conn: conn,
	}
	monitor.SetNATSConnected(true)

	return p, nil
}

// OnEvent 实现 realtime 事件监听接口
func (p *Publisher) OnEvent(e realtime.Event) {
	msg := &ConnEventMsg{
		Type:         string(e.Type),
		ConnectionID: e.ConnectionID,
		Endpoint:     e.Endpoint,
		Code:         e.Code,
		Reason:       e.Reason,
		Timestamp:    e.Timestamp.UnixMilli(),
	}
	if err := p.PublishConnEvent(msg); err != nil {
		logger.Error().Err(err).Str("type", msg.Type).Msg("publish conn event failed")
	}
}

// PublishConnEvent 发布连接事件
func (p *Publisher) PublishConnEvent(msg *ConnEventMsg) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.Publish(TopicConnEvent, data)
}

// IsConnected 检查发布器是否已连接
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed && p.Conn != nil && !p.Conn.IsClosed()
}

// Close 关闭连接
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	monitor.SetNATSConnected(false)

	if p.Conn != nil {
		p.Conn.Close()
	}
	return nil
}
