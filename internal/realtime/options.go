package realtime

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/airvista/airvista-realtime/pkg/backoff"
)

// Options 连接配置，首次 Connect 时捕获后不可变
type Options struct {
	MaxReconnectAttempts int           // 最大重连次数
	ReconnectDelayBase   time.Duration // 退避基础延迟
	MaxReconnectDelay    time.Duration // 退避延迟上限
	BackoffMultiplier    float64       // 退避倍率
	JitterMax            time.Duration // 退避抖动上限
	ConnectTimeout       time.Duration // 连接超时
	PingInterval         time.Duration // 心跳间隔
	SuppressCloseCodes   []int         // 不触发重连的关闭码
}

// DefaultOptions 默认连接配置
func DefaultOptions() Options {
	return Options{
		MaxReconnectAttempts: 5,
		ReconnectDelayBase:   time.Second,
		MaxReconnectDelay:    30 * time.Second,
		BackoffMultiplier:    2,
		JitterMax:            250 * time.Millisecond,
		ConnectTimeout:       10 * time.Second,
		PingInterval:         30 * time.Second,
		SuppressCloseCodes:   []int{1000, 1001, 1005},
	}
}

// withDefaults 零值字段回填默认值
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if o.ReconnectDelayBase <= 0 {
		o.ReconnectDelayBase = def.ReconnectDelayBase
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if o.BackoffMultiplier < 1 {
		o.BackoffMultiplier = def.BackoffMultiplier
	}
	if o.JitterMax < 0 {
		o.JitterMax = def.JitterMax
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = def.PingInterval
	}
	if o.SuppressCloseCodes == nil {
		o.SuppressCloseCodes = def.SuppressCloseCodes
	}
	return o
}

// suppressed 判断关闭码是否在抑制列表内（不触发重连）
func (o Options) suppressed(code int) bool {
	for _, c := range o.SuppressCloseCodes {
		if c == code {
			return true
		}
	}
	return false
}

// policy 构造该连接的退避策略
func (o Options) policy() backoff.Policy {
	return backoff.Policy{
		Base:       o.ReconnectDelayBase,
		Max:        o.MaxReconnectDelay,
		Multiplier: o.BackoffMultiplier,
		JitterMax:  o.JitterMax,
	}
}

// NormalizeEndpoint 归一化端点地址为连接 ID（scheme+host+path 小写，
// 去掉默认端口、query 和 fragment），相同端点去重复用同一物理连接
func NormalizeEndpoint(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("realtime: invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("realtime: invalid endpoint %q: missing scheme or host", endpoint)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)

	// 去掉协议默认端口
	switch {
	case scheme == "ws" || scheme == "http":
		host = strings.TrimSuffix(host, ":80")
	case scheme == "wss" || scheme == "https":
		host = strings.TrimSuffix(host, ":443")
	}

	return scheme + "://" + host + strings.ToLower(u.Path), nil
}
