package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cast"

	"github.com/airvista/airvista-realtime/pkg/goplus"
	"github.com/airvista/airvista-realtime/pkg/logger"
)

// HealthServer HTTP 健康检查和指标服务器
type HealthServer struct {
	addr         string
	manager      ManagerRef
	mux          MuxRef
	publisher    PublisherRef
	server       *http.Server
	mu           sync.RWMutex
	healthy      bool
	healthySince time.Time
	startTime    time.Time
}

// ManagerRef 连接管理器引用接口
type ManagerRef interface {
	IsConnected() bool
	IsReconnecting() bool
	GetStats() map[string]any
}

// MuxRef 订阅复用器引用接口
type MuxRef interface {
	ChannelCount() int
	GetStats() map[string]any
}

// PublisherRef NATS 发布器引用接口
type PublisherRef interface {
	IsConnected() bool
}

// NewHealthServer 创建健康检查服务器
func NewHealthServer(addr string, manager ManagerRef, mux MuxRef, publisher PublisherRef) *HealthServer {
	return &HealthServer{
		addr:         addr,
		manager:      manager,
		mux:          mux,
		publisher:    publisher,
		healthy:      true,
		healthySince: time.Now(),
		startTime:    time.Now(),
	}
}

// Start 启动 HTTP 服务器
func (h *HealthServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", h.healthHandler)
	mux.HandleFunc("/health/ready", h.readyHandler)
	mux.HandleFunc("/health/live", h.liveHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", h.statusHandler)

	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	goplus.Go(func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health server error")
		}
	})

	logger.Info().Str("addr", h.addr).Msg("health server started")
	return nil
}

// Stop 停止服务器
func (h *HealthServer) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.healthy = false
	h.mu.Unlock()

	return h.server.Shutdown(ctx)
}

// healthHandler 健康检查处理器
func (h *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := h.getHealthStatus()
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// readyHandler 就绪检查处理器
func (h *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if !h.isReady() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// liveHandler 存活检查处理器
func (h *HealthServer) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// statusHandler 服务状态处理器
func (h *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := h.getHealthStatus()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// isReady 检查服务是否就绪
func (h *HealthServer) isReady() bool {
	h.mu.RLock()
	healthy := h.healthy
	h.mu.RUnlock()

	if !healthy {
		return false
	}

	// 至少要有一个 WebSocket 连接在线
	if h.manager != nil && !h.manager.IsConnected() {
		return false
	}
	return true
}

// getHealthStatus 获取健康状态
func (h *HealthServer) getHealthStatus() HealthStatus {
	h.mu.RLock()
	healthy := h.healthy
	healthySince := h.healthySince
	h.mu.RUnlock()

	wsConnected := false
	wsReconnecting := false
	queuedMessages := 0
	connectionCount := 0
	if h.manager != nil {
		wsConnected = h.manager.IsConnected()
		wsReconnecting = h.manager.IsReconnecting()
		stats := h.manager.GetStats()
		queuedMessages = cast.ToInt(stats["queued_messages"])
		connectionCount = cast.ToInt(stats["connection_count"])
	}

	natsConnected := false
	if h.publisher != nil {
		natsConnected = h.publisher.IsConnected()
	}

	channelCount := 0
	if h.mux != nil {
		channelCount = h.mux.ChannelCount()
	}

	return HealthStatus{
		Healthy:      healthy,
		HealthySince: healthySince.Format(time.RFC3339),
		Uptime:       time.Since(h.startTime).String(),
		WebSocket: WebSocketStatus{
			Connected:    wsConnected,
			Reconnecting: wsReconnecting,
			Connections:  connectionCount,
			Queued:       queuedMessages,
		},
		NATS: NATSStatus{
			Connected: natsConnected,
		},
		Channels: ChannelStatus{
			Count: channelCount,
		},
	}
}

// HealthStatus 健康状态结构
type HealthStatus struct {
	Healthy      bool            `json:"healthy"`
	HealthySince string          `json:"healthy_since"`
	Uptime       string          `json:"uptime"`
	WebSocket    WebSocketStatus `json:"websocket"`
	NATS         NATSStatus      `json:"nats"`
	Channels     ChannelStatus   `json:"channels"`
}

// WebSocketStatus WebSocket 连接状态
type WebSocketStatus struct {
	Connected    bool `json:"connected"`
	Reconnecting bool `json:"reconnecting"`
	Connections  int  `json:"connections"`
	Queued       int  `json:"queued"`
}

// NATSStatus NATS 连接状态
type NATSStatus struct {
	Connected bool `json:"connected"`
}

// ChannelStatus 复用频道状态
type ChannelStatus struct {
	Count int `json:"count"`
}
