package config

import (
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/airvista/airvista-realtime/pkg/logger"
)

type Realtime struct {
	BaseWSURL            string        `toml:"base_ws_url"`
	HealthServerAddr     string        `toml:"health_server_addr"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts"`
	ReconnectDelayBase   time.Duration `toml:"reconnect_delay_base"`
	MaxReconnectDelay    time.Duration `toml:"max_reconnect_delay"`
	BackoffMultiplier    float64       `toml:"backoff_multiplier"`
	JitterMax            time.Duration `toml:"jitter_max"`
	ConnectTimeout       time.Duration `toml:"connect_timeout"`
	PingInterval         time.Duration `toml:"ping_interval"`
	SuppressCloseCodes   []int         `toml:"suppress_close_codes"`
	DispatchPoolSize     int           `toml:"dispatch_pool_size"`
	StatusWindow         time.Duration `toml:"status_window"`
}

type Sweep struct {
	Interval time.Duration `toml:"interval"`
	MaxIdle  time.Duration `toml:"max_idle"`
}

type Journal struct {
	Enabled   bool          `toml:"enabled"`
	Path      string        `toml:"path"`
	QueueSize int           `toml:"queue_size"`
	Retention time.Duration `toml:"retention"`
}

type NATS struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

type Logger struct {
	Level      string `toml:"level"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
	MaxAge     int    `toml:"max_age"`
	Compress   bool   `toml:"compress"`
	Console    bool   `toml:"console"`
}

type Config struct {
	Realtime Realtime `toml:"realtime"`
	Sweep    Sweep    `toml:"sweep"`
	Journal  Journal  `toml:"journal"`
	NATS     NATS     `toml:"nats"`
	Logger   Logger   `toml:"log"`
}

var (
	cfg         *Config
	cfgPath     string
	cfgLock     sync.RWMutex
	lastModTime time.Time
	stopChan    chan struct{}
)

func Default() *Config {
	return &Config{
		Realtime: Realtime{
			BaseWSURL:            "wss://rt.airvista.io/ws",
			HealthServerAddr:     "0.0.0.0:16900",
			MaxReconnectAttempts: 5,
			ReconnectDelayBase:   time.Second,
			MaxReconnectDelay:    30 * time.Second,
			BackoffMultiplier:    2,
			JitterMax:            250 * time.Millisecond,
			ConnectTimeout:       10 * time.Second,
			PingInterval:         30 * time.Second,
			SuppressCloseCodes:   []int{1000, 1001, 1005},
			DispatchPoolSize:     1000,
			StatusWindow:         time.Second,
		},
		Sweep: Sweep{
			Interval: time.Minute,
			MaxIdle:  10 * time.Minute,
		},
		Journal: Journal{
			Enabled:   true,
			Path:      "data/rt_events.db",
			QueueSize: 1024,
			Retention: 72 * time.Hour,
		},
		NATS: NATS{
			Enabled:  false,
			Endpoint: "nats://localhost:4222",
		},
		Logger: Logger{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 60,
			MaxAge:     7,
			Compress:   false,
			Console:    false,
		},
	}
}

func Load(path string) error {
	c := Default()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	cfgLock.Lock()
	defer cfgLock.Unlock()
	cfg = c
	cfgPath = path
	lastModTime = info.ModTime()

	return nil
}

func Get() *Config {
	cfgLock.RLock()
	defer cfgLock.RUnlock()
	return cfg
}

// Init 初始化配置并启动定期重载（默认10秒）
func Init(path string) error {
	return InitWithInterval(path, 10*time.Second)
}

// InitWithInterval 初始化配置并指定重载间隔
func InitWithInterval(path string, interval time.Duration) error {
	if err := Load(path); err != nil {
		return err
	}

	stopChan = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				reloadIfNeeded()
			case <-stopChan:
				return
			}
		}
	}()

	return nil
}

// Stop 停止配置重载
func Stop() {
	if stopChan != nil {
		close(stopChan)
	}
}

// reloadIfNeeded 仅在文件修改时重载
func reloadIfNeeded() {
	cfgLock.RLock()
	path := cfgPath
	lastMod := lastModTime
	cfgLock.RUnlock()

	if path == "" {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		logger.Error().Err(err).Msg("config stat failed")
		return
	}

	if info.ModTime().After(lastMod) {
		if err = Load(path); err != nil {
			logger.Error().Err(err).Msg("config reload failed")
		} else {
			logger.Info().Msg("config reloaded")
		}
	}
}
