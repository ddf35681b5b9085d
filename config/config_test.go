package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c := Default()

	if c.Realtime.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d, want 5", c.Realtime.MaxReconnectAttempts)
	}
	if c.Realtime.ReconnectDelayBase != time.Second {
		t.Errorf("ReconnectDelayBase = %v, want 1s", c.Realtime.ReconnectDelayBase)
	}
	if c.Realtime.MaxReconnectDelay != 30*time.Second {
		t.Errorf("MaxReconnectDelay = %v, want 30s", c.Realtime.MaxReconnectDelay)
	}
	if c.Realtime.PingInterval != 30*time.Second {
		t.Errorf("PingInterval = %v, want 30s", c.Realtime.PingInterval)
	}
	if len(c.Realtime.SuppressCloseCodes) != 3 {
		t.Errorf("SuppressCloseCodes = %v, want [1000 1001 1005]", c.Realtime.SuppressCloseCodes)
	}
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, `
[realtime]
base_ws_url = "wss://rt.example.com/ws"
max_reconnect_attempts = 3
reconnect_delay_base = 500000000
suppress_close_codes = [1000]

[log]
level = "debug"
console = true
`)

	if err := Load(path); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	c := Get()

	if c.Realtime.BaseWSURL != "wss://rt.example.com/ws" {
		t.Errorf("BaseWSURL = %q", c.Realtime.BaseWSURL)
	}
	if c.Realtime.MaxReconnectAttempts != 3 {
		t.Errorf("MaxReconnectAttempts = %d, want 3", c.Realtime.MaxReconnectAttempts)
	}
	if c.Realtime.ReconnectDelayBase != 500*time.Millisecond {
		t.Errorf("ReconnectDelayBase = %v, want 500ms", c.Realtime.ReconnectDelayBase)
	}
	if len(c.Realtime.SuppressCloseCodes) != 1 {
		t.Errorf("SuppressCloseCodes = %v, want [1000]", c.Realtime.SuppressCloseCodes)
	}

	// 未覆盖的字段保持默认值
	if c.Realtime.MaxReconnectDelay != 30*time.Second {
		t.Errorf("MaxReconnectDelay = %v, want default 30s", c.Realtime.MaxReconnectDelay)
	}
	if c.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", c.Logger.Level)
	}
	if !c.Logger.Console {
		t.Error("Logger.Console = false, want true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if err := Load("/nonexistent/cfg.toml"); err == nil {
		t.Error("Load() of missing file should fail")
	}
}

func TestReloadOnChange(t *testing.T) {
	path := writeTempConfig(t, `
[realtime]
max_reconnect_attempts = 3
`)

	if err := InitWithInterval(path, 20*time.Millisecond); err != nil {
		t.Fatalf("InitWithInterval() failed: %v", err)
	}
	defer Stop()

	if got := Get().Realtime.MaxReconnectAttempts; got != 3 {
		t.Fatalf("MaxReconnectAttempts = %d, want 3", got)
	}

	// 修改文件并把 mtime 往后拨，触发重载
	if err := os.WriteFile(path, []byte("[realtime]\nmax_reconnect_attempts = 7\n"), 0644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if Get().Realtime.MaxReconnectAttempts == 7 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("config not reloaded after file change")
}
