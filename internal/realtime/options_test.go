package realtime

import (
	"testing"
	"time"
)

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     string
	}{
		{"小写保持不变", "wss://rt.airvista.io/ws", "wss://rt.airvista.io/ws"},
		{"大小写归一化", "WSS://RT.AirVista.IO/WS", "wss://rt.airvista.io/ws"},
		{"去掉 wss 默认端口", "wss://rt.airvista.io:443/ws", "wss://rt.airvista.io/ws"},
		{"去掉 ws 默认端口", "ws://localhost:80/ws", "ws://localhost/ws"},
		{"保留非默认端口", "ws://localhost:8080/ws", "ws://localhost:8080/ws"},
		{"去掉 query", "wss://rt.airvista.io/ws?token=abc", "wss://rt.airvista.io/ws"},
		{"去掉 fragment", "wss://rt.airvista.io/ws#frag", "wss://rt.airvista.io/ws"},
		{"空路径", "wss://rt.airvista.io", "wss://rt.airvista.io"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeEndpoint(tt.endpoint)
			if err != nil {
				t.Fatalf("NormalizeEndpoint(%q) failed: %v", tt.endpoint, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeEndpoint(%q) = %q, want %q", tt.endpoint, got, tt.want)
			}
		})
	}
}

func TestNormalizeEndpointSameIdentity(t *testing.T) {
	// 不同写法的同一端点必须归一化到同一 ID
	variants := []string{
		"wss://rt.airvista.io/ws/v2",
		"WSS://rt.AirVista.io/ws/v2",
		"wss://rt.airvista.io:443/ws/v2",
		"wss://rt.airvista.io/ws/v2?lang=zh",
	}

	first, err := NormalizeEndpoint(variants[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range variants[1:] {
		got, err := NormalizeEndpoint(v)
		if err != nil {
			t.Fatalf("NormalizeEndpoint(%q) failed: %v", v, err)
		}
		if got != first {
			t.Errorf("NormalizeEndpoint(%q) = %q, want %q", v, got, first)
		}
	}
}

func TestNormalizeEndpointInvalid(t *testing.T) {
	invalid := []string{
		"",
		"not a url",
		"/just/a/path",
		"wss://",
	}

	for _, e := range invalid {
		if _, err := NormalizeEndpoint(e); err == nil {
			t.Errorf("NormalizeEndpoint(%q) should fail", e)
		}
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	got := Options{}.withDefaults()
	def := DefaultOptions()

	if got.MaxReconnectAttempts != def.MaxReconnectAttempts {
		t.Errorf("MaxReconnectAttempts = %v, want %v", got.MaxReconnectAttempts, def.MaxReconnectAttempts)
	}
	if got.ReconnectDelayBase != def.ReconnectDelayBase {
		t.Errorf("ReconnectDelayBase = %v, want %v", got.ReconnectDelayBase, def.ReconnectDelayBase)
	}
	if got.PingInterval != def.PingInterval {
		t.Errorf("PingInterval = %v, want %v", got.PingInterval, def.PingInterval)
	}
	if len(got.SuppressCloseCodes) != 3 {
		t.Errorf("SuppressCloseCodes = %v, want [1000 1001 1005]", got.SuppressCloseCodes)
	}
}

func TestOptionsWithDefaultsKeepsExplicit(t *testing.T) {
	// 显式设置的小值不应被默认值覆盖
	o := Options{
		MaxReconnectAttempts: 2,
		ReconnectDelayBase:   5 * time.Millisecond,
		MaxReconnectDelay:    20 * time.Millisecond,
		BackoffMultiplier:    1.5,
		ConnectTimeout:       time.Second,
		PingInterval:         50 * time.Millisecond,
		SuppressCloseCodes:   []int{1000},
	}.withDefaults()

	if o.MaxReconnectAttempts != 2 {
		t.Errorf("MaxReconnectAttempts = %v, want 2", o.MaxReconnectAttempts)
	}
	if o.ReconnectDelayBase != 5*time.Millisecond {
		t.Errorf("ReconnectDelayBase = %v, want 5ms", o.ReconnectDelayBase)
	}
	if len(o.SuppressCloseCodes) != 1 {
		t.Errorf("SuppressCloseCodes = %v, want [1000]", o.SuppressCloseCodes)
	}
}

func TestOptionsSuppressed(t *testing.T) {
	o := DefaultOptions()

	for _, code := range []int{1000, 1001, 1005} {
		if !o.suppressed(code) {
			t.Errorf("suppressed(%d) = false, want true", code)
		}
	}
	for _, code := range []int{1006, 1011, 4000} {
		if o.suppressed(code) {
			t.Errorf("suppressed(%d) = true, want false", code)
		}
	}
}
