package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/airvista/airvista-realtime/internal/realtime"
)

func testOptions() realtime.Options {
	return realtime.Options{
		MaxReconnectAttempts: 3,
		ReconnectDelayBase:   10 * time.Millisecond,
		MaxReconnectDelay:    40 * time.Millisecond,
		BackoffMultiplier:    2,
		ConnectTimeout:       2 * time.Second,
		PingInterval:         time.Minute,
		SuppressCloseCodes:   []int{1000, 1001, 1005},
	}
}

func TestInitialStatus(t *testing.T) {
	mgr := realtime.NewManager()
	b := New(mgr, 50*time.Millisecond)
	defer b.Close()

	if got := b.Current(); got != Disconnected {
		t.Errorf("Current() = %v, want disconnected", got)
	}
}

func TestStatusOnConnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	mgr := realtime.NewManager()
	defer mgr.CleanupAll()

	b := New(mgr, 10*time.Millisecond)
	defer b.Close()

	updates := make(chan Status, 16)
	b.Subscribe(func(s Status) {
		updates <- s
	})

	if _, err := mgr.Connect(context.Background(), wsURL, testOptions()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	select {
	case s := <-updates:
		if s != Connected {
			t.Errorf("first update = %v, want connected", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("status update not delivered")
	}
	if got := b.Current(); got != Connected {
		t.Errorf("Current() = %v, want connected", got)
	}
}

func TestThrottleCoalescesToLatest(t *testing.T) {
	mgr := realtime.NewManager()
	b := New(mgr, 100*time.Millisecond)
	defer b.Close()

	var mu sync.Mutex
	var got []Status
	b.Subscribe(func(s Status) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	// 窗口外的首次变更立即下发
	b.deliver(Connected)

	// 窗口内的抖动合并为最新值，中间状态被吞掉
	b.deliver(Reconnecting)
	b.deliver(Connected)
	b.deliver(Disconnected)

	mu.Lock()
	if len(got) != 1 || got[0] != Connected {
		t.Fatalf("immediate updates = %v, want [connected]", got)
	}
	mu.Unlock()

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("updates = %v, want exactly 2", got)
	}
	if got[1] != Disconnected {
		t.Errorf("coalesced update = %v, want disconnected", got[1])
	}
}

func TestThrottleSkipsNoopFlush(t *testing.T) {
	mgr := realtime.NewManager()
	b := New(mgr, 50*time.Millisecond)
	defer b.Close()

	updates := make(chan Status, 16)
	b.Subscribe(func(s Status) {
		updates <- s
	})

	b.deliver(Connected)
	<-updates

	// 窗口内先抖动再回到当前值：trailing 定时器不应重复下发
	b.deliver(Reconnecting)
	b.deliver(Connected)

	select {
	case s := <-updates:
		t.Errorf("unexpected update %v, pending equals current", s)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSubscribeRemove(t *testing.T) {
	mgr := realtime.NewManager()
	b := New(mgr, 10*time.Millisecond)
	defer b.Close()

	updates := make(chan Status, 16)
	remove := b.Subscribe(func(s Status) {
		updates <- s
	})
	remove()
	remove() // 幂等

	b.deliver(Connected)

	select {
	case s := <-updates:
		t.Errorf("removed listener received %v", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTerminalNotifierOncePerConnection(t *testing.T) {
	mgr := realtime.NewManager()
	b := New(mgr, 10*time.Millisecond)
	defer b.Close()

	var mu sync.Mutex
	var notified []string
	b.SetTerminalNotifier(func(connectionID, reason string) {
		mu.Lock()
		notified = append(notified, connectionID)
		mu.Unlock()
	})

	e := realtime.Event{
		Type:         realtime.EventReconnectFailed,
		ConnectionID: "wss://rt.airvista.io/ws",
		Reason:       "max reconnect attempts exceeded",
		Timestamp:    time.Now(),
	}

	// 同一连接的重复终态事件只通知一次
	b.handleEvent(e)
	b.handleEvent(e)
	b.handleEvent(e)

	other := e
	other.ConnectionID = "wss://rt.airvista.io/ws/v2"
	b.handleEvent(other)

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 2 {
		t.Fatalf("notifications = %v, want one per connection", notified)
	}
	if notified[0] != e.ConnectionID || notified[1] != other.ConnectionID {
		t.Errorf("notified = %v", notified)
	}
}
