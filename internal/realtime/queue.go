package realtime

import "sync"

// pendingMessage 排队中的出站消息，done 通道容量为 1，
// 调用方可等待也可直接丢弃（fire-and-forget）
type pendingMessage struct {
	payload []byte
	done    chan error
}

func newPendingMessage(payload []byte) *pendingMessage {
	return &pendingMessage{
		payload: payload,
		done:    make(chan error, 1),
	}
}

// settle 写入结果，done 带缓冲所以不会阻塞
func (p *pendingMessage) settle(err error) {
	select {
	case p.done <- err:
	default:
	}
}

// sendQueue 每连接一个的出站 FIFO 队列，socket 未就绪时暂存消息
type sendQueue struct {
	mu    sync.Mutex
	items []*pendingMessage
}

func (q *sendQueue) push(m *pendingMessage) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
}

// pop 取出队首，队列空时返回 nil
func (q *sendQueue) pop() *pendingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head
}

// drain 严格按 FIFO 逐条发送，队首失败即停止（保序，不跳过后续消息），
// 返回导致停止的写入错误
func (q *sendQueue) drain(write func([]byte) error) error {
	for {
		head := q.pop()
		if head == nil {
			return nil
		}
		if err := write(head.payload); err != nil {
			head.settle(err)
			return err
		}
		head.settle(nil)
	}
}

// rejectAll 连接销毁时按入队顺序拒绝所有排队消息
func (q *sendQueue) rejectAll(err error) {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, m := range items {
		m.settle(err)
	}
}

func (q *sendQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
