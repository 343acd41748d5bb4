package summary

import (
	"context"
	"errors"
	"sync"

	"story-summary-ai/internal/domain/entity"
)

// ErrProgressClosed 向已关闭的进度通道发送
var ErrProgressClosed = errors.New("progress channel closed")

// ProgressChannel 无界的进度事件队列，发送方永不因消费者缓慢而阻塞。
// 单生产者单消费者，事件按发送顺序送达。
type ProgressChannel struct {
	mu     sync.Mutex
	buffer []entity.ProgressEvent
	closed bool

	// notify 容量为 1，Send 后非阻塞地投递唤醒信号
	notify chan struct{}
	done   chan struct{}
}

func NewProgressChannel() *ProgressChannel {
	return &ProgressChannel{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Send 追加事件，通道关闭后返回 ErrProgressClosed
func (p *ProgressChannel) Send(ev entity.ProgressEvent) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrProgressClosed
	}
	p.buffer = append(p.buffer, ev)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive 阻塞直到有事件、通道关闭且已排空、或 ctx 结束。
// 后两种情况返回 false。
func (p *ProgressChannel) Receive(ctx context.Context) (entity.ProgressEvent, bool) {
	for {
		p.mu.Lock()
		if len(p.buffer) > 0 {
			ev := p.buffer[0]
			p.buffer[0] = entity.ProgressEvent{}
			p.buffer = p.buffer[1:]
			p.mu.Unlock()
			return ev, true
		}
		if p.closed {
			p.mu.Unlock()
			return entity.ProgressEvent{}, false
		}
		p.mu.Unlock()

		select {
		case <-p.notify:
		case <-p.done:
		case <-ctx.Done():
			return entity.ProgressEvent{}, false
		}
	}
}

// Close 关闭通道，已缓冲的事件仍可被读出。重复调用无副作用
func (p *ProgressChannel) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
}

// Len 当前缓冲的事件数
func (p *ProgressChannel) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}
