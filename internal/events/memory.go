package events

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed 表示发布器已关闭。
var ErrClosed = errors.New("事件发布器已关闭")

// MemoryPublisher 使用 channel 缓冲事件，主要用于开发与测试。
type MemoryPublisher struct {
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// NewMemoryPublisher 创建一个内存发布器。
func NewMemoryPublisher(size int) *MemoryPublisher {
	if size <= 0 {
		size = 64
	}
	return &MemoryPublisher{ch: make(chan Event, size), done: make(chan struct{})}
}

// Publish 将事件写入缓冲区，缓冲区满时阻塞直到上下文取消或发布器关闭。
func (p *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	case p.ch <- event:
		return nil
	}
}

// Events 返回只读的事件流，发布器关闭后该 channel 被关闭。
func (p *MemoryPublisher) Events() <-chan Event {
	return p.ch
}

// Close 关闭发布器。先关闭 done 让阻塞中的 Publish 释放读锁，再关闭事件 channel。
func (p *MemoryPublisher) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.mu.Lock()
		defer p.mu.Unlock()
		close(p.ch)
		p.closed = true
	})
	return nil
}
