package limiter

import (
	"sync"
	"time"
)

type window struct {
	count int
	start time.Time
}

// Limiter 按连接维度做固定窗口计数限流：窗口内计数达到上限即拒绝，
// 窗口过期后整体重置。键是连接 ID 而非用户 ID，重连会重置窗口。
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	length  time.Duration
	max     int
	now     func() time.Time
}

func New(length time.Duration, max int) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		length:  length,
		max:     max,
		now:     time.Now,
	}
}

// Allow 判定该连接当前是否还允许发送一条消息。
func (l *Limiter) Allow(connID string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[connID]
	if !ok {
		l.windows[connID] = &window{count: 1, start: now}
		return true
	}
	if now.Sub(w.start) > l.length {
		w.count = 1
		w.start = now
		return true
	}
	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

// Forget 在连接断开时清理窗口状态。幂等。
func (l *Limiter) Forget(connID string) {
	l.mu.Lock()
	delete(l.windows, connID)
	l.mu.Unlock()
}
