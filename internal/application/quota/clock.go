package quota

import (
	"context"
	"time"
)

// Clock 时间源，测试中替换为可控时钟
type Clock interface {
	Now() time.Time
	// Sleep 阻塞 d 或直到 ctx 结束，后者返回 ctx.Err()
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock 基于 time 包的真实时钟
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
