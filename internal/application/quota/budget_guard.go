// Package quota 对 LLM 调用施加每分钟/每日请求预算，并对限流错误做带退避的重试
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "story-summary-ai/pkg/errors"
	"story-summary-ai/pkg/logger"
	"story-summary-ai/pkg/metrics"
)

const (
	DefaultQuotaPerMinute = 15
	DefaultDailyLimit     = 1500
	DefaultMaxAttempts    = 5

	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour
)

// Config 请求预算参数，零值字段使用默认值
type Config struct {
	QuotaPerMinute int
	DailyLimit     int
	MaxAttempts    int
}

func (c Config) withDefaults() Config {
	if c.QuotaPerMinute <= 0 {
		c.QuotaPerMinute = DefaultQuotaPerMinute
	}
	if c.DailyLimit <= 0 {
		c.DailyLimit = DefaultDailyLimit
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// BudgetGuard 单次运行独占的请求预算。
// 任意 60 秒窗口内成功的调用数不超过 QuotaPerMinute，每个 24 小时窗口内不超过 DailyLimit。
type BudgetGuard struct {
	clock Clock

	mu             sync.Mutex
	quotaPerMinute int
	dailyLimit     int
	maxAttempts    int
	recent         []time.Time
	dailyCount     int
	dailyResetAt   time.Time
}

// NewBudgetGuard 创建请求预算，clock 为 nil 时使用 SystemClock
func NewBudgetGuard(cfg Config, clock Clock) *BudgetGuard {
	if clock == nil {
		clock = SystemClock{}
	}
	cfg = cfg.withDefaults()
	metrics.QuotaPerMinute.Set(float64(cfg.QuotaPerMinute))
	return &BudgetGuard{
		clock:          clock,
		quotaPerMinute: cfg.QuotaPerMinute,
		dailyLimit:     cfg.DailyLimit,
		maxAttempts:    cfg.MaxAttempts,
		dailyResetAt:   clock.Now().Add(dayWindow),
	}
}

// QuotaPerMinute 当前生效的每分钟配额，可能已被服务端提示调整
func (g *BudgetGuard) QuotaPerMinute() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.quotaPerMinute
}

// DailyCount 当前 24 小时窗口内已成功的调用数
func (g *BudgetGuard) DailyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dailyCount
}

// BeforeCall 阻塞直到日预算与分钟预算均有余量
func (g *BudgetGuard) BeforeCall(ctx context.Context) error {
	for {
		now := g.clock.Now()

		g.mu.Lock()
		if !now.Before(g.dailyResetAt) {
			g.dailyCount = 0
			g.dailyResetAt = now.Add(dayWindow)
		}

		if g.dailyCount >= g.dailyLimit {
			wait := g.dailyResetAt.Sub(now)
			g.mu.Unlock()

			logger.Warn(ctx, "daily request limit reached, waiting for reset",
				"daily_limit", g.dailyLimit,
				"wait", wait.String(),
			)
			if err := g.sleep(ctx, wait, "daily"); err != nil {
				return err
			}
			continue
		}

		g.recent = pruneBefore(g.recent, now.Add(-minuteWindow))
		if len(g.recent) < g.quotaPerMinute {
			g.mu.Unlock()
			return nil
		}

		wait := g.recent[0].Add(minuteWindow).Sub(now)
		quota := g.quotaPerMinute
		g.mu.Unlock()

		logger.Debug(ctx, "per-minute request quota reached, waiting",
			"quota_per_minute", quota,
			"wait", wait.String(),
		)
		if err := g.sleep(ctx, wait, "window"); err != nil {
			return err
		}
	}
}

// AfterCallSuccess 记录一次成功调用
func (g *BudgetGuard) AfterCallSuccess() {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	if !now.Before(g.dailyResetAt) {
		g.dailyCount = 0
		g.dailyResetAt = now.Add(dayWindow)
	}
	g.recent = append(g.recent, now)
	g.dailyCount++
}

// Execute 在预算内执行 call。限流错误按指数退避重试，服务端给出 retryDelay 时以其为准；
// 其它错误直接返回；重试耗尽返回 ErrRetriesExhausted。
func (g *BudgetGuard) Execute(ctx context.Context, call func(ctx context.Context) error) error {
	base := g.baseDelay()

	var lastErr error
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := g.BeforeCall(ctx); err != nil {
			return err
		}

		err := call(ctx)
		if err == nil {
			g.AfterCallSuccess()
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("llm call abandoned: %w", ctxErr)
		}
		if !IsQuotaError(err) {
			if apperrors.IsAppError(err) {
				return err
			}
			return apperrors.Wrap(err, apperrors.CodeLLMCallFailed, "llm call failed")
		}

		lastErr = err
		info := ParseQuotaError(err.Error())
		g.applyQuotaHint(ctx, info.QuotaValue)

		if attempt == g.maxAttempts-1 {
			break
		}

		wait := base << attempt
		if info.RetryDelay > 0 {
			wait = info.RetryDelay
		}
		metrics.QuotaRetriesTotal.WithLabelValues("retry").Inc()
		logger.Warn(ctx, "llm quota error, retrying",
			"attempt", attempt+1,
			"max_attempts", g.maxAttempts,
			"wait", wait.String(),
			"error", err.Error(),
		)
		if err := g.sleep(ctx, wait, "backoff"); err != nil {
			return err
		}
	}

	metrics.QuotaRetriesTotal.WithLabelValues("exhausted").Inc()
	return apperrors.Wrap(lastErr, apperrors.CodeRetriesExhausted,
		fmt.Sprintf("llm call failed after %d attempts", g.maxAttempts))
}

func (g *BudgetGuard) baseDelay() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return minuteWindow / time.Duration(g.quotaPerMinute)
}

func (g *BudgetGuard) applyQuotaHint(ctx context.Context, quota int) {
	if quota <= 0 {
		return
	}
	g.mu.Lock()
	old := g.quotaPerMinute
	if quota == old {
		g.mu.Unlock()
		return
	}
	g.quotaPerMinute = quota
	g.mu.Unlock()

	metrics.QuotaPerMinute.Set(float64(quota))
	logger.Info(ctx, "per-minute quota updated from provider hint",
		"old_quota", old,
		"new_quota", quota,
	)
}

func (g *BudgetGuard) sleep(ctx context.Context, d time.Duration, reason string) error {
	if d <= 0 {
		return nil
	}
	start := g.clock.Now()
	err := g.clock.Sleep(ctx, d)
	metrics.QuotaWaitDuration.WithLabelValues(reason).Observe(g.clock.Now().Sub(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("wait for request budget: %w", err)
		}
		return err
	}
	return nil
}

// pruneBefore 丢弃早于 cutoff 的时间戳，ts 按时间升序
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
