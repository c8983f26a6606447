package watcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mailwatcher/pkg/metrics"
	"mailwatcher/pkg/trace"
)

// CycleRunner Orchestrator 实现
type CycleRunner interface {
	RunCycle(ctx context.Context) CycleReport
}

// Locker 跨实例互斥，util.CycleLock 实现
type Locker interface {
	Acquire(ctx context.Context, owner string) (release func(), ok bool)
}

// Runner 启动时立即跑一次，之后按间隔触发；上一个周期未结束时跳过本次触发
type Runner struct {
	cycles   CycleRunner
	interval time.Duration
	lock     Locker
	logger   *zap.Logger

	running atomic.Bool
	last    atomic.Pointer[CycleReport]
	wg      sync.WaitGroup

	mu     sync.Mutex
	runCtx context.Context // Run 运行期间非空
}

type RunnerOption func(*Runner)

// WithLock 配置 Redis 时启用跨实例锁
func WithLock(l Locker) RunnerOption {
	return func(r *Runner) { r.lock = l }
}

func NewRunner(cycles CycleRunner, interval time.Duration, logger *zap.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		cycles:   cycles,
		interval: interval,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run 阻塞直到 ctx 取消，并等待正在运行的周期结束
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("Watcher started", zap.Duration("interval", r.interval))

	r.mu.Lock()
	r.runCtx = ctx
	r.dispatch(ctx)
	r.mu.Unlock()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// 置空后 Trigger 不会再 wg.Add
			r.mu.Lock()
			r.runCtx = nil
			r.mu.Unlock()
			r.wg.Wait()
			r.logger.Info("Watcher stopped")
			return
		case <-ticker.C:
			r.mu.Lock()
			r.dispatch(ctx)
			r.mu.Unlock()
		}
	}
}

// Trigger 在 Run 的 context 下额外触发一个周期，关闭时会被等待。
// Run 未运行或已有周期在跑时返回 false
func (r *Runner) Trigger() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runCtx == nil || r.runCtx.Err() != nil || r.running.Load() {
		return false
	}
	r.dispatch(r.runCtx)
	return true
}

// dispatch 调用方必须持有 r.mu
func (r *Runner) dispatch(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.RunOnce(ctx)
	}()
}

// RunOnce 执行一个周期；ran=false 表示因为重叠或锁被占用而跳过
func (r *Runner) RunOnce(ctx context.Context) (report CycleReport, ran bool) {
	if !r.running.CompareAndSwap(false, true) {
		metrics.IncrementCycleSkipped()
		r.logger.Warn("Previous cycle still running, skipping this tick")
		return CycleReport{}, false
	}
	defer r.running.Store(false)

	cycleID := trace.NewCycleID()
	ctx = trace.WithContext(ctx, cycleID)

	if r.lock != nil {
		release, ok := r.lock.Acquire(ctx, cycleID)
		if !ok {
			metrics.IncrementCycleSkipped()
			return CycleReport{}, false
		}
		defer release()
	}

	report = r.cycles.RunCycle(ctx)
	r.last.Store(&report)
	return report, true
}

// LastReport 最近一次完成的周期，尚未运行过时 ok=false
func (r *Runner) LastReport() (CycleReport, bool) {
	p := r.last.Load()
	if p == nil {
		return CycleReport{}, false
	}
	return *p, true
}

// Running 是否有周期正在执行
func (r *Runner) Running() bool {
	return r.running.Load()
}
