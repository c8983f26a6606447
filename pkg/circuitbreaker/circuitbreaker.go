package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State 表示熔断器状态
type State int

const (
	StateClosed   State = iota // 关闭：正常状态，允许请求通过
	StateOpen                  // 打开：熔断状态，直接拒绝请求
	StateHalfOpen              // 半开：尝试恢复，允许少量请求通过
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen 熔断器打开时返回
var ErrOpen = errors.New("circuit breaker is open")

// Config 熔断器配置
type Config struct {
	// 连续失败多少次后打开熔断器
	FailureThreshold int
	// 半开状态下成功多少次后关闭熔断器
	SuccessThreshold int
	// 打开状态持续多久后进入半开状态
	Timeout time.Duration
	// 半开状态下的最大并发请求数
	HalfOpenMaxRequests int
	// 状态变化回调（可选），在锁外调用
	OnStateChange func(from, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    1,
		Timeout:             60 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker 熔断器
type CircuitBreaker struct {
	config Config
	now    func() time.Time

	state         State
	failureCount  int
	successCount  int
	halfOpenCount int
	openedAt      time.Time

	mu sync.Mutex
}

// New 创建新的熔断器
func New(config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	return &CircuitBreaker{config: config, now: time.Now}
}

// Execute 执行 fn，带熔断保护。熔断时不调用 fn，直接返回 ErrOpen
func (cb *CircuitBreaker) Execute(fn func() error) error {
	transition, err := cb.before()
	cb.notify(transition)
	if err != nil {
		return err
	}

	err = fn()

	cb.notify(cb.after(err == nil))
	return err
}

type change struct{ from, to State }

func (cb *CircuitBreaker) before() (*change, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var tr *change
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Timeout {
		tr = cb.setState(StateHalfOpen)
	}

	switch cb.state {
	case StateOpen:
		return tr, ErrOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			return tr, ErrOpen
		}
		cb.halfOpenCount++
	}
	return tr, nil
}

func (cb *CircuitBreaker) after(success bool) *change {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.halfOpenCount--
	}

	if !success {
		cb.failureCount++
		switch {
		case cb.state == StateHalfOpen:
			// 半开状态下失败，立即打开
			return cb.setState(StateOpen)
		case cb.state == StateClosed && cb.failureCount >= cb.config.FailureThreshold:
			return cb.setState(StateOpen)
		}
		return nil
	}

	cb.failureCount = 0
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			return cb.setState(StateClosed)
		}
	}
	return nil
}

// setState 调用方必须持有 cb.mu
func (cb *CircuitBreaker) setState(to State) *change {
	from := cb.state
	cb.state = to
	cb.halfOpenCount = 0
	cb.successCount = 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateClosed:
		cb.failureCount = 0
	}
	return &change{from: from, to: to}
}

func (cb *CircuitBreaker) notify(tr *change) {
	if tr != nil && cb.config.OnStateChange != nil && tr.from != tr.to {
		cb.config.OnStateChange(tr.from, tr.to)
	}
}

// State 获取当前状态
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset 重置熔断器
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	tr := cb.setState(StateClosed)
	cb.mu.Unlock()
	cb.notify(tr)
}
