// Package resilience 提供远程调用保护原语（熔断器 + 重试策略）。
// 缓存客户端和向量存储的每个远程调用点都由这两个组件包裹。
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// Threshold 连续失败次数阈值（触发熔断）
	Threshold int

	// RecoveryTimeout 熔断恢复等待时间（从 Open -> HalfOpen）
	RecoveryTimeout time.Duration

	// OnStateChange 状态变更回调
	OnStateChange func(from State, to State)
}

// DefaultBreakerConfig 返回默认配置
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		Threshold:       5,
		RecoveryTimeout: 30 * time.Second,
	}
}

// CircuitBreaker 熔断器。半开状态下只放行一个试探调用：
// 成功则关闭熔断器，失败则重新打开。
type CircuitBreaker struct {
	config *BreakerConfig
	logger *zap.Logger

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	halfOpenInUse   bool
}

// 错误定义
var (
	ErrCircuitOpen   = errors.New("circuit breaker is open")
	ErrTrialInFlight = errors.New("half-open trial call already in flight")
)

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(config *BreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CircuitBreaker{
		config: config,
		logger: logger,
		state:  StateClosed,
	}
}

// Call 执行调用。熔断器打开期间直接返回 ErrCircuitOpen，
// 不触碰底层函数；状态检查本身不阻塞。
func (b *CircuitBreaker) Call(fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn()
	b.afterCall(err == nil)
	return err
}

// beforeCall 调用前检查
func (b *CircuitBreaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		// 恢复窗口结束后进入半开状态
		if time.Since(b.lastFailureTime) > b.config.RecoveryTimeout {
			b.setState(StateHalfOpen)
			b.halfOpenInUse = true
			b.logger.Info("circuit breaker half-open, allowing trial call")
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		// 半开状态只允许一个在途试探调用
		if b.halfOpenInUse {
			return ErrTrialInFlight
		}
		b.halfOpenInUse = true
		return nil

	default:
		return fmt.Errorf("unknown circuit breaker state: %v", b.state)
	}
}

// afterCall 调用后处理
func (b *CircuitBreaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

// onSuccess 处理成功调用
func (b *CircuitBreaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0

	case StateHalfOpen:
		b.logger.Info("circuit breaker recovered, closing")
		b.setState(StateClosed)
		b.failureCount = 0
		b.halfOpenInUse = false
	}
}

// onFailure 处理失败调用
func (b *CircuitBreaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.Threshold {
			b.logger.Warn("circuit breaker opened",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.Threshold),
			)
			b.setState(StateOpen)
		}

	case StateHalfOpen:
		// 试探失败，重新打开
		b.logger.Warn("circuit breaker trial call failed, reopening")
		b.setState(StateOpen)
		b.halfOpenInUse = false
	}
}

// setState 设置状态并触发回调
func (b *CircuitBreaker) setState(newState State) {
	oldState := b.state
	b.state = newState

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, newState)
	}
}

// State 获取当前状态
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 重置熔断器（手动恢复）
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenInUse = false

	b.logger.Info("circuit breaker reset",
		zap.String("from_state", oldState.String()),
	)

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, StateClosed)
	}
}
