package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"custodex.com/pkg/xerr"
)

// Rule 单个熔断器的参数，零值字段由 NewManager 补默认值
type Rule struct {
	// Half-Open 状态允许通过的探测请求数
	MaxRequests uint32
	// Closed 状态计数窗口
	Interval time.Duration
	// >0 启用 rolling window
	BucketPeriod time.Duration
	// Open 状态持续时间，到期进入 Half-Open
	Timeout time.Duration

	// 触发条件，满足其一即熔断
	TripConsecutiveFailures uint32
	TripFailureRate         float64 // 0~1
	TripMinRequests         uint32  // 失败率计算的最小样本数
}

func (r Rule) withDefaults() Rule {
	if r.MaxRequests == 0 {
		r.MaxRequests = 1
	}
	if r.Timeout <= 0 {
		r.Timeout = 30 * time.Second
	}
	if r.Interval <= 0 {
		r.Interval = time.Minute
	}
	if r.TripConsecutiveFailures == 0 && r.TripFailureRate == 0 {
		r.TripConsecutiveFailures = 5
	}
	if r.TripMinRequests == 0 {
		r.TripMinRequests = 20
	}
	return r
}

func (r Rule) readyToTrip(c gobreaker.Counts) bool {
	if r.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= r.TripConsecutiveFailures {
		return true
	}
	if r.TripFailureRate > 0 && c.Requests >= r.TripMinRequests {
		return float64(c.TotalFailures)/float64(c.Requests) >= r.TripFailureRate
	}
	return false
}

// Manager 按外部依赖的方法名懒创建熔断器，方法之间互不影响
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]

	defaultRule Rule
	rules       map[string]Rule
	onChange    func(name string, from, to gobreaker.State)
}

func NewManager(defaultRule Rule, perMethod map[string]Rule) *Manager {
	rules := make(map[string]Rule, len(perMethod))
	for k, r := range perMethod {
		rules[k] = r.withDefaults()
	}
	return &Manager{
		breakers:    make(map[string]*gobreaker.CircuitBreaker[struct{}], 8),
		defaultRule: defaultRule.withDefaults(),
		rules:       rules,
	}
}

func (m *Manager) Get(method string) *gobreaker.CircuitBreaker[struct{}] {
	m.mu.RLock()
	cb := m.breakers[method]
	m.mu.RUnlock()
	if cb != nil {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb = m.breakers[method]; cb != nil {
		return cb
	}
	rule, ok := m.rules[method]
	if !ok {
		rule = m.defaultRule
	}
	cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:          method,
		MaxRequests:   rule.MaxRequests,
		Interval:      rule.Interval,
		BucketPeriod:  rule.BucketPeriod,
		Timeout:       rule.Timeout,
		ReadyToTrip:   rule.readyToTrip,
		IsSuccessful:  isSuccessfulForBreaker,
		OnStateChange: m.onChange,
	})
	m.breakers[method] = cb
	return cb
}

// OnStateChange 外部挂钩 (metrics / 日志)，只对之后创建的熔断器生效
func (m *Manager) OnStateChange(fn func(name string, from, to gobreaker.State)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Open 返回当前处于 open 状态的方法名（有序）
func (m *Manager) Open() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name, cb := range m.breakers {
		if cb.State() == gobreaker.StateOpen {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// isSuccessfulForBreaker 业务可预期的错误不代表依赖不健康，不计入失败
func isSuccessfulForBreaker(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	ce, ok := xerr.As(err)
	if !ok {
		return false
	}
	switch ce.Code {
	case xerr.ValidationError,
		xerr.RecordNotFound,
		xerr.Forbidden,
		xerr.Unauthenticated,
		xerr.InsufficientBalance:
		return true
	}
	return false
}
