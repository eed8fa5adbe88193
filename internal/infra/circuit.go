package infra

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Circuit breaker states
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// CircuitBreaker errors
var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies this circuit breaker.
	Name string

	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// OpenDuration is how long the circuit stays open before a probe is allowed.
	OpenDuration time.Duration

	// HistorySize bounds the number of recent call durations retained.
	HistorySize int

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to string)
}

// CircuitBreaker implements the circuit breaker pattern. Half-open is a
// single probe: one call through decides whether the circuit re-arms
// (success) or re-opens (failure). There is no success-threshold counter.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu                 sync.RWMutex
	state              string
	consecutiveFailures int
	totalCalls         int
	successes          int
	failures           int
	lastFailure        time.Time
	lastStateChange    time.Time
	openUntil          time.Time
	history            []time.Duration
}

// NewCircuitBreaker creates a new circuit breaker with the given config.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.OpenDuration <= 0 {
		config.OpenDuration = 30 * time.Second
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 10
	}

	return &CircuitBreaker{
		config:          config,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs the given function with circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.canExecute(); err != nil {
		return err
	}

	start := time.Now()
	err := fn(ctx)
	cb.recordResult(err, time.Since(start))
	return err
}

// ExecuteWithResult runs a function that returns a value with circuit breaker protection.
func ExecuteWithResult[T any](cb *CircuitBreaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.canExecute(); err != nil {
		return zero, err
	}

	start := time.Now()
	result, err := fn(ctx)
	cb.recordResult(err, time.Since(start))
	return result, err
}

// Record is the non-blocking counterpart to Execute/ExecuteWithResult: it
// lets a caller that already invoked the underlying operation itself (for
// example the LLM Invoker, which needs to classify the error before deciding
// whether it counts as a circuit failure) feed the outcome back in.
func (cb *CircuitBreaker) Record(success bool, duration time.Duration) {
	var err error
	if !success {
		err = ErrCircuitOpen // sentinel value; only its nilness is inspected
	}
	cb.recordResult(err, duration)
}

// IsAvailable reports whether a call is currently allowed through, without
// attempting the half-open state transition that canExecute performs. Unknown
// keys (zero-value breakers) are always available.
func (cb *CircuitBreaker) IsAvailable(now time.Time) bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if cb.state != CircuitOpen {
		return true
	}
	return !now.Before(cb.openUntil)
}

// OpenUntil returns the time at which an open circuit becomes eligible for a
// half-open probe. Zero if the circuit has never opened.
func (cb *CircuitBreaker) OpenUntil() time.Time {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.openUntil
}

// canExecute checks if execution is allowed and transitions state if needed.
func (cb *CircuitBreaker) canExecute() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if !time.Now().Before(cb.openUntil) {
			cb.transitionTo(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen

	case CircuitHalfOpen:
		return nil

	default:
		return nil
	}
}

// recordResult records the result of an execution.
func (cb *CircuitBreaker) recordResult(err error, duration time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++
	cb.history = append(cb.history, duration)
	if len(cb.history) > cb.config.HistorySize {
		cb.history = cb.history[len(cb.history)-cb.config.HistorySize:]
	}

	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

// recordFailure records a failed execution.
func (cb *CircuitBreaker) recordFailure() {
	cb.failures++
	cb.consecutiveFailures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}

	case CircuitHalfOpen:
		// Probe failed: re-open.
		cb.transitionTo(CircuitOpen)
	}
}

// recordSuccess records a successful execution.
func (cb *CircuitBreaker) recordSuccess() {
	cb.successes++
	cb.consecutiveFailures = 0

	if cb.state == CircuitHalfOpen {
		// Single successful probe re-arms the circuit.
		cb.transitionTo(CircuitClosed)
	}
}

// transitionTo changes the circuit breaker state.
func (cb *CircuitBreaker) transitionTo(newState string) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()
	if newState == CircuitOpen {
		cb.openUntil = cb.lastStateChange.Add(cb.config.OpenDuration)
	}
	if newState == CircuitClosed {
		cb.consecutiveFailures = 0
		cb.openUntil = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		// Call asynchronously to avoid blocking
		go cb.config.OnStateChange(oldState, newState)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats returns current circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	history := make([]time.Duration, len(cb.history))
	copy(history, cb.history)

	return CircuitBreakerStats{
		Name:                cb.config.Name,
		State:               cb.state,
		Failures:            cb.failures,
		Successes:           cb.successes,
		ConsecutiveFailures: cb.consecutiveFailures,
		TotalCalls:          cb.totalCalls,
		LastFailure:         cb.lastFailure,
		LastStateChange:     cb.lastStateChange,
		OpenUntil:           cb.openUntil,
		History:             history,
	}
}

// Reset manually resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.consecutiveFailures = 0
	cb.openUntil = time.Time{}
	cb.lastStateChange = time.Now()
}

// CircuitBreakerStats contains statistics about a circuit breaker.
type CircuitBreakerStats struct {
	Name                string
	State               string
	Failures            int
	Successes           int
	ConsecutiveFailures int
	TotalCalls          int
	LastFailure         time.Time
	LastStateChange     time.Time
	OpenUntil           time.Time
	History             []time.Duration
}

// CircuitBreakerRegistry manages multiple circuit breakers.
type CircuitBreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults CircuitBreakerConfig
}

// NewCircuitBreakerRegistry creates a new registry with default config.
func NewCircuitBreakerRegistry(defaults CircuitBreakerConfig) *CircuitBreakerRegistry {
	if defaults.FailureThreshold <= 0 {
		defaults.FailureThreshold = 5
	}
	if defaults.OpenDuration <= 0 {
		defaults.OpenDuration = 30 * time.Second
	}

	return &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
	}
}

// Get returns or creates a circuit breaker with the given name.
func (r *CircuitBreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()

	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config := r.defaults
	config.Name = name
	cb = NewCircuitBreaker(config)
	r.breakers[name] = cb
	return cb
}

// GetWithConfig returns or creates a circuit breaker with custom config.
func (r *CircuitBreakerRegistry) GetWithConfig(name string, config CircuitBreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config.Name = name
	cb := NewCircuitBreaker(config)
	r.breakers[name] = cb
	return cb
}

// Stats returns statistics for all circuit breakers.
func (r *CircuitBreakerRegistry) Stats() []CircuitBreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]CircuitBreakerStats, 0, len(r.breakers))
	for _, cb := range r.breakers {
		stats = append(stats, cb.Stats())
	}
	return stats
}

// OpenCircuits returns names of all open circuit breakers.
func (r *CircuitBreakerRegistry) OpenCircuits() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var open []string
	for name, cb := range r.breakers {
		if cb.State() == CircuitOpen {
			open = append(open, name)
		}
	}
	return open
}

// ResetAll resets all circuit breakers to closed state.
func (r *CircuitBreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// DefaultCircuitBreakerRegistry is the global circuit breaker registry.
var DefaultCircuitBreakerRegistry = NewCircuitBreakerRegistry(CircuitBreakerConfig{})

// GetCircuitBreaker returns a circuit breaker from the default registry.
func GetCircuitBreaker(name string) *CircuitBreaker {
	return DefaultCircuitBreakerRegistry.Get(name)
}

// ModelKey namespaces a circuit breaker key for a specific model name.
func ModelKey(model string) string {
	return "model:" + model
}

// ProviderKey namespaces a circuit breaker key for a provider name, derived
// by splitting a "provider/model" identifier. Models with no provider prefix
// are attributed to "unknown".
func ProviderKey(model string) string {
	for i := 0; i < len(model); i++ {
		if model[i] == '/' {
			return "provider:" + model[:i]
		}
	}
	return "provider:unknown"
}

// IsAvailable reports whether a key is currently available without creating
// an entry for it if one doesn't already exist; unknown keys are available.
func (r *CircuitBreakerRegistry) IsAvailable(name string, now time.Time) bool {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return cb.IsAvailable(now)
}
