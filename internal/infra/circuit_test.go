package infra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.State() != CircuitClosed {
		t.Errorf("expected initial state to be closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
	})

	for i := 0; i < 10; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if cb.State() != CircuitClosed {
		t.Errorf("expected state to remain closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
	})

	testErr := errors.New("test error")

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return testErr
		})
	}

	if cb.State() != CircuitOpen {
		t.Errorf("expected state to be open after %d failures, got %s", 3, cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("e") })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("e") })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("e") })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("e") })

	if cb.State() != CircuitClosed {
		t.Errorf("expected circuit to remain closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenDuration:     time.Hour,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("test error")
	})

	if cb.State() != CircuitOpen {
		t.Fatalf("expected circuit to be open")
	}

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SingleProbeCloses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenDuration:     10 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("test error")
	})

	time.Sleep(20 * time.Millisecond)

	// Exactly one successful probe must close the circuit; no second
	// success is required.
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	if err != nil {
		t.Fatalf("expected probe to be allowed through, got %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected circuit to close after single successful probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_ReopensOnProbeFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenDuration:     10 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("test error")
	})

	time.Sleep(20 * time.Millisecond)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("probe failed")
	})

	if cb.State() != CircuitOpen {
		t.Errorf("expected circuit to reopen after failed probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	var mu sync.Mutex

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenDuration:     10 * time.Millisecond,
		OnStateChange: func(from, to string) {
			mu.Lock()
			transitions = append(transitions, from+"->"+to)
			mu.Unlock()
		},
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("error")
	})

	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("expected transition closed->open, got %v", transitions)
	}
	mu.Unlock()
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenDuration:     time.Hour,
	})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("error")
	})

	if cb.State() != CircuitOpen {
		t.Fatalf("expected circuit to be open")
	}

	cb.Reset()

	if cb.State() != CircuitClosed {
		t.Errorf("expected circuit to be closed after reset, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	if err != nil {
		t.Errorf("unexpected error after reset: %v", err)
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-circuit",
		FailureThreshold: 5,
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return errors.New("error")
		})
	}

	stats := cb.Stats()

	if stats.Name != "test-circuit" {
		t.Errorf("expected name 'test-circuit', got %s", stats.Name)
	}
	if stats.State != CircuitClosed {
		t.Errorf("expected state closed, got %s", stats.State)
	}
	if stats.Failures != 3 {
		t.Errorf("expected 3 failures, got %d", stats.Failures)
	}
	if stats.TotalCalls != 3 {
		t.Errorf("expected 3 total calls, got %d", stats.TotalCalls)
	}
	if len(stats.History) != 3 {
		t.Errorf("expected 3 history entries, got %d", len(stats.History))
	}
}

func TestCircuitBreaker_HistoryBounded(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{HistorySize: 3})

	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	}

	if len(cb.Stats().History) != 3 {
		t.Errorf("expected history capped at 3, got %d", len(cb.Stats().History))
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
	})

	result, err := ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("expected result 42, got %d", result)
	}
}

func TestExecuteWithResult_ReturnsZeroWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenDuration:     time.Hour,
	})

	_, _ = ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (int, error) {
		return 0, errors.New("error")
	})

	result, err := ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})

	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if result != 0 {
		t.Errorf("expected zero value when open, got %d", result)
	}
}

func TestCircuitBreakerRegistry_Get(t *testing.T) {
	registry := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 10,
	})

	cb1 := registry.Get("service-a")
	cb2 := registry.Get("service-a")
	cb3 := registry.Get("service-b")

	if cb1 != cb2 {
		t.Error("expected same circuit breaker for same name")
	}
	if cb1 == cb3 {
		t.Error("expected different circuit breakers for different names")
	}
}

func TestCircuitBreakerRegistry_GetWithConfig(t *testing.T) {
	registry := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 10,
	})

	cb := registry.GetWithConfig("custom", CircuitBreakerConfig{
		FailureThreshold: 3,
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return errors.New("error")
		})
	}

	if cb.State() != CircuitOpen {
		t.Error("expected circuit to open with custom threshold")
	}
}

func TestCircuitBreakerRegistry_Stats(t *testing.T) {
	registry := NewCircuitBreakerRegistry(CircuitBreakerConfig{})

	registry.Get("service-a")
	registry.Get("service-b")

	stats := registry.Stats()

	if len(stats) != 2 {
		t.Errorf("expected 2 stats entries, got %d", len(stats))
	}
}

func TestCircuitBreakerRegistry_OpenCircuits(t *testing.T) {
	registry := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenDuration:     time.Hour,
	})

	cb1 := registry.Get("healthy")
	cb2 := registry.Get("unhealthy")

	_ = cb1.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	_ = cb2.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("error")
	})

	open := registry.OpenCircuits()

	if len(open) != 1 {
		t.Fatalf("expected 1 open circuit, got %d", len(open))
	}
	if open[0] != "unhealthy" {
		t.Errorf("expected 'unhealthy' to be open, got %s", open[0])
	}
}

func TestCircuitBreakerRegistry_ResetAll(t *testing.T) {
	registry := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenDuration:     time.Hour,
	})

	cb1 := registry.Get("service-a")
	cb2 := registry.Get("service-b")

	_ = cb1.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("error")
	})
	_ = cb2.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("error")
	})

	if len(registry.OpenCircuits()) != 2 {
		t.Fatalf("expected 2 open circuits")
	}

	registry.ResetAll()

	if len(registry.OpenCircuits()) != 0 {
		t.Error("expected no open circuits after reset")
	}
}

func TestCircuitBreakerRegistry_KeyNamespacing(t *testing.T) {
	registry := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenDuration:     time.Hour,
	})

	model := "anthropic/claude-sonnet"
	_ = registry.Get(ModelKey(model)).Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("error")
	})

	if registry.IsAvailable(ModelKey(model), time.Now()) {
		t.Error("expected model key to be unavailable after failure")
	}
	if !registry.IsAvailable(ProviderKey(model), time.Now()) {
		t.Error("provider key should be independent of model key")
	}
	if ProviderKey("no-slash-model") != "provider:unknown" {
		t.Errorf("expected provider:unknown for unprefixed model, got %s", ProviderKey("no-slash-model"))
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 100,
	})

	var wg sync.WaitGroup
	errCount := 0
	var mu sync.Mutex

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := cb.Execute(context.Background(), func(ctx context.Context) error {
				if n%2 == 0 {
					return errors.New("error")
				}
				return nil
			})
			if err != nil && !errors.Is(err, ErrCircuitOpen) {
				mu.Lock()
				errCount++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	_ = cb.Stats()
}

func TestDefaultCircuitBreakerRegistry(t *testing.T) {
	DefaultCircuitBreakerRegistry = NewCircuitBreakerRegistry(CircuitBreakerConfig{})

	cb := GetCircuitBreaker("test-service")

	if cb == nil {
		t.Fatal("expected circuit breaker from default registry")
	}

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
