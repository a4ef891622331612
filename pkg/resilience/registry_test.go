package resilience

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry()

	cb := NewCircuitBreaker(Config{Name: "payments"})
	registry.Register(cb)

	got, ok := registry.Get("payments")
	require.True(t, ok)
	assert.Same(t, cb, got)

	_, ok = registry.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	registry := NewRegistry()

	first := NewCircuitBreaker(Config{Name: "payments"})
	second := NewCircuitBreaker(Config{Name: "payments"})
	registry.Register(first)
	registry.Register(second)

	got, ok := registry.Get("payments")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRegistry_GetOrCreate(t *testing.T) {
	registry := NewRegistry()

	cb1 := registry.GetOrCreate("emails", Config{FailureThreshold: 2})
	cb2 := registry.GetOrCreate("emails", Config{FailureThreshold: 99})

	assert.Same(t, cb1, cb2, "same name resolves to one shared breaker")
	assert.Equal(t, "emails", cb1.Name())
}

func TestRegistry_GetOrCreateConcurrent(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	results := make([]*CircuitBreaker, 20)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = registry.GetOrCreate("shared", Config{FailureThreshold: 3})
		}(i)
	}
	wg.Wait()

	for i := 1; i < 20; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestRegistry_Unregister(t *testing.T) {
	registry := NewRegistry()
	registry.GetOrCreate("short-lived", Config{})

	registry.Unregister("short-lived")

	_, ok := registry.Get("short-lived")
	assert.False(t, ok)

	// Unregistering an unknown name is a no-op
	registry.Unregister("never-existed")
}

func TestRegistry_AllReturnsSnapshot(t *testing.T) {
	registry := NewRegistry()
	registry.GetOrCreate("a", Config{})
	registry.GetOrCreate("b", Config{})

	all := registry.All()
	require.Len(t, all, 2)

	// Mutating the snapshot does not affect the registry
	delete(all, "a")
	_, ok := registry.Get("a")
	assert.True(t, ok)
}

func TestRegistry_Report(t *testing.T) {
	registry := NewRegistry()

	healthy := registry.GetOrCreate("healthy", Config{FailureThreshold: 5})
	tripped := registry.GetOrCreate("tripped", Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
	})

	healthy.Execute(succeedingCall)
	tripped.Execute(failingCall)
	tripped.Execute(succeedingCall) // rejected

	report := registry.Report()
	require.Len(t, report, 2)

	assert.Equal(t, "CLOSED", report["healthy"].State)
	assert.Equal(t, int64(1), report["healthy"].SuccessCount)

	assert.Equal(t, "OPEN", report["tripped"].State)
	assert.Equal(t, int64(1), report["tripped"].FailureCount)
	assert.Equal(t, int64(1), report["tripped"].RejectedCount)
}

func TestRegistry_ReportEmpty(t *testing.T) {
	registry := NewRegistry()
	report := registry.Report()
	assert.NotNil(t, report)
	assert.Empty(t, report)
}

func TestRegistry_IndependentBreakers(t *testing.T) {
	registry := NewRegistry()

	for i := 0; i < 3; i++ {
		registry.GetOrCreate(fmt.Sprintf("svc-%d", i), Config{
			FailureThreshold: 1,
			ResetTimeout:     time.Minute,
		})
	}

	cb, _ := registry.Get("svc-1")
	cb.Execute(failingCall)

	report := registry.Report()
	assert.Equal(t, "CLOSED", report["svc-0"].State)
	assert.Equal(t, "OPEN", report["svc-1"].State)
	assert.Equal(t, "CLOSED", report["svc-2"].State)
}
