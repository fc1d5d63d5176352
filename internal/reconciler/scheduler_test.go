package reconciler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubService counts Reconcile calls and returns a canned result.
type stubService struct {
	calls  atomic.Int32
	report *SyncReport
	err    error
}

func (s *stubService) Status(context.Context) (*SyncStatus, error) { return &SyncStatus{}, nil }

func (s *stubService) Reconcile(context.Context, Options) (*SyncReport, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

func (s *stubService) Close() error { return nil }

func TestScheduler_TriggerRunsReconcile(t *testing.T) {
	stub := &stubService{report: &SyncReport{Success: true}}
	scheduler := NewScheduler(context.Background(), stub, SchedulerConfig{}, zaptest.NewLogger(t))
	scheduler.Start()
	defer scheduler.Stop()

	scheduler.Trigger()

	assert.Eventually(t, func() bool {
		return stub.calls.Load() == 1 && scheduler.LastReport() != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, scheduler.LastReport().Success)
}

func TestScheduler_PeriodicRuns(t *testing.T) {
	stub := &stubService{report: &SyncReport{Success: true}}
	scheduler := NewScheduler(context.Background(), stub, SchedulerConfig{Interval: 20 * time.Millisecond}, zaptest.NewLogger(t))
	scheduler.Start()
	defer scheduler.Stop()

	assert.Eventually(t, func() bool {
		return stub.calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_CircuitOpensAfterFailures(t *testing.T) {
	stub := &stubService{err: errors.New("store unavailable")}
	scheduler := NewScheduler(context.Background(), stub, SchedulerConfig{
		FailureThreshold: 2,
		ResetAfter:       time.Hour,
	}, zaptest.NewLogger(t))
	scheduler.Start()
	defer scheduler.Stop()

	scheduler.Trigger()
	scheduler.Trigger()

	assert.Eventually(t, func() bool {
		return scheduler.CircuitState() == "open"
	}, 2*time.Second, 10*time.Millisecond)

	// Further triggers are skipped while the circuit is open.
	calls := stub.calls.Load()
	scheduler.Trigger()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, stub.calls.Load())
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	cb := NewCircuitBreaker(2, 10*time.Millisecond)
	require.Equal(t, "closed", cb.State())
	require.True(t, cb.Allow())

	cb.RecordFailure()
	require.Equal(t, "closed", cb.State())
	cb.RecordFailure()
	require.Equal(t, "open", cb.State())
	require.False(t, cb.Allow())

	// After the reset window one test request is allowed.
	time.Sleep(20 * time.Millisecond)
	require.True(t, cb.Allow())
	require.Equal(t, "half-open", cb.State())
	require.False(t, cb.Allow())

	cb.RecordSuccess()
	require.Equal(t, "closed", cb.State())
	require.True(t, cb.Allow())
}
