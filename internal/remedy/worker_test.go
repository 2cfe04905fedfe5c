package remedy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarmist/internal/alarmid"
)

type nopLogger struct{}

func (nopLogger) Error(component, message string, fields ...map[string]interface{}) {}
func (nopLogger) Warn(component, message string, fields ...map[string]interface{})  {}

func TestCallbackInvokedOnceOnSet(t *testing.T) {
	invocations := make(chan struct{}, 8)
	spec := Spec{Callback: func(ctx context.Context, id alarmid.ID) {
		invocations <- struct{}{}
	}}
	w := NewWorker(alarmid.Leaf("a"), spec, nopLogger{})
	w.Start()
	defer w.Stop()

	w.HandleAlarmEvent(alarmid.Set)

	select {
	case <-invocations:
	case <-time.After(time.Second):
		t.Fatal("callback was never invoked")
	}

	select {
	case <-invocations:
		t.Fatal("callback invoked more than once for a single Set edge")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCallbackTimeoutCancelsContextAndRecordsOutcome(t *testing.T) {
	cancelled := make(chan struct{})
	spec := Spec{
		CallbackTimeout: 20 * time.Millisecond,
		Callback: func(ctx context.Context, id alarmid.ID) {
			<-ctx.Done()
			close(cancelled)
		},
	}
	m := newRecordingMetrics()
	w := NewWorker(alarmid.Leaf("a"), spec, nopLogger{})
	w.SetMetrics(m)
	w.Start()
	defer w.Stop()

	w.HandleAlarmEvent(alarmid.Set)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("callback context was never cancelled on timeout")
	}

	assert.Eventually(t, func() bool {
		return m.count("timeout") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestClearWhileRunningTransitionsToFinishingThenClearOnDone(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	spec := Spec{Callback: func(ctx context.Context, id alarmid.ID) {
		close(entered)
		<-release
	}}
	m := newRecordingMetrics()
	w := NewWorker(alarmid.Leaf("a"), spec, nopLogger{})
	w.SetMetrics(m)
	w.Start()
	defer w.Stop()

	w.HandleAlarmEvent(alarmid.Set)
	<-entered
	w.HandleAlarmEvent(alarmid.Clear)
	close(release)

	assert.Eventually(t, func() bool {
		return m.count("ok") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestFixedRetryTimeoutReinvokesCallbackWhileStillSet(t *testing.T) {
	calls := make(chan struct{}, 8)
	spec := Spec{
		RetryTimeout: 20 * time.Millisecond,
		Callback: func(ctx context.Context, id alarmid.ID) {
			calls <- struct{}{}
		},
	}
	w := NewWorker(alarmid.Leaf("a"), spec, nopLogger{})
	w.Start()
	defer w.Stop()

	w.HandleAlarmEvent(alarmid.Set)

	require.Eventually(t, func() bool { return len(calls) >= 1 }, time.Second, 5*time.Millisecond)
	<-calls

	// A retry must fire roughly RetryTimeout later since the alarm is still
	// Set when the first callback finishes.
	require.Eventually(t, func() bool { return len(calls) >= 1 }, time.Second, 5*time.Millisecond)
}

func TestClearDuringWaitingToRetryCancelsPendingRetry(t *testing.T) {
	calls := make(chan struct{}, 8)
	spec := Spec{
		RetryTimeout: 200 * time.Millisecond,
		Callback: func(ctx context.Context, id alarmid.ID) {
			calls <- struct{}{}
		},
	}
	w := NewWorker(alarmid.Leaf("a"), spec, nopLogger{})
	w.Start()
	defer w.Stop()

	w.HandleAlarmEvent(alarmid.Set)
	require.Eventually(t, func() bool { return len(calls) >= 1 }, time.Second, 5*time.Millisecond)
	<-calls

	// Worker is now WaitingToRetry; clearing should cancel the scheduled
	// retry so no second invocation ever happens.
	w.HandleAlarmEvent(alarmid.Clear)

	select {
	case <-calls:
		t.Fatal("retry fired after the alarm cleared")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestStopKillsLiveCallbackContext(t *testing.T) {
	cancelled := make(chan struct{})
	spec := Spec{Callback: func(ctx context.Context, id alarmid.ID) {
		<-ctx.Done()
		close(cancelled)
	}}
	w := NewWorker(alarmid.Leaf("a"), spec, nopLogger{})
	w.Start()

	w.HandleAlarmEvent(alarmid.Set)
	time.Sleep(20 * time.Millisecond)
	w.Stop()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the live callback context")
	}
}

func TestReconfigureAppliesNewSpecToNextCallback(t *testing.T) {
	var got string
	done := make(chan struct{})
	w := NewWorker(alarmid.Leaf("a"), Spec{Callback: func(ctx context.Context, id alarmid.ID) {}}, nopLogger{})
	w.Start()
	defer w.Stop()

	w.Reconfigure(Spec{Callback: func(ctx context.Context, id alarmid.ID) {
		got = "new"
		close(done)
	}})

	w.HandleAlarmEvent(alarmid.Set)

	select {
	case <-done:
		assert.Equal(t, "new", got)
	case <-time.After(time.Second):
		t.Fatal("reconfigured callback never ran")
	}
}

type recordingMetrics struct {
	ch chan string
	counts map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{ch: make(chan string, 32), counts: make(map[string]int)}
}

func (m *recordingMetrics) RecordRemedyInvocation(outcome string) {
	m.ch <- outcome
}

func (m *recordingMetrics) count(outcome string) int {
	for {
		select {
		case o := <-m.ch:
			m.counts[o]++
		default:
			return m.counts[outcome]
		}
	}
}
