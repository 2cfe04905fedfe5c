// Package remedy runs alarm remedy callbacks with timeout and retry
// semantics. One Worker drives a single (alarm_id, callback) registration
// through an entry-driven state machine.
package remedy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"alarmist/internal/alarmid"
	"alarmist/internal/retry"
)

// DefaultCallbackTimeout is applied when a Spec does not set one.
const DefaultCallbackTimeout = 60 * time.Second

// Callback is invoked when alarm id becomes Set. It must respect ctx
// cancellation: the worker forcefully abandons it on timeout or stop.
type Callback func(ctx context.Context, id alarmid.ID)

// Spec configures a remedy registration.
type Spec struct {
	Callback Callback
	// CallbackTimeout bounds one callback invocation; zero uses
	// DefaultCallbackTimeout.
	CallbackTimeout time.Duration
	// RetryTimeout re-triggers the callback while the alarm stays Set;
	// zero means run once per Set edge. Ignored when BackoffPolicy is set.
	RetryTimeout time.Duration
	// BackoffPolicy, when non-nil, replaces the fixed RetryTimeout with
	// exponential backoff keyed on consecutive retry attempts since the
	// alarm last cleared.
	BackoffPolicy *retry.Policy
}

func (s Spec) callbackTimeout() time.Duration {
	if s.CallbackTimeout <= 0 {
		return DefaultCallbackTimeout
	}
	return s.CallbackTimeout
}

// Logger is the minimal logging surface RemedyWorker needs.
type Logger interface {
	Error(component, message string, fields ...map[string]interface{})
	Warn(component, message string, fields ...map[string]interface{})
}

// Metrics is the instrumentation surface RemedyWorker drives. Nil-safe: a
// Worker with no Metrics simply skips recording.
type Metrics interface {
	RecordRemedyInvocation(outcome string)
}

type state int

const (
	stateClear state = iota
	stateRunning
	stateFinishing
	stateWaitingToRetry
)

func (s state) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateFinishing:
		return "finishing"
	case stateWaitingToRetry:
		return "waiting_to_retry"
	default:
		return "clear"
	}
}

type eventKind int

const (
	eventSet eventKind = iota
	eventClear
	eventCallbackDone
	eventCallbackTimeout
	eventRetryFired
	eventReconfigure
)

type event struct {
	kind eventKind
	spec *Spec
}

// Worker drives one alarm's remedy callback through Clear/Running/
// Finishing/WaitingToRetry.
type Worker struct {
	id      alarmid.ID
	logger  Logger
	metrics Metrics

	mu   sync.Mutex
	spec Spec

	events chan event
	stop   chan struct{}
	done   chan struct{}
}

// NewWorker creates a worker in the Clear state. Start must be called to
// begin processing events.
func NewWorker(id alarmid.ID, spec Spec, logger Logger) *Worker {
	return &Worker{
		id:     id,
		spec:   spec,
		logger: logger,
		events: make(chan event, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// SetMetrics attaches the remedy-outcome counters.
func (w *Worker) SetMetrics(m Metrics) {
	w.metrics = m
}

func (w *Worker) recordOutcome(outcome string) {
	if w.metrics != nil {
		w.metrics.RecordRemedyInvocation(outcome)
	}
}

// Start begins the worker's event loop on its own goroutine.
func (w *Worker) Start() {
	go w.run()
}

// HandleAlarmEvent feeds a Set/Clear observation for the worker's alarm id.
// Unknown is treated as Clear.
func (w *Worker) HandleAlarmEvent(s alarmid.State) {
	switch s.AsBoolean() {
	case alarmid.Set:
		w.send(event{kind: eventSet})
	case alarmid.Clear:
		w.send(event{kind: eventClear})
	}
}

// Reconfigure applies a new callback/timeout; a live timer is restarted
// with the new duration.
func (w *Worker) Reconfigure(spec Spec) {
	w.send(event{kind: eventReconfigure, spec: &spec})
}

// Stop forcefully terminates any live callback task and ends the worker.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) send(ev event) {
	select {
	case w.events <- ev:
	case <-w.stop:
	}
}

func (w *Worker) run() {
	defer close(w.done)

	st := stateClear
	var cbCancel context.CancelFunc
	var cbTimer *time.Timer
	var retryTimer *time.Timer
	attempt := 0

	stopTimer := func(t *time.Timer) {
		if t != nil {
			t.Stop()
		}
	}

	startCallback := func() {
		w.mu.Lock()
		spec := w.spec
		w.mu.Unlock()

		taskID := uuid.NewString()
		ctx, cancel := context.WithCancel(context.Background())
		cbCancel = cancel
		cbTimer = time.AfterFunc(spec.callbackTimeout(), func() {
			w.send(event{kind: eventCallbackTimeout})
		})
		go func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("remedy", fmt.Sprintf("callback panicked for %s", w.id), map[string]interface{}{
						"alarm_id": w.id.String(),
						"task_id":  taskID,
						"panic":    r,
					})
					w.recordOutcome("crash")
				}
				if ctx.Err() != nil {
					// Abandoned on timeout or Stop; the worker has moved on.
					return
				}
				w.send(event{kind: eventCallbackDone})
			}()
			if spec.Callback != nil {
				spec.Callback(ctx, w.id)
			}
		}()
	}

	startRetryTimer := func() *time.Timer {
		w.mu.Lock()
		policy := w.spec.BackoffPolicy
		fixed := w.spec.RetryTimeout
		w.mu.Unlock()

		var d time.Duration
		switch {
		case policy != nil:
			d = policy.Delay(attempt)
			attempt++
		case fixed > 0:
			d = fixed
		default:
			return nil
		}
		return time.AfterFunc(d, func() {
			w.send(event{kind: eventRetryFired})
		})
	}

	for {
		select {
		case ev := <-w.events:
			switch ev.kind {
			case eventSet:
				switch st {
				case stateClear:
					st = stateRunning
					startCallback()
				case stateFinishing:
					st = stateRunning
				}
			case eventClear:
				switch st {
				case stateRunning:
					st = stateFinishing
				case stateWaitingToRetry:
					stopTimer(retryTimer)
					retryTimer = nil
					st = stateClear
					attempt = 0
				}
			case eventCallbackTimeout:
				w.logger.Error("remedy", fmt.Sprintf("callback timed out for %s", w.id), map[string]interface{}{
					"alarm_id": w.id.String(),
				})
				w.recordOutcome("timeout")
				if cbCancel != nil {
					cbCancel()
					cbCancel = nil
				}
				fallthrough
			case eventCallbackDone:
				if ev.kind == eventCallbackDone {
					w.recordOutcome("ok")
				}
				stopTimer(cbTimer)
				cbTimer = nil
				switch st {
				case stateRunning:
					st = stateWaitingToRetry
					retryTimer = startRetryTimer()
				case stateFinishing:
					st = stateClear
					attempt = 0
				}
			case eventRetryFired:
				if st == stateWaitingToRetry {
					st = stateRunning
					startCallback()
				}
			case eventReconfigure:
				w.mu.Lock()
				w.spec = *ev.spec
				w.mu.Unlock()
				if cbTimer != nil {
					stopTimer(cbTimer)
					cbTimer = time.AfterFunc(ev.spec.callbackTimeout(), func() {
						w.send(event{kind: eventCallbackTimeout})
					})
				}
				if retryTimer != nil {
					stopTimer(retryTimer)
					retryTimer = startRetryTimer()
				}
			}
		case <-w.stop:
			if cbCancel != nil {
				cbCancel()
			}
			stopTimer(cbTimer)
			stopTimer(retryTimer)
			return
		}
	}
}
