// Package handler adapts external set/clear/timeout/admin events to the
// pure Engine, and commits the Engine's resulting Actions to the Store,
// the timer service, and the RemedySupervisor.
package handler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"alarmist/internal/alarmid"
	"alarmist/internal/compiler"
	"alarmist/internal/engine"
	"alarmist/internal/remedy"
	"alarmist/internal/store"
)

// ErrHandlerUnavailable is returned when the Handler has not yet installed
// or has been stopped.
var ErrHandlerUnavailable = errors.New("handler: unavailable")

// Logger is the minimal logging surface the Handler needs.
type Logger interface {
	Debug(component, message string, fields ...map[string]interface{})
	Info(component, message string, fields ...map[string]interface{})
	Warn(component, message string, fields ...map[string]interface{})
	Error(component, message string, fields ...map[string]interface{})
}

// Metrics is the instrumentation surface the Handler drives. Nil-safe: a
// Handler with no Metrics simply skips recording.
type Metrics interface {
	RecordRuleEvaluation(op string)
	RecordCommitDuration(d time.Duration)
	SetTimersActive(count float64)
}

// InitialAlarm seeds a pre-existing leaf alarm at startup.
type InitialAlarm struct {
	ID   alarmid.ID
	Desc interface{}
}

// InitialManagedAlarm seeds a managed alarm registration at startup.
type InitialManagedAlarm struct {
	ID       alarmid.ID
	Compiled compiler.CompiledCondition
	Level    alarmid.Level
}

// Handler owns the Engine and is the sole mutator of Store. All
// mutations serialise through its single command loop.
type Handler struct {
	engine    *engine.Engine
	store     *store.Store
	remedies  *remedy.Supervisor
	logger    Logger
	metrics   Metrics
	adminWait time.Duration

	cmds      chan func()
	installed chan struct{}
	stop      chan struct{}
	done      chan struct{}

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

// New creates a Handler. Call Start to begin processing, then Bootstrap to
// seed initial state.
func New(st *store.Store, eng *engine.Engine, remedies *remedy.Supervisor, logger Logger) *Handler {
	h := &Handler{
		engine:    eng,
		store:     st,
		remedies:  remedies,
		logger:    logger,
		adminWait: 5 * time.Second,
		cmds:      make(chan func(), 256),
		installed: make(chan struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		timers:    make(map[string]*time.Timer),
	}
	eng.OnRuleEval = func(op string) {
		if h.metrics != nil {
			h.metrics.RecordRuleEvaluation(op)
		}
	}
	return h
}

// SetMetrics attaches the Prometheus instrumentation surface. Optional; a
// Handler with no Metrics simply skips recording.
func (h *Handler) SetMetrics(m Metrics) {
	h.metrics = m
}

// Start begins the Handler's event loop.
func (h *Handler) Start() {
	go h.run()
	close(h.installed)
}

// Stop ends the event loop and cancels all live timers.
func (h *Handler) Stop() {
	close(h.stop)
	<-h.done
	h.timerMu.Lock()
	for _, t := range h.timers {
		t.Stop()
	}
	h.timers = make(map[string]*time.Timer)
	h.timerMu.Unlock()
}

func (h *Handler) run() {
	defer close(h.done)
	for {
		select {
		case fn := <-h.cmds:
			fn()
		case <-h.stop:
			return
		}
	}
}

// do serialises fn through the Handler's command loop, waiting up to
// adminWait for installation.
func (h *Handler) do(fn func()) error {
	select {
	case <-h.installed:
	case <-time.After(h.adminWait):
		return ErrHandlerUnavailable
	}
	result := make(chan struct{})
	select {
	case h.cmds <- func() { fn(); close(result) }:
	case <-h.stop:
		return ErrHandlerUnavailable
	}
	select {
	case <-result:
		return nil
	case <-h.stop:
		return ErrHandlerUnavailable
	}
}

// Bootstrap caches initial alarms before registering initial managed alarms,
// so dependent rules see correct inputs on first evaluation.
func (h *Handler) Bootstrap(alarms []InitialAlarm, managed []InitialManagedAlarm) error {
	return h.do(func() {
		for _, a := range alarms {
			h.engine.SetAlarm(a.ID, a.Desc)
		}
		h.commitAndApply()
		for _, m := range managed {
			if err := h.engine.AddManagedAlarm(m.ID, m.Compiled, m.Level); err != nil {
				h.logger.Warn("handler", fmt.Sprintf("bootstrap: %s", err), map[string]interface{}{"alarm_id": m.ID.String()})
				continue
			}
			h.commitAndApply()
		}
	})
}

// SetAlarm implements the compatibility-shim set path.
func (h *Handler) SetAlarm(id alarmid.ID, desc interface{}) error {
	return h.do(func() {
		h.engine.SetAlarm(id, desc)
		h.commitAndApply()
	})
}

// ClearAlarm implements the compatibility-shim clear path.
func (h *Handler) ClearAlarm(id alarmid.ID) error {
	return h.do(func() {
		h.engine.ClearAlarm(id)
		h.commitAndApply()
	})
}

// AddManagedAlarm registers or replaces a managed alarm.
func (h *Handler) AddManagedAlarm(id alarmid.ID, compiled compiler.CompiledCondition, level alarmid.Level) error {
	var compileErr error
	err := h.do(func() {
		compileErr = h.engine.AddManagedAlarm(id, compiled, level)
		h.commitAndApply()
	})
	if err != nil {
		return err
	}
	return compileErr
}

// RemoveManagedAlarm unregisters a managed alarm.
func (h *Handler) RemoveManagedAlarm(id alarmid.ID) error {
	var removeErr error
	err := h.do(func() {
		removeErr = h.engine.RemoveManagedAlarm(id)
		h.commitAndApply()
	})
	if err != nil {
		return err
	}
	return removeErr
}

// ManagedAlarmIDs lists registered managed alarm ids.
func (h *Handler) ManagedAlarmIDs() ([]alarmid.ID, error) {
	var ids []alarmid.ID
	err := h.do(func() {
		ids = h.engine.ManagedAlarmIDs()
	})
	return ids, err
}

// SetAlarmLevel overrides id's level.
func (h *Handler) SetAlarmLevel(id alarmid.ID, level alarmid.Level) error {
	return h.do(func() {
		h.engine.SetAlarmLevel(id, level)
	})
}

// ClearAlarmLevel removes id's level override.
func (h *Handler) ClearAlarmLevel(id alarmid.ID) error {
	return h.do(func() {
		h.engine.ClearAlarmLevel(id)
	})
}

// AddRemedy registers a remedy callback for id.
func (h *Handler) AddRemedy(id alarmid.ID, spec remedy.Spec) error {
	return h.do(func() {
		h.engine.AddRemedy(id, spec)
		h.commitAndApply()
	})
}

// RemoveRemedy unregisters id's remedy callback.
func (h *Handler) RemoveRemedy(id alarmid.ID) error {
	return h.do(func() {
		h.engine.RemoveRemedy(id)
		h.commitAndApply()
	})
}

// commitAndApply drains the Engine's pending actions and applies each to
// the Store, timer service, or RemedySupervisor. Must be called from
// within the command loop.
func (h *Handler) commitAndApply() {
	start := time.Now()
	for _, a := range h.engine.Commit() {
		h.apply(a)
	}
	if h.metrics != nil {
		h.metrics.RecordCommitDuration(time.Since(start))
	}
}

func (h *Handler) apply(a engine.Action) {
	switch a.Kind {
	case engine.ActionSet:
		h.store.Put(a.ID, alarmid.Set, a.Desc, a.Level)
	case engine.ActionClear:
		h.store.Put(a.ID, alarmid.Clear, nil, a.Level)
	case engine.ActionForget:
		h.store.Delete(a.ID)
	case engine.ActionStartTimer:
		h.scheduleTimer(a.ID, a.Millis, a.IntendedState, a.Token)
	case engine.ActionCancelTimer:
		h.cancelTimer(a.ID)
	case engine.ActionRegisterRemedy:
		spec, ok := a.RemedySpec.(remedy.Spec)
		if !ok {
			h.logger.Warn("handler", "register_remedy with unsupported spec type", map[string]interface{}{"alarm_id": a.ID.String()})
			return
		}
		if err := h.remedies.Register(a.ID, spec); err != nil {
			h.logger.Error("handler", fmt.Sprintf("register_remedy failed: %s", err), map[string]interface{}{"alarm_id": a.ID.String()})
		}
	case engine.ActionUnregisterRemedy:
		if err := h.remedies.Unregister(a.ID); err != nil {
			h.logger.Warn("handler", fmt.Sprintf("unregister_remedy: %s", err), map[string]interface{}{"alarm_id": a.ID.String()})
		}
	}
}

func (h *Handler) scheduleTimer(id alarmid.ID, millis int64, intended alarmid.State, token engine.Token) {
	key := id.Key()
	h.timerMu.Lock()
	if old, ok := h.timers[key]; ok {
		old.Stop()
	}
	t := time.AfterFunc(time.Duration(millis)*time.Millisecond, func() {
		select {
		case h.cmds <- func() {
			h.engine.HandleTimeout(id, intended, token)
			h.commitAndApply()
		}:
		case <-h.stop:
		}
	})
	h.timers[key] = t
	h.timerMu.Unlock()
	h.reportTimersActive()
}

func (h *Handler) cancelTimer(id alarmid.ID) {
	key := id.Key()
	h.timerMu.Lock()
	if t, ok := h.timers[key]; ok {
		t.Stop()
		delete(h.timers, key)
	}
	h.timerMu.Unlock()
	h.reportTimersActive()
}

func (h *Handler) reportTimersActive() {
	if h.metrics == nil {
		return
	}
	h.timerMu.Lock()
	count := len(h.timers)
	h.timerMu.Unlock()
	h.metrics.SetTimersActive(float64(count))
}
