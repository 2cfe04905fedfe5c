// Package engine owns the dependency graph, per-rule state, pending timers,
// and change queue. It is a pure incremental evaluator: it accepts inputs
// (set/clear/timeout/admin calls) and returns a list of side-effect Actions;
// it never performs I/O itself.
package engine

import (
	"fmt"
	"reflect"
	"time"

	"alarmist/internal/alarmid"
	"alarmist/internal/compiler"
	"alarmist/internal/ops"
	"alarmist/internal/window"
)

// Lookup fetches the Store-committed value for id on a cache miss.
type Lookup func(id alarmid.ID) (alarmid.State, interface{})

// Clock returns the current time; tests supply a deterministic fake.
type Clock func() time.Time

type cacheEntry struct {
	State alarmid.State
	Desc  interface{}
}

type boundInput struct {
	managed alarmid.ID
	rule    compiler.BoundRule
}

type condition struct {
	id          alarmid.ID
	level       alarmid.Level
	compiled    compiler.CompiledCondition
	rules       []compiler.BoundRule
	temporaries []alarmid.ID
}

// Engine is the authoritative incremental evaluator.
type Engine struct {
	lookup Lookup
	clock  Clock

	conditions    map[string]*condition
	rulesByInput  map[string][]boundInput
	cache         map[string]cacheEntry
	cacheIDs      map[string]alarmid.ID
	changedOrder  []string
	changedSet    map[string]bool
	changedIDs    map[string]alarmid.ID
	perRuleState  map[string]*window.List
	timers        map[string]Token
	timerSeq      uint64
	actions       []Action // newest-first; see Commit
	alarmLevels   map[string]alarmid.Level
	defaultLevels map[string]alarmid.Level

	// OnRuleEval, if set, is invoked synchronously after each rule firing
	// with the operator name, for metrics instrumentation. It performs no
	// I/O itself and must not block.
	OnRuleEval func(op string)
}

// New creates an Engine. lookup supplies Store-committed values on cache
// miss; clock supplies "now" for windowed operators.
func New(lookup Lookup, clock Clock) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		lookup:        lookup,
		clock:         clock,
		conditions:    make(map[string]*condition),
		rulesByInput:  make(map[string][]boundInput),
		cache:         make(map[string]cacheEntry),
		cacheIDs:      make(map[string]alarmid.ID),
		changedSet:    make(map[string]bool),
		changedIDs:    make(map[string]alarmid.ID),
		perRuleState:  make(map[string]*window.List),
		timers:        make(map[string]Token),
		alarmLevels:   make(map[string]alarmid.Level),
		defaultLevels: make(map[string]alarmid.Level),
	}
}

// SetAlarm caches id as Set with desc, driving rules to a fixed point.
func (e *Engine) SetAlarm(id alarmid.ID, desc interface{}) {
	e.cachePut(id, alarmid.Set, desc)
	e.drain()
}

// ClearAlarm caches id as Clear, preserving its current description
// (clear_alarm takes no description of its own).
func (e *Engine) ClearAlarm(id alarmid.ID) {
	_, desc := e.cacheGet(id)
	e.cachePut(id, alarmid.Clear, desc)
	e.drain()
}

// HandleTimeout drives the expiry set/clear for id if token is still live;
// stale tokens are silently dropped.
func (e *Engine) HandleTimeout(id alarmid.ID, intended alarmid.State, token Token) {
	key := id.Key()
	live, ok := e.timers[key]
	if !ok || live != token {
		return
	}
	delete(e.timers, key)
	e.cachePut(id, intended, nil)
	e.drain()
}

// SetAlarmLevel overrides id's published level.
func (e *Engine) SetAlarmLevel(id alarmid.ID, level alarmid.Level) {
	e.alarmLevels[id.Key()] = level
}

// ClearAlarmLevel removes id's level override.
func (e *Engine) ClearAlarmLevel(id alarmid.ID) {
	delete(e.alarmLevels, id.Key())
}

// AddRemedy enqueues a RegisterRemedy action forwarded to the
// RemedySupervisor by the Handler.
func (e *Engine) AddRemedy(id alarmid.ID, spec interface{}) {
	e.pushAction(Action{Kind: ActionRegisterRemedy, ID: id, RemedySpec: spec})
}

// RemoveRemedy enqueues an UnregisterRemedy action.
func (e *Engine) RemoveRemedy(id alarmid.ID) {
	e.pushAction(Action{Kind: ActionUnregisterRemedy, ID: id})
}

// ManagedAlarmIDs lists currently registered managed alarm ids.
func (e *Engine) ManagedAlarmIDs() []alarmid.ID {
	ids := make([]alarmid.ID, 0, len(e.conditions))
	for _, c := range e.conditions {
		ids = append(ids, c.id)
	}
	return ids
}

// AddManagedAlarm installs id's rules, inverts dependencies, registers
// default levels, and marks all inputs changed so evaluation fires.
func (e *Engine) AddManagedAlarm(id alarmid.ID, compiled compiler.CompiledCondition, level alarmid.Level) error {
	if existing, ok := e.conditions[id.Key()]; ok {
		if reflect.DeepEqual(existing.compiled, compiled) {
			return nil // idempotent: identical redundant registration, no events
		}
		e.removeManaged(id)
	}

	boundRules, temporaries, err := compiler.Bind(compiled, id)
	if err != nil {
		return fmt.Errorf("engine: add_managed_alarm %s: %w", id, err)
	}

	c := &condition{id: id, level: level, compiled: compiled, rules: boundRules, temporaries: temporaries}
	e.conditions[id.Key()] = c

	e.defaultLevels[id.Key()] = level
	for _, t := range temporaries {
		e.defaultLevels[t.Key()] = alarmid.DefaultTemporaryLevel
	}

	seenInput := make(map[string]alarmid.ID)
	for _, r := range boundRules {
		for _, a := range r.Args {
			if a.ID == nil {
				continue
			}
			key := a.ID.Key()
			e.rulesByInput[key] = append(e.rulesByInput[key], boundInput{managed: id, rule: r})
			seenInput[key] = *a.ID
		}
	}
	for key, in := range seenInput {
		e.cacheGet(in) // populate from store so the first pass sees a value
		_ = key
		e.markChanged(in)
	}

	e.drain()
	return nil
}

// RemoveManagedAlarm deletes id's rules, dependency entries, per-rule state,
// and timers, and emits Forget for id and its temporaries.
func (e *Engine) RemoveManagedAlarm(id alarmid.ID) error {
	if _, ok := e.conditions[id.Key()]; !ok {
		return fmt.Errorf("engine: remove_managed_alarm: %s not registered", id)
	}
	e.removeManaged(id)
	e.drain()
	return nil
}

func (e *Engine) removeManaged(id alarmid.ID) {
	c, ok := e.conditions[id.Key()]
	if !ok {
		return
	}

	for _, r := range c.rules {
		for _, a := range r.Args {
			if a.ID == nil {
				continue
			}
			key := a.ID.Key()
			e.rulesByInput[key] = removeBoundInput(e.rulesByInput[key], id)
			if len(e.rulesByInput[key]) == 0 {
				delete(e.rulesByInput, key)
			}
		}
		e.cancelTimer(r.Dest)
		delete(e.perRuleState, r.Dest.Key())
	}

	e.forget(c.id)
	for _, t := range c.temporaries {
		e.forget(t)
	}

	delete(e.conditions, id.Key())
	delete(e.defaultLevels, id.Key())
	for _, t := range c.temporaries {
		delete(e.defaultLevels, t.Key())
	}
}

func removeBoundInput(list []boundInput, managed alarmid.ID) []boundInput {
	out := list[:0]
	for _, bi := range list {
		if !bi.managed.Equal(managed) {
			out = append(out, bi)
		}
	}
	return out
}

// forget transitions id to Unknown, emitting a Clear-then-Unknown pair if
// it was Set so any subscriber watching the transition sees it, and
// propagates the Unknown to anything that still depends on id.
func (e *Engine) forget(id alarmid.ID) {
	state, _ := e.cacheGet(id)
	if state == alarmid.Set {
		e.pushAction(Action{Kind: ActionClear, ID: id, Level: e.levelFor(id)})
	}
	e.pushAction(Action{Kind: ActionForget, ID: id})
	key := id.Key()
	e.cache[key] = cacheEntry{State: alarmid.Unknown, Desc: nil}
	e.cacheIDs[key] = id
	e.markChanged(id)
}

// Commit runs rules to a fixed point, then returns deduplicated actions in
// forward order and clears the cache.
func (e *Engine) Commit() []Action {
	e.drain()

	seen := make(map[string]bool, len(e.actions))
	out := make([]Action, 0, len(e.actions))
	for _, a := range e.actions { // newest-first
		k := dedupeKey(a)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	e.actions = nil
	e.cache = make(map[string]cacheEntry)
	e.cacheIDs = make(map[string]alarmid.ID)
	return out
}

func (e *Engine) levelFor(id alarmid.ID) alarmid.Level {
	key := id.Key()
	if lvl, ok := e.alarmLevels[key]; ok {
		return lvl
	}
	if lvl, ok := e.defaultLevels[key]; ok {
		return lvl
	}
	return alarmid.DefaultLeafLevel
}

func (e *Engine) pushAction(a Action) {
	e.actions = append([]Action{a}, e.actions...)
}

func (e *Engine) cacheGet(id alarmid.ID) (alarmid.State, interface{}) {
	key := id.Key()
	if v, ok := e.cache[key]; ok {
		return v.State, v.Desc
	}
	s, d := e.lookup(id)
	e.cache[key] = cacheEntry{State: s, Desc: d}
	e.cacheIDs[key] = id
	return s, d
}

// cachePut compares against the current cached value, emitting a
// description-update action if only the description changed, or a
// Set/Clear action (and enqueuing dependents) if the boolean state changed.
// A fully redundant put (same state, same desc) emits nothing.
func (e *Engine) cachePut(id alarmid.ID, state alarmid.State, desc interface{}) {
	key := id.Key()
	entry, existed := e.cache[key]
	if !existed {
		s, d := e.lookup(id)
		entry = cacheEntry{State: s, Desc: d}
	}
	stateChanged := entry.State != state
	descChanged := !descEqual(entry.Desc, desc)
	e.cache[key] = cacheEntry{State: state, Desc: desc}
	e.cacheIDs[key] = id

	if !stateChanged && !descChanged {
		return
	}

	lvl := e.levelFor(id)
	if state == alarmid.Set {
		e.pushAction(Action{Kind: ActionSet, ID: id, Desc: desc, Level: lvl})
	} else {
		e.pushAction(Action{Kind: ActionClear, ID: id, Level: lvl})
	}
	if stateChanged {
		e.markChanged(id)
	}
}

func descEqual(a, b interface{}) bool {
	return reflect.DeepEqual(a, b)
}

func (e *Engine) markChanged(id alarmid.ID) {
	key := id.Key()
	if e.changedSet[key] {
		return
	}
	e.changedSet[key] = true
	e.changedIDs[key] = id
	e.changedOrder = append(e.changedOrder, key)
}

// drain runs rules to a fixed point: FIFO over the changed queue, executing
// every rule that depends on each popped id, until the queue is empty.
// Termination is guaranteed by graph acyclicity.
func (e *Engine) drain() {
	for len(e.changedOrder) > 0 {
		key := e.changedOrder[0]
		e.changedOrder = e.changedOrder[1:]
		delete(e.changedSet, key)
		delete(e.changedIDs, key)

		for _, bi := range e.rulesByInput[key] {
			e.runRule(bi.rule)
		}
	}
}

func (e *Engine) startTimer(id alarmid.ID, millis int64, intended alarmid.State) {
	key := id.Key()
	e.timerSeq++
	token := Token(e.timerSeq)
	e.timers[key] = token
	e.pushAction(Action{Kind: ActionStartTimer, ID: id, Millis: millis, IntendedState: intended, Token: token})
}

func (e *Engine) cancelTimer(id alarmid.ID) {
	key := id.Key()
	if _, ok := e.timers[key]; !ok {
		return
	}
	delete(e.timers, key)
	e.pushAction(Action{Kind: ActionCancelTimer, ID: id})
}

func (e *Engine) windowState(dest alarmid.ID) *window.List {
	key := dest.Key()
	if ws, ok := e.perRuleState[key]; ok {
		return ws
	}
	ws := window.New()
	e.perRuleState[key] = ws
	return ws
}

func (e *Engine) runRule(r compiler.BoundRule) {
	var step ops.Step
	var desc interface{}

	if e.OnRuleEval != nil {
		e.OnRuleEval(string(r.Op))
	}

	switch r.Op {
	case compiler.OpCopy:
		in, d := e.cacheGet(*r.Args[0].ID)
		step = ops.Copy(in)
		desc = d
	case compiler.OpNot:
		in, _ := e.cacheGet(*r.Args[0].ID)
		step = ops.Not(in)
	case compiler.OpAnd, compiler.OpOr:
		ins := make([]alarmid.State, len(r.Args))
		for i, a := range r.Args {
			ins[i], _ = e.cacheGet(*a.ID)
		}
		if r.Op == compiler.OpAnd {
			step = ops.And(ins)
		} else {
			step = ops.Or(ins)
		}
	case compiler.OpUnknownAsSet:
		in, _ := e.cacheGet(*r.Args[0].ID)
		step = ops.UnknownAsSet(in)
	case compiler.OpDebounce:
		in, _ := e.cacheGet(*r.Args[0].ID)
		step = ops.Debounce(in, *r.Args[1].Literal)
	case compiler.OpHold:
		in, _ := e.cacheGet(*r.Args[0].ID)
		step = ops.Hold(in, *r.Args[1].Literal)
	case compiler.OpIntensity:
		in, _ := e.cacheGet(*r.Args[0].ID)
		ws := e.windowState(r.Dest)
		step = ops.Intensity(ws, in, e.clock(), int(*r.Args[1].Literal), *r.Args[2].Literal)
	case compiler.OpOnTime:
		in, _ := e.cacheGet(*r.Args[0].ID)
		ws := e.windowState(r.Dest)
		step = ops.OnTime(ws, in, e.clock(), *r.Args[1].Literal, *r.Args[2].Literal)
	case compiler.OpSustainWindow:
		in, _ := e.cacheGet(*r.Args[0].ID)
		ws := e.windowState(r.Dest)
		step = ops.SustainWindow(ws, in, e.clock(), *r.Args[1].Literal, *r.Args[2].Literal)
	default:
		return
	}

	if step.Immediate {
		e.cachePut(r.Dest, step.State, desc)
	}
	switch step.Timer {
	case ops.TimerStart:
		e.startTimer(r.Dest, step.TimerMillis, step.TimerState)
	case ops.TimerCancel:
		e.cancelTimer(r.Dest)
	}
}
