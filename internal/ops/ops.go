// Package ops implements the primitive rule operators: the pure boolean
// combinators, plus the edge-triggered and windowed operators that decide
// when a timer needs to be (re)started.
package ops

import (
	"time"

	"alarmist/internal/alarmid"
	"alarmist/internal/window"
)

// TimerDecision tells the engine what to do with the rule's destination
// timer after evaluating a step.
type TimerDecision int

const (
	TimerNone TimerDecision = iota
	TimerStart
	TimerCancel
)

// Step is the outcome of evaluating one operator invocation.
type Step struct {
	// Immediate reports whether Dest should be cache_put to State/Desc now.
	Immediate bool
	State     alarmid.State

	Timer       TimerDecision
	TimerMillis int64
	TimerState  alarmid.State
}

// Copy mirrors in's state (spec: copy(out, in)).
func Copy(in alarmid.State) Step {
	return Step{Immediate: true, State: in.AsBoolean()}
}

// Not flips Set<->Clear; Unknown is treated as Clear, so Not(Unknown) == Set.
func Not(in alarmid.State) Step {
	if in.AsBoolean() == alarmid.Set {
		return Step{Immediate: true, State: alarmid.Clear}
	}
	return Step{Immediate: true, State: alarmid.Set}
}

// And is Set iff every input is Set.
func And(ins []alarmid.State) Step {
	for _, in := range ins {
		if in.AsBoolean() != alarmid.Set {
			return Step{Immediate: true, State: alarmid.Clear}
		}
	}
	return Step{Immediate: true, State: alarmid.Set}
}

// Or is Set iff any input is Set.
func Or(ins []alarmid.State) Step {
	for _, in := range ins {
		if in.AsBoolean() == alarmid.Set {
			return Step{Immediate: true, State: alarmid.Set}
		}
	}
	return Step{Immediate: true, State: alarmid.Clear}
}

// UnknownAsSet treats Unknown as Set instead of Clear.
func UnknownAsSet(in alarmid.State) Step {
	if in == alarmid.Unknown || in == alarmid.Set {
		return Step{Immediate: true, State: alarmid.Set}
	}
	return Step{Immediate: true, State: alarmid.Clear}
}

// Debounce: out becomes Set only if in stays Set continuously for millis.
// On in->Set, (re)start a timer; on in->Clear, cancel it and clear now.
func Debounce(in alarmid.State, millis int64) Step {
	if in.AsBoolean() == alarmid.Set {
		return Step{Timer: TimerStart, TimerMillis: millis, TimerState: alarmid.Set}
	}
	return Step{Immediate: true, State: alarmid.Clear, Timer: TimerCancel}
}

// Hold: out is Set immediately and for at least millis past the last
// in->Set edge. On in->Clear, do nothing; the pending timer controls
// clearing.
func Hold(in alarmid.State, millis int64) Step {
	if in.AsBoolean() == alarmid.Set {
		return Step{Immediate: true, State: alarmid.Set, Timer: TimerStart, TimerMillis: millis, TimerState: alarmid.Clear}
	}
	return Step{}
}

// opposite returns the other boolean state.
func opposite(s alarmid.State) alarmid.State {
	if s == alarmid.Set {
		return alarmid.Clear
	}
	return alarmid.Set
}

// Intensity evaluates the frequency predicate over ws, after recording
// in's edge.
func Intensity(ws *window.List, in alarmid.State, now time.Time, count int, periodMillis int64) Step {
	ws.AddEvent(in.AsBoolean(), now, periodMillis)
	flip := window.Frequency(ws, now, count, periodMillis)
	return fromFlip(flip)
}

// OnTime evaluates the cumulative predicate.
func OnTime(ws *window.List, in alarmid.State, now time.Time, onMillis, periodMillis int64) Step {
	ws.AddEvent(in.AsBoolean(), now, periodMillis)
	flip := window.Cumulative(ws, now, onMillis, periodMillis)
	return fromFlip(flip)
}

// SustainWindow evaluates the single-duration predicate.
func SustainWindow(ws *window.List, in alarmid.State, now time.Time, onMillis, periodMillis int64) Step {
	ws.AddEvent(in.AsBoolean(), now, periodMillis)
	flip := window.SingleDuration(ws, now, onMillis, periodMillis)
	return fromFlip(flip)
}

func fromFlip(flip window.Flip) Step {
	s := Step{Immediate: true, State: flip.State}
	if flip.MillisToFlip == window.Stable {
		s.Timer = TimerCancel
		return s
	}
	s.Timer = TimerStart
	s.TimerMillis = flip.MillisToFlip
	s.TimerState = opposite(flip.State)
	return s
}
