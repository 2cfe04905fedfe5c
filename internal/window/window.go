// Package window implements the sliding event list and the three time-based
// predicates (cumulative, single-duration, frequency) that back the
// debounce-adjacent windowed operators.
package window

import (
	"fmt"
	"time"

	"alarmist/internal/alarmid"
)

// Event is one observed transition of the windowed input.
type Event struct {
	At    time.Time
	State alarmid.State // Set or Clear only; Unknown is normalised upstream
}

// List holds a single input's event history, newest-first. The invariant
// is: empty ≡ Clear for the whole window, and a non-empty list always ends
// (oldest) with a Set event, even if that event precedes the window, so
// the tail anchors coverage into the window.
type List struct {
	events []Event
}

// New returns an empty event list.
func New() *List { return &List{} }

// Newest returns the most recent event, if any.
func (l *List) Newest() (Event, bool) {
	if len(l.events) == 0 {
		return Event{}, false
	}
	return l.events[0], true
}

// AddEvent records a new observation and garbage-collects entries that have
// aged out of the window, preserving the anchor invariant.
func (l *List) AddEvent(newState alarmid.State, now time.Time, periodMillis int64) {
	if newest, ok := l.Newest(); ok {
		if now.Before(newest.At) {
			panic(fmt.Sprintf("window: event out of order: new=%s newest=%s", now, newest.At))
		}
		if newest.State == newState {
			l.gc(now, periodMillis)
			return
		}
	}
	l.events = append([]Event{{At: now, State: newState}}, l.events...)
	l.gc(now, periodMillis)
}

func (l *List) gc(now time.Time, periodMillis int64) {
	cutoff := now.Add(-time.Duration(periodMillis) * time.Millisecond)
	keep := len(l.events)
	for keep > 1 {
		candidate := l.events[keep-1]
		if !candidate.At.Before(cutoff) {
			break
		}
		// A Set older than the window is kept while the next newer entry
		// lies inside the window: it anchors Set coverage into the window.
		// Any other entry older than the window, Clear ones included, is
		// dropped.
		if candidate.State == alarmid.Set && l.events[keep-2].At.After(cutoff) {
			break
		}
		keep--
	}
	l.events = l.events[:keep]
}

// Flip is the result of a predicate evaluation.
type Flip struct {
	State        alarmid.State
	MillisToFlip int64 // -1 if stable (no pending flip)
}

const Stable int64 = -1

// Cumulative implements on_time: total Set coverage over [now-period, now]
// must be >= onMillis.
func Cumulative(l *List, now time.Time, onMillis, periodMillis int64) Flip {
	windowStart := now.Add(-time.Duration(periodMillis) * time.Millisecond)
	var total time.Duration
	// Walk newest-first accumulating Set coverage, clipped to the window.
	segStart := now
	for _, ev := range l.events {
		segEnd := segStart
		lo := ev.At
		if lo.Before(windowStart) {
			lo = windowStart
		}
		if ev.State == alarmid.Set {
			total += segEnd.Sub(lo)
		}
		segStart = lo
		if !ev.At.After(windowStart) {
			break
		}
	}
	onDuration := time.Duration(onMillis) * time.Millisecond
	if total >= onDuration {
		// Time to clear: the age at which enough prior set-time ages out.
		// That happens period ms after the onset of the qualifying coverage,
		// i.e. when the oldest still-counted Set second drops out of the
		// window. Find the onset: walk forward (oldest->newest) adding up
		// Set coverage until the threshold is first met.
		onset := cumulativeOnset(l, now, onMillis, periodMillis)
		remaining := periodMillis - now.Sub(onset).Milliseconds()
		if remaining < 0 {
			remaining = 0
		}
		return Flip{State: alarmid.Set, MillisToFlip: remaining}
	}
	newest, ok := l.Newest()
	if ok && newest.State == alarmid.Set {
		deficit := onDuration - total
		return Flip{State: alarmid.Clear, MillisToFlip: deficit.Milliseconds()}
	}
	return Flip{State: alarmid.Clear, MillisToFlip: Stable}
}

// cumulativeOnset returns the timestamp at which accumulated Set coverage
// (scanning from the window start forward) first reached onMillis.
func cumulativeOnset(l *List, now time.Time, onMillis, periodMillis int64) time.Time {
	windowStart := now.Add(-time.Duration(periodMillis) * time.Millisecond)
	// Build chronological (oldest-first) segments from the newest-first list.
	type seg struct {
		start, end time.Time
		set        bool
	}
	var segs []seg
	segEnd := now
	for _, ev := range l.events {
		lo := ev.At
		if lo.Before(windowStart) {
			lo = windowStart
		}
		segs = append([]seg{{start: lo, end: segEnd, set: ev.State == alarmid.Set}}, segs...)
		segEnd = lo
		if !ev.At.After(windowStart) {
			break
		}
	}
	onDuration := time.Duration(onMillis) * time.Millisecond
	var acc time.Duration
	for _, s := range segs {
		if !s.set {
			continue
		}
		need := onDuration - acc
		dur := s.end.Sub(s.start)
		if dur >= need {
			return s.start.Add(need)
		}
		acc += dur
	}
	return now
}

// SingleDuration implements sustain_window: a contiguous Set interval within
// the window of length >= onMillis must exist.
func SingleDuration(l *List, now time.Time, onMillis, periodMillis int64) Flip {
	windowStart := now.Add(-time.Duration(periodMillis) * time.Millisecond)
	segEnd := now
	var bestStart, bestEnd time.Time
	found := false
	for _, ev := range l.events {
		lo := ev.At
		if lo.Before(windowStart) {
			lo = windowStart
		}
		if ev.State == alarmid.Set {
			dur := segEnd.Sub(lo)
			if dur >= time.Duration(onMillis)*time.Millisecond {
				bestStart, bestEnd = lo, segEnd
				found = true
				break
			}
		}
		segEnd = lo
		if !ev.At.After(windowStart) {
			break
		}
	}
	if found {
		// Time-to-clear: residual life of the qualifying interval within
		// the window -- it stays long enough to keep satisfying onMillis
		// until bestStart ages past windowStart by exactly onMillis, i.e.
		// until now reaches bestStart + onMillis... but bestEnd is "now" if
		// input is still Set, so the flip happens when bestStart exits the
		// window: at bestStart + periodMillis.
		_ = bestEnd
		remaining := bestStart.Add(time.Duration(periodMillis) * time.Millisecond).Sub(now).Milliseconds()
		if remaining < 0 {
			remaining = 0
		}
		return Flip{State: alarmid.Set, MillisToFlip: remaining}
	}
	newest, ok := l.Newest()
	if ok && newest.State == alarmid.Set {
		deficit := time.Duration(onMillis)*time.Millisecond - now.Sub(newest.At)
		if deficit < 0 {
			deficit = 0
		}
		return Flip{State: alarmid.Clear, MillisToFlip: deficit.Milliseconds()}
	}
	return Flip{State: alarmid.Clear, MillisToFlip: Stable}
}

// Frequency implements intensity: at least count distinct Set transitions
// within the window. MillisToFlip is pinned to the remaining life of the
// oldest qualifying transition, i.e. when it ages out of the window and
// the count predicate would no longer hold.
func Frequency(l *List, now time.Time, count int, periodMillis int64) Flip {
	windowStart := now.Add(-time.Duration(periodMillis) * time.Millisecond)
	var transitions []time.Time
	for _, ev := range l.events {
		if ev.At.Before(windowStart) {
			break
		}
		if ev.State == alarmid.Set {
			transitions = append(transitions, ev.At)
		}
	}
	if len(transitions) >= count {
		// transitions is newest-first; the oldest qualifying transition is
		// transitions[count-1].
		oldest := transitions[count-1]
		remaining := oldest.Add(time.Duration(periodMillis) * time.Millisecond).Sub(now).Milliseconds()
		if remaining < 0 {
			remaining = 0
		}
		return Flip{State: alarmid.Set, MillisToFlip: remaining}
	}
	return Flip{State: alarmid.Clear, MillisToFlip: Stable}
}
