// Package store holds current (state, description, level) for each alarm id
// and fans out change events to pattern-matched subscribers.
package store

import (
	"sync"
	"time"

	"alarmist/internal/alarmid"
	"alarmist/internal/matcher"
)

// Record is the Store's per-id bookkeeping.
type Record struct {
	State            alarmid.State
	Description      interface{}
	Level            alarmid.Level
	Timestamp        time.Time
	PreviousState    alarmid.State
	PreviousTimestamp time.Time
}

// Event is published to subscribers whose pattern matches id.
type Event struct {
	ID                alarmid.ID
	State             alarmid.State
	PreviousState     alarmid.State
	Description       interface{}
	Level             alarmid.Level
	Timestamp         time.Time
	PreviousTimestamp time.Time
}

// Clock returns the current time; tests supply a deterministic fake.
type Clock func() time.Time

type subscriber struct {
	pattern matcher.Pattern
	ch      chan Event
}

// Store is a single owned value addressed by a handle passed explicitly; no
// globals. Multiple independent Stores are supported for tests.
type Store struct {
	clock Clock

	mu      sync.RWMutex
	records map[string]Record
	ids     map[string]alarmid.ID

	subMu sync.RWMutex
	subs  map[int]*subscriber
	nextSub int
}

// New creates an empty Store.
func New(clock Clock) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		clock:   clock,
		records: make(map[string]Record),
		ids:     make(map[string]alarmid.ID),
		subs:    make(map[int]*subscriber),
	}
}

// Put updates id's record and publishes to every subscriber whose pattern
// matches it.
func (s *Store) Put(id alarmid.ID, state alarmid.State, desc interface{}, level alarmid.Level) {
	now := s.clock()

	s.mu.Lock()
	key := id.Key()
	prev, existed := s.records[key]
	rec := Record{
		State:       state,
		Description: desc,
		Level:       level,
		Timestamp:   now,
	}
	if existed {
		rec.PreviousState = prev.State
		rec.PreviousTimestamp = prev.Timestamp
	} else {
		rec.PreviousState = alarmid.Unknown
		rec.PreviousTimestamp = now
	}
	s.records[key] = rec
	s.ids[key] = id
	s.mu.Unlock()

	s.publish(Event{
		ID:                id,
		State:             rec.State,
		PreviousState:     rec.PreviousState,
		Description:       rec.Description,
		Level:             rec.Level,
		Timestamp:         rec.Timestamp,
		PreviousTimestamp: rec.PreviousTimestamp,
	})
}

// Get returns id's current record, or def if unknown.
func (s *Store) Get(id alarmid.ID, def Record) Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[id.Key()]; ok {
		return rec
	}
	return def
}

// State is a convenience wrapper returning just the state (Unknown if
// unobserved), the shape engine.Lookup expects.
func (s *Store) State(id alarmid.ID) (alarmid.State, interface{}) {
	rec := s.Get(id, Record{State: alarmid.Unknown})
	return rec.State, rec.Description
}

// Delete transitions id to Unknown and publishes a final notification.
func (s *Store) Delete(id alarmid.ID) {
	now := s.clock()
	s.mu.Lock()
	key := id.Key()
	prev, existed := s.records[key]
	rec := Record{State: alarmid.Unknown, Timestamp: now}
	if existed {
		rec.PreviousState = prev.State
		rec.PreviousTimestamp = prev.Timestamp
		rec.Description = prev.Description
		rec.Level = prev.Level
	}
	s.records[key] = rec
	s.ids[key] = id
	s.mu.Unlock()

	s.publish(Event{
		ID:                id,
		State:             alarmid.Unknown,
		PreviousState:     rec.PreviousState,
		Description:       rec.Description,
		Level:             rec.Level,
		Timestamp:         rec.Timestamp,
		PreviousTimestamp: rec.PreviousTimestamp,
	})
}

// GetAll iterates all records, calling fn for each until it returns false.
func (s *Store) GetAll(fn func(alarmid.ID, Record) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, rec := range s.records {
		if !fn(s.ids[key], rec) {
			return
		}
	}
}

// Subscribe attaches a buffered receiver for events matching pattern.
// Callers must drain the returned channel; Unsubscribe closes it.
func (s *Store) Subscribe(pattern matcher.Pattern) (<-chan Event, int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	sub := &subscriber{pattern: pattern, ch: make(chan Event, 256)}
	s.subs[id] = sub
	return sub.ch, id
}

// Unsubscribe detaches and closes the subscription identified by id.
func (s *Store) Unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if sub, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(sub.ch)
	}
}

func (s *Store) publish(ev Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, sub := range s.subs {
		if !matcher.Match(sub.pattern, ev.ID) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber: drop rather than block the committing
			// Handler.
		}
	}
}
