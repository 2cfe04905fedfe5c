package remedy

import (
	"fmt"
	"sync"

	"alarmist/internal/alarmid"
	"alarmist/internal/matcher"
	"alarmist/internal/store"
)

type registration struct {
	worker   *Worker
	subID    int
	unsubCh  <-chan store.Event
	stopFeed chan struct{}
}

// Supervisor owns the lifecycle of one RemedyWorker per registered alarm id.
type Supervisor struct {
	store   *store.Store
	logger  Logger
	metrics Metrics

	mu   sync.Mutex
	regs map[string]*registration
}

// NewSupervisor creates a Supervisor backed by st.
func NewSupervisor(st *store.Store, logger Logger) *Supervisor {
	return &Supervisor{store: st, logger: logger, regs: make(map[string]*registration)}
}

// SetMetrics attaches the remedy-outcome counters to every worker the
// Supervisor starts from now on.
func (s *Supervisor) SetMetrics(m Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// Register starts the remedy worker for id, or reconfigures the existing
// worker in place with spec.
func (s *Supervisor) Register(id alarmid.ID, spec Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := id.Key()
	if existing, ok := s.regs[key]; ok {
		existing.worker.Reconfigure(spec)
		return nil
	}

	worker := NewWorker(id, spec, s.logger)
	worker.SetMetrics(s.metrics)
	ch, subID := s.store.Subscribe(patternFor(id))
	reg := &registration{worker: worker, subID: subID, unsubCh: ch, stopFeed: make(chan struct{})}
	s.regs[key] = reg

	worker.Start()
	go s.feed(reg)

	return nil
}

// Unregister stops and removes id's remedy worker.
func (s *Supervisor) Unregister(id alarmid.ID) error {
	s.mu.Lock()
	reg, ok := s.regs[id.Key()]
	if ok {
		delete(s.regs, id.Key())
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("remedy: no worker registered for %s", id)
	}
	close(reg.stopFeed)
	s.store.Unsubscribe(reg.subID)
	reg.worker.Stop()
	return nil
}

// Stop tears down every registered worker (process shutdown).
func (s *Supervisor) Stop() {
	s.mu.Lock()
	regs := make([]*registration, 0, len(s.regs))
	for _, r := range s.regs {
		regs = append(regs, r)
	}
	s.regs = make(map[string]*registration)
	s.mu.Unlock()

	for _, reg := range regs {
		close(reg.stopFeed)
		s.store.Unsubscribe(reg.subID)
		reg.worker.Stop()
	}
}

func (s *Supervisor) feed(reg *registration) {
	for {
		select {
		case ev, ok := <-reg.unsubCh:
			if !ok {
				return
			}
			reg.worker.HandleAlarmEvent(ev.State)
		case <-reg.stopFeed:
			return
		}
	}
}

func patternFor(id alarmid.ID) matcher.Pattern {
	if !id.Tuple {
		return matcher.Leaf(id.Atom)
	}
	params := make([]matcher.ParamPattern, len(id.Params))
	for i, p := range id.Params {
		params[i] = matcher.Value(p)
	}
	return matcher.Tagged(id.Tag, params...)
}
