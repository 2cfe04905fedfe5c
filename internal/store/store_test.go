package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarmist/internal/alarmid"
	"alarmist/internal/matcher"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestPutThenGetReturnsLatestRecord(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(fixedClock(now))
	id := alarmid.Leaf("disk.pressure")

	s.Put(id, alarmid.Set, "90% full", alarmid.Critical)

	rec := s.Get(id, Record{State: alarmid.Unknown})
	assert.Equal(t, alarmid.Set, rec.State)
	assert.Equal(t, "90% full", rec.Description)
	assert.Equal(t, alarmid.Critical, rec.Level)
	assert.Equal(t, now, rec.Timestamp)
	assert.Equal(t, alarmid.Unknown, rec.PreviousState, "first write has no prior observed state")
}

func TestPutRecordsPreviousStateAndTimestamp(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)
	var now time.Time
	s := New(func() time.Time { return now })

	id := alarmid.Leaf("a")
	now = t0
	s.Put(id, alarmid.Set, nil, alarmid.Warning)
	now = t1
	s.Put(id, alarmid.Clear, nil, alarmid.Warning)

	rec := s.Get(id, Record{})
	assert.Equal(t, alarmid.Clear, rec.State)
	assert.Equal(t, alarmid.Set, rec.PreviousState)
	assert.Equal(t, t0, rec.PreviousTimestamp)
	assert.Equal(t, t1, rec.Timestamp)
}

func TestGetReturnsDefaultForUnknownID(t *testing.T) {
	s := New(nil)
	def := Record{State: alarmid.Unknown}
	rec := s.Get(alarmid.Leaf("missing"), def)
	assert.Equal(t, def, rec)
}

func TestStateIsAConvenienceWrapperForEngineLookup(t *testing.T) {
	s := New(nil)
	state, desc := s.State(alarmid.Leaf("missing"))
	assert.Equal(t, alarmid.Unknown, state)
	assert.Nil(t, desc)

	s.Put(alarmid.Leaf("a"), alarmid.Set, "x", alarmid.Warning)
	state, desc = s.State(alarmid.Leaf("a"))
	assert.Equal(t, alarmid.Set, state)
	assert.Equal(t, "x", desc)
}

func TestDeleteTransitionsToUnknownAndPublishesPreviousDescription(t *testing.T) {
	s := New(nil)
	id := alarmid.Leaf("a")
	s.Put(id, alarmid.Set, "going away", alarmid.Warning)

	ch, subID := s.Subscribe(matcher.All())
	defer s.Unsubscribe(subID)

	s.Delete(id)

	rec := s.Get(id, Record{})
	assert.Equal(t, alarmid.Unknown, rec.State)

	select {
	case ev := <-ch:
		assert.Equal(t, alarmid.Unknown, ev.State)
		assert.Equal(t, alarmid.Set, ev.PreviousState)
		assert.Equal(t, "going away", ev.Description)
	case <-time.After(time.Second):
		t.Fatal("expected a delete event")
	}
}

func TestGetAllIteratesEveryRecordUntilFalse(t *testing.T) {
	s := New(nil)
	s.Put(alarmid.Leaf("a"), alarmid.Set, nil, alarmid.Warning)
	s.Put(alarmid.Leaf("b"), alarmid.Set, nil, alarmid.Warning)
	s.Put(alarmid.Leaf("c"), alarmid.Set, nil, alarmid.Warning)

	seen := 0
	s.GetAll(func(id alarmid.ID, rec Record) bool {
		seen++
		return seen < 2
	})
	assert.Equal(t, 2, seen, "GetAll must stop as soon as fn returns false")
}

func TestSubscribeOnlyReceivesMatchingEvents(t *testing.T) {
	s := New(nil)
	ch, id := s.Subscribe(matcher.Leaf("disk.pressure"))
	defer s.Unsubscribe(id)

	s.Put(alarmid.Leaf("other"), alarmid.Set, nil, alarmid.Warning)
	s.Put(alarmid.Leaf("disk.pressure"), alarmid.Set, "full", alarmid.Critical)

	select {
	case ev := <-ch:
		assert.Equal(t, "disk.pressure", string(ev.ID.Atom))
		assert.Equal(t, "full", ev.Description)
	case <-time.After(time.Second):
		t.Fatal("expected a matching event")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	s := New(nil)
	ch, id := s.Subscribe(matcher.All())
	s.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok, "channel must be closed after Unsubscribe")
}

func TestPublishDropsRatherThanBlocksOnFullSubscriberChannel(t *testing.T) {
	s := New(nil)
	_, id := s.Subscribe(matcher.All())
	defer s.Unsubscribe(id)

	// Flood far past the subscriber's buffer without ever draining; Put must
	// never block the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Put(alarmid.Leaf(alarmid.Atom(string(rune('a'+i%26)))), alarmid.Set, nil, alarmid.Warning)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Put blocked on a full subscriber channel")
	}
}

func TestConcurrentPutAndGetAreRaceFree(t *testing.T) {
	s := New(nil)
	id := alarmid.Leaf("a")
	done := make(chan struct{})

	go func() {
		for i := 0; i < 500; i++ {
			s.Put(id, alarmid.Set, i, alarmid.Warning)
		}
		close(done)
	}()

	for i := 0; i < 500; i++ {
		s.Get(id, Record{})
	}
	<-done
}

func TestMultipleIndependentStoresDoNotShareState(t *testing.T) {
	s1 := New(nil)
	s2 := New(nil)
	id := alarmid.Leaf("a")

	s1.Put(id, alarmid.Set, nil, alarmid.Warning)

	rec := s2.Get(id, Record{State: alarmid.Unknown})
	assert.Equal(t, alarmid.Unknown, rec.State)
	require.NotEqual(t, s1, s2)
}
