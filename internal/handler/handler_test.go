package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarmist/internal/alarmid"
	"alarmist/internal/compiler"
	"alarmist/internal/engine"
	"alarmist/internal/remedy"
	"alarmist/internal/store"
)

type nopLogger struct{}

func (nopLogger) Debug(component, message string, fields ...map[string]interface{}) {}
func (nopLogger) Info(component, message string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(component, message string, fields ...map[string]interface{})  {}
func (nopLogger) Error(component, message string, fields ...map[string]interface{}) {}

func newHarness(t *testing.T) (*Handler, *store.Store, func()) {
	t.Helper()
	st := store.New(nil)
	eng := engine.New(st.State, nil)
	sup := remedy.NewSupervisor(st, nopLogger{})
	h := New(st, eng, sup, nopLogger{})
	h.Start()
	return h, st, func() {
		h.Stop()
		sup.Stop()
	}
}

func ptrIDExpr(ie compiler.IDExpr) *compiler.IDExpr { return &ie }

func unaryCondition(op compiler.Op, in, dest alarmid.ID, lits ...int64) compiler.CompiledCondition {
	args := []compiler.Arg{{ID: ptrIDExpr(compiler.IDExpr{Concrete: &in})}}
	for _, v := range lits {
		v := v
		args = append(args, compiler.Arg{Literal: &compiler.Const{Value: v}})
	}
	return compiler.CompiledCondition{
		Rules: []compiler.Rule{{Op: op, Dest: compiler.IDExpr{Concrete: &dest}, Args: args}},
		Style: compiler.StyleAtom,
	}
}

func TestSetAlarmAndClearAlarmPersistToStore(t *testing.T) {
	h, st, cleanup := newHarness(t)
	defer cleanup()

	id := alarmid.Leaf("disk.pressure")
	require.NoError(t, h.SetAlarm(id, "90% full"))

	rec := st.Get(id, store.Record{State: alarmid.Unknown})
	assert.Equal(t, alarmid.Set, rec.State)
	assert.Equal(t, "90% full", rec.Description)

	require.NoError(t, h.ClearAlarm(id))
	rec = st.Get(id, store.Record{})
	assert.Equal(t, alarmid.Clear, rec.State)
}

func TestAddManagedAlarmDerivesAlarmFromInput(t *testing.T) {
	h, st, cleanup := newHarness(t)
	defer cleanup()

	in := alarmid.Leaf("raw.input")
	derived := alarmid.Leaf("derived")
	cc := unaryCondition(compiler.OpCopy, in, derived)

	require.NoError(t, h.AddManagedAlarm(derived, cc, alarmid.Critical))
	require.NoError(t, h.SetAlarm(in, "source description"))

	rec := st.Get(derived, store.Record{State: alarmid.Unknown})
	assert.Equal(t, alarmid.Set, rec.State)
	assert.Equal(t, alarmid.Critical, rec.Level)
}

func TestRemoveManagedAlarmForgetsDerivedAlarm(t *testing.T) {
	h, st, cleanup := newHarness(t)
	defer cleanup()

	in := alarmid.Leaf("raw.input")
	derived := alarmid.Leaf("derived")
	cc := unaryCondition(compiler.OpCopy, in, derived)

	require.NoError(t, h.AddManagedAlarm(derived, cc, alarmid.Warning))
	require.NoError(t, h.SetAlarm(in, nil))
	require.Equal(t, alarmid.Set, st.Get(derived, store.Record{}).State)

	require.NoError(t, h.RemoveManagedAlarm(derived))
	rec := st.Get(derived, store.Record{Level: alarmid.Warning})
	assert.Equal(t, alarmid.Unknown, rec.State)
}

func TestManagedAlarmIDsReflectsRegistrations(t *testing.T) {
	h, _, cleanup := newHarness(t)
	defer cleanup()

	in := alarmid.Leaf("raw.input")
	derived := alarmid.Leaf("derived")
	cc := unaryCondition(compiler.OpCopy, in, derived)
	require.NoError(t, h.AddManagedAlarm(derived, cc, alarmid.Warning))

	ids, err := h.ManagedAlarmIDs()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.True(t, ids[0].Equal(derived))
}

func TestSetAlarmLevelOverridesPublishedLevel(t *testing.T) {
	h, st, cleanup := newHarness(t)
	defer cleanup()

	id := alarmid.Leaf("a")
	require.NoError(t, h.SetAlarmLevel(id, alarmid.Critical))
	require.NoError(t, h.SetAlarm(id, nil))

	rec := st.Get(id, store.Record{})
	assert.Equal(t, alarmid.Critical, rec.Level)
}

func TestClearAlarmLevelRestoresDefault(t *testing.T) {
	h, st, cleanup := newHarness(t)
	defer cleanup()

	id := alarmid.Leaf("a")
	require.NoError(t, h.SetAlarmLevel(id, alarmid.Critical))
	require.NoError(t, h.ClearAlarmLevel(id))
	require.NoError(t, h.SetAlarm(id, nil))

	rec := st.Get(id, store.Record{})
	assert.Equal(t, alarmid.DefaultLeafLevel, rec.Level)
}

func TestAddRemedyFiresCallbackWhenAlarmBecomesSet(t *testing.T) {
	h, _, cleanup := newHarness(t)
	defer cleanup()

	id := alarmid.Leaf("a")
	invoked := make(chan struct{}, 1)
	require.NoError(t, h.AddRemedy(id, remedy.Spec{Callback: func(ctx context.Context, got alarmid.ID) {
		invoked <- struct{}{}
	}}))

	require.NoError(t, h.SetAlarm(id, nil))

	select {
	case <-invoked:
	case <-time.After(time.Second):
		t.Fatal("remedy callback never fired after the alarm was set")
	}
}

func TestRemoveRemedyStopsFurtherCallbacks(t *testing.T) {
	h, _, cleanup := newHarness(t)
	defer cleanup()

	id := alarmid.Leaf("a")
	invoked := make(chan struct{}, 1)
	require.NoError(t, h.AddRemedy(id, remedy.Spec{Callback: func(ctx context.Context, got alarmid.ID) {
		invoked <- struct{}{}
	}}))
	require.NoError(t, h.RemoveRemedy(id))

	require.NoError(t, h.SetAlarm(id, nil))

	select {
	case <-invoked:
		t.Fatal("remedy callback fired after being removed")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDebounceTimerEventuallySetsDerivedAlarm(t *testing.T) {
	h, st, cleanup := newHarness(t)
	defer cleanup()

	in := alarmid.Leaf("raw.input")
	derived := alarmid.Leaf("debounced")
	cc := unaryCondition(compiler.OpDebounce, in, derived, 20)

	require.NoError(t, h.AddManagedAlarm(derived, cc, alarmid.Warning))
	require.NoError(t, h.SetAlarm(in, nil))

	// Immediately after SetAlarm the debounce timer has only just started;
	// the derived alarm must not yet be Set.
	rec := st.Get(derived, store.Record{State: alarmid.Unknown})
	assert.NotEqual(t, alarmid.Set, rec.State)

	require.Eventually(t, func() bool {
		return st.Get(derived, store.Record{}).State == alarmid.Set
	}, time.Second, 5*time.Millisecond, "debounce timer never fired through the handler")
}

func TestBootstrapSeedsAlarmsBeforeManagedAlarms(t *testing.T) {
	h, st, cleanup := newHarness(t)
	defer cleanup()

	in := alarmid.Leaf("raw.input")
	derived := alarmid.Leaf("derived")
	cc := unaryCondition(compiler.OpCopy, in, derived)

	err := h.Bootstrap(
		[]InitialAlarm{{ID: in, Desc: "seeded"}},
		[]InitialManagedAlarm{{ID: derived, Compiled: cc, Level: alarmid.Warning}},
	)
	require.NoError(t, err)

	rec := st.Get(derived, store.Record{State: alarmid.Unknown})
	assert.Equal(t, alarmid.Set, rec.State, "managed alarm must see the already-seeded input on its first evaluation")
}
