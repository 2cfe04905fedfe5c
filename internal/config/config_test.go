package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarmist/internal/alarmid"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesServerMetricsAndLoggingSections(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "0.0.0.0"
  port: 8080
  shutdownTimeout: 5s
metrics:
  enabled: true
  port: 9090
logging:
  level: info
  output: stdout
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseIDHandlesBareAtomsAndTaggedTuples(t *testing.T) {
	id, err := ParseID("disk.pressure")
	require.NoError(t, err)
	assert.False(t, id.Tuple)
	assert.Equal(t, alarmid.Atom("disk.pressure"), id.Atom)

	id, err = ParseID("host_down(web-1,primary)")
	require.NoError(t, err)
	assert.True(t, id.Tuple)
	assert.Equal(t, alarmid.Atom("host_down"), id.Tag)
	assert.Equal(t, []interface{}{"web-1", "primary"}, id.Params)

	id, err = ParseID("singleton()")
	require.NoError(t, err)
	assert.True(t, id.Tuple)
	assert.Empty(t, id.Params)
}

func TestParseIDRejectsMalformedTuple(t *testing.T) {
	_, err := ParseID("broken(a,b")
	assert.Error(t, err)
}

func TestInitialAlarmsConvertsConfiguredAlarms(t *testing.T) {
	cfg := &Config{
		Alarms: []AlarmConfig{
			{ID: "disk.pressure", Description: "disk usage above threshold"},
			{ID: "no_desc"},
		},
	}
	alarms, err := cfg.InitialAlarms()
	require.NoError(t, err)
	require.Len(t, alarms, 2)
	assert.Equal(t, "disk usage above threshold", alarms[0].Desc)
	assert.Nil(t, alarms[1].Desc)
}

func TestCompiledManagedAlarmsBuildsAtomStyleCondition(t *testing.T) {
	path := writeConfig(t, `
managed_alarms:
  - id: disk.flapping
    level: critical
    style: atom
    expr:
      op: intensity
      count: 3
      period_millis: 10000
      x:
        op: leaf
        id: disk.pressure
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	managed, err := cfg.CompiledManagedAlarms()
	require.NoError(t, err)
	require.Len(t, managed, 1)
	assert.Equal(t, alarmid.Critical, managed[0].Level)
	assert.False(t, managed[0].ID.Tuple)
	require.Len(t, managed[0].Compiled.Rules, 1)
}

func TestCompiledManagedAlarmsBuildsTaggedTupleTemplate(t *testing.T) {
	path := writeConfig(t, `
managed_alarms:
  - id: host_down(web-1)
    level: warning
    style: tagged_tuple
    parameters: ["host"]
    expr:
      op: leaf
      id: raw.ping_failed
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	managed, err := cfg.CompiledManagedAlarms()
	require.NoError(t, err)
	require.Len(t, managed, 1)
	assert.True(t, managed[0].ID.Tuple)
}

func TestCompiledManagedAlarmsRejectsUnknownLevel(t *testing.T) {
	path := writeConfig(t, `
managed_alarms:
  - id: x
    level: not_a_level
    style: atom
    expr: { op: leaf, id: y }
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = cfg.CompiledManagedAlarms()
	assert.Error(t, err)
}

func TestAlarmLevelOverridesParsesMapEntries(t *testing.T) {
	cfg := &Config{AlarmLevels: map[string]string{"disk.pressure": "critical"}}
	overrides, err := cfg.AlarmLevelOverrides()
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, alarmid.Critical, overrides[0].Level)
	assert.Equal(t, "disk.pressure", string(overrides[0].ID.Atom))
}

func TestAlarmLevelOverridesRejectsUnknownLevel(t *testing.T) {
	cfg := &Config{AlarmLevels: map[string]string{"x": "bogus"}}
	_, err := cfg.AlarmLevelOverrides()
	assert.Error(t, err)
}
