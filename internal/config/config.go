// Package config loads the YAML startup document: server/metrics/logging
// settings plus the initial alarm set and managed alarm conditions a
// process boots with.
package config

import (
	"fmt"
	"io/ioutil"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"alarmist/internal/alarmid"
	"alarmist/internal/compiler"
	"alarmist/internal/handler"
)

// Config is the root of the startup document.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	Logging       LoggingConfig        `yaml:"logging"`
	Alarms        []AlarmConfig        `yaml:"alarms"`
	ManagedAlarms []ManagedAlarmConfig `yaml:"managed_alarms"`
	AlarmLevels   map[string]string    `yaml:"alarm_levels"`
}

// ServerConfig configures the REST/WebSocket listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
	// Format selects the log line encoding: "json" (default), "text",
	// "logstash", "fluentd", or "csv".
	Format string `yaml:"format"`
}

// AlarmConfig seeds one pre-existing leaf alarm.
type AlarmConfig struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
}

// ManagedAlarmConfig describes one managed alarm registration, expressed as
// a human-authored expression tree rather than the engine's internal
// three-address rule form. Style "tagged_tuple" treats Parameters as the
// ordered template elements of the managed id's own tag.
type ManagedAlarmConfig struct {
	ID         string   `yaml:"id"`
	Level      string   `yaml:"level"`
	Style      string   `yaml:"style"`
	Parameters []string `yaml:"parameters"`
	Expr       exprNode `yaml:"expr"`
}

// Load reads and parses path into a Config. It does not compile managed
// alarm expressions; call CompiledManagedAlarms to obtain handler-ready
// registrations.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseID parses a config-file alarm id. "tag(p1,p2,...)" denotes a tagged
// tuple id; anything else is a plain atom.
func ParseID(s string) (alarmid.ID, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return alarmid.Leaf(alarmid.Atom(s)), nil
	}
	if !strings.HasSuffix(s, ")") {
		return alarmid.ID{}, fmt.Errorf("config: malformed tagged id %q", s)
	}
	tag := alarmid.Atom(s[:open])
	inner := s[open+1 : len(s)-1]
	var params []interface{}
	if inner != "" {
		for _, p := range strings.Split(inner, ",") {
			params = append(params, strings.TrimSpace(p))
		}
	}
	return alarmid.Tagged(tag, params...), nil
}

// InitialAlarms converts the Alarms section to Handler bootstrap input.
func (c *Config) InitialAlarms() ([]handler.InitialAlarm, error) {
	out := make([]handler.InitialAlarm, 0, len(c.Alarms))
	for _, a := range c.Alarms {
		id, err := ParseID(a.ID)
		if err != nil {
			return nil, err
		}
		var desc interface{}
		if a.Description != "" {
			desc = a.Description
		}
		out = append(out, handler.InitialAlarm{ID: id, Desc: desc})
	}
	return out, nil
}

func resultIDExpr(id alarmid.ID, style compiler.Style, params []string) compiler.IDExpr {
	if style == compiler.StyleAtom {
		return compiler.IDExpr{Concrete: &id}
	}
	elems := make([]compiler.TemplateElem, len(params))
	for i, p := range params {
		elems[i] = compiler.TemplateElem{ParamName: p}
	}
	tag := id.Tag
	return compiler.IDExpr{Template: &compiler.TemplateRef{Tag: tag, Elems: elems}}
}

// CompiledManagedAlarms compiles every ManagedAlarms entry into Handler
// bootstrap input, ready for AddManagedAlarm/Bootstrap.
func (c *Config) CompiledManagedAlarms() ([]handler.InitialManagedAlarm, error) {
	out := make([]handler.InitialManagedAlarm, 0, len(c.ManagedAlarms))
	for _, m := range c.ManagedAlarms {
		id, err := ParseID(m.ID)
		if err != nil {
			return nil, fmt.Errorf("config: managed alarm %q: %w", m.ID, err)
		}
		level, err := alarmid.ParseLevel(m.Level)
		if err != nil {
			return nil, fmt.Errorf("config: managed alarm %q: %w", m.ID, err)
		}
		style := compiler.StyleAtom
		if strings.EqualFold(m.Style, "tagged_tuple") {
			style = compiler.StyleTaggedTuple
		}
		root, err := buildExpr(&m.Expr)
		if err != nil {
			return nil, fmt.Errorf("config: managed alarm %q: %w", m.ID, err)
		}
		result := resultIDExpr(id, style, m.Parameters)
		cc, err := compiler.Compile(root, result, style, m.Parameters)
		if err != nil {
			return nil, fmt.Errorf("config: managed alarm %q: %w", m.ID, err)
		}
		out = append(out, handler.InitialManagedAlarm{ID: id, Compiled: cc, Level: level})
	}
	return out, nil
}

// AlarmLevelOverride pairs an id with its configured level override.
type AlarmLevelOverride struct {
	ID    alarmid.ID
	Level alarmid.Level
}

// AlarmLevelOverrides parses the alarm_levels map into id/level pairs. A
// slice is returned rather than a map keyed by alarmid.ID, since ID holds a
// Params slice and so is not a comparable map key.
func (c *Config) AlarmLevelOverrides() ([]AlarmLevelOverride, error) {
	out := make([]AlarmLevelOverride, 0, len(c.AlarmLevels))
	for idStr, levelStr := range c.AlarmLevels {
		id, err := ParseID(idStr)
		if err != nil {
			return nil, err
		}
		level, err := alarmid.ParseLevel(levelStr)
		if err != nil {
			return nil, err
		}
		out = append(out, AlarmLevelOverride{ID: id, Level: level})
	}
	return out, nil
}
