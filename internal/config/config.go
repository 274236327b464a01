// Package config loads the cadence configuration.
//
// Files are CUE (or JSON, which is CUE) or YAML. Either way the content is
// unified with the embedded #Config schema, which rejects unknown fields,
// checks types and ranges and fills in defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cadence/internal/entity"
	"github.com/roach88/cadence/internal/tracker"
)

//go:embed schema.cue
var schemaSource []byte

// Config is the validated, typed configuration.
type Config struct {
	PollInterval     time.Duration
	SweepInterval    time.Duration
	TrackerInterval  time.Duration
	FetchInterval    time.Duration
	QuietPeriod      time.Duration
	ReminderCooldown time.Duration
	StartupFreeze    time.Duration
	SnapshotInterval time.Duration
	Location         *time.Location
	Reminders        []tracker.CalendarRule
	Database         string
	SourceDir        string
}

// fileConfig mirrors #Config field for field.
type fileConfig struct {
	PollInterval     string         `json:"poll_interval" yaml:"poll_interval"`
	SweepInterval    string         `json:"sweep_interval" yaml:"sweep_interval"`
	TrackerInterval  string         `json:"tracker_interval" yaml:"tracker_interval"`
	FetchInterval    string         `json:"fetch_interval" yaml:"fetch_interval"`
	QuietPeriod      string         `json:"quiet_period" yaml:"quiet_period"`
	ReminderCooldown string         `json:"reminder_cooldown" yaml:"reminder_cooldown"`
	StartupFreeze    string         `json:"startup_freeze" yaml:"startup_freeze"`
	SnapshotInterval string         `json:"snapshot_interval" yaml:"snapshot_interval"`
	Timezone         string         `json:"timezone" yaml:"timezone"`
	Database         string         `json:"database" yaml:"database"`
	SourceDir        string         `json:"source_dir" yaml:"source_dir"`
	Reminders        []fileReminder `json:"reminders" yaml:"reminders"`
}

type fileReminder struct {
	Name       string `json:"name" yaml:"name"`
	DayOfMonth int    `json:"day_of_month" yaml:"day_of_month"`
	Hour       int    `json:"hour" yaml:"hour"`
	Minute     int    `json:"minute" yaml:"minute"`
}

// Default returns the configuration of an empty file.
func Default() (*Config, error) {
	return Parse(nil, "default.cue")
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse validates data. The format is picked from filename's extension:
// .cue and .json are CUE, .yaml and .yml are YAML.
func Parse(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	var file cue.Value
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".cue", ".json":
		file = ctx.CompileBytes(data, cue.Filename(filename))
	case ".yaml", ".yml":
		var m map[string]any
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, &Error{File: filename, Message: fmt.Sprintf("invalid YAML: %v", err)}
		}
		if m == nil {
			m = map[string]any{}
		}
		file = ctx.Encode(m)
	default:
		return nil, &Error{File: filename, Message: fmt.Sprintf("unsupported config format %q", ext)}
	}
	if err := file.Err(); err != nil {
		return nil, fromCUE(filename, err)
	}

	merged := def.Unify(file)
	if err := merged.Validate(cue.Concrete(true)); err != nil {
		return nil, fromCUE(filename, err)
	}
	var raw fileConfig
	if err := merged.Decode(&raw); err != nil {
		return nil, fromCUE(filename, err)
	}

	cfg, err := raw.typed()
	if err != nil {
		return nil, &Error{File: filename, Message: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &Error{File: filename, Message: err.Error()}
	}
	return cfg, nil
}

func (f fileConfig) typed() (*Config, error) {
	cfg := &Config{Database: f.Database, SourceDir: f.SourceDir}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"poll_interval", f.PollInterval, &cfg.PollInterval},
		{"sweep_interval", f.SweepInterval, &cfg.SweepInterval},
		{"tracker_interval", f.TrackerInterval, &cfg.TrackerInterval},
		{"fetch_interval", f.FetchInterval, &cfg.FetchInterval},
		{"quiet_period", f.QuietPeriod, &cfg.QuietPeriod},
		{"reminder_cooldown", f.ReminderCooldown, &cfg.ReminderCooldown},
		{"startup_freeze", f.StartupFreeze, &cfg.StartupFreeze},
		{"snapshot_interval", f.SnapshotInterval, &cfg.SnapshotInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}

	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	cfg.Location = loc

	for _, r := range f.Reminders {
		cfg.Reminders = append(cfg.Reminders, tracker.CalendarRule{
			Name:       r.Name,
			DayOfMonth: r.DayOfMonth,
			Hour:       r.Hour,
			Minute:     r.Minute,
		})
	}
	return cfg, nil
}

// Validate checks the relations between fields the schema cannot express.
func (c *Config) Validate() error {
	if c.SnapshotInterval <= 0 {
		return errors.New("snapshot_interval must be positive")
	}
	return c.Entity().Validate()
}

// Tracker returns the change tracker settings.
func (c *Config) Tracker() tracker.Config {
	return tracker.Config{
		Interval:         c.TrackerInterval,
		FetchInterval:    c.FetchInterval,
		QuietPeriod:      c.QuietPeriod,
		ReminderCooldown: c.ReminderCooldown,
		StartupFreeze:    c.StartupFreeze,
		Rules:            c.Reminders,
		Location:         c.Location,
	}
}

// Entity returns the population settings.
func (c *Config) Entity() entity.Config {
	return entity.Config{
		PollInterval:  c.PollInterval,
		SweepInterval: c.SweepInterval,
		Tracker:       c.Tracker(),
	}
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	f := fileConfig{
		PollInterval:     c.PollInterval.String(),
		SweepInterval:    c.SweepInterval.String(),
		TrackerInterval:  c.TrackerInterval.String(),
		FetchInterval:    c.FetchInterval.String(),
		QuietPeriod:      c.QuietPeriod.String(),
		ReminderCooldown: c.ReminderCooldown.String(),
		StartupFreeze:    c.StartupFreeze.String(),
		SnapshotInterval: c.SnapshotInterval.String(),
		Timezone:         c.Location.String(),
		Database:         c.Database,
		SourceDir:        c.SourceDir,
		Reminders:        []fileReminder{},
	}
	for _, r := range c.Reminders {
		f.Reminders = append(f.Reminders, fileReminder{
			Name:       r.Name,
			DayOfMonth: r.DayOfMonth,
			Hour:       r.Hour,
			Minute:     r.Minute,
		})
	}
	return yaml.Marshal(f)
}
