package tracker

import (
	"log/slog"
	"maps"
	"time"

	"github.com/roach88/cadence/internal/ir"
)

// Durable is the part of a tracker's state that survives a restart.
// Baselines are deliberately absent: after a restart the tracker starts
// Idle and re-syncs on its first fetch.
type Durable struct {
	// Reminders maps rule name to the time it last fired.
	Reminders map[string]time.Time
}

func (t *Tracker) remindersLocked(now time.Time) []ir.Event {
	if len(t.cfg.Rules) == 0 {
		return nil
	}
	if now.Before(t.started.Add(t.cfg.StartupFreeze)) {
		return nil
	}

	local := now.In(t.loc)
	due := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, t.loc)

	var events []ir.Event
	for _, rule := range t.cfg.Rules {
		if !rule.Matches(local) {
			continue
		}
		if last, ok := t.reminders[rule.Name]; ok {
			// Same slot already served, or still cooling down.
			if !last.Before(due) || now.Sub(last) < t.cfg.ReminderCooldown {
				continue
			}
		}

		t.reminders[rule.Name] = now
		slog.Debug("reminder due", "entity", t.entityID, "rule", rule.Name, "due", due)
		events = append(events, ir.ReminderEvent{
			EntityID: t.entityID,
			Rule:     rule.Name,
			Due:      due,
		})
	}
	return events
}

// Durable exports the reminder stamps.
func (t *Tracker) Durable() Durable {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Durable{Reminders: maps.Clone(t.reminders)}
}

// RestoreDurable replaces the reminder stamps with d's.
func (t *Tracker) RestoreDurable(d Durable) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reminders = make(map[string]time.Time, len(d.Reminders))
	maps.Copy(t.reminders, d.Reminders)
}
