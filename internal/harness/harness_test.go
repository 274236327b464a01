package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/ir"
)

func loadFixture(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_Fixtures(t *testing.T) {
	for _, name := range []string{"burst_collapses", "reminder_during_outage", "cancelled_burst"} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(loadFixture(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_BurstCollapses(t *testing.T) {
	result, err := Run(loadFixture(t, "burst_collapses"))
	require.NoError(t, err)

	require.Len(t, result.Trace, 1)
	ev := result.Trace[0]
	assert.Equal(t, int64(1), ev.Seq)
	assert.Equal(t, int64(11000), ev.Offset)
	assert.Equal(t, "change", ev.Kind)

	change := ev.raw.(ir.ChangeEvent)
	require.Len(t, change.Changes, 1)
	assert.Equal(t, ir.IRInt(0), change.Changes[0].Before)
	assert.Equal(t, ir.IRInt(80), change.Changes[0].After)

	assert.Equal(t, 21, result.State.Ticks)
}

func TestRun_DefaultsAndFailingAssertions(t *testing.T) {
	s := &Scenario{
		Name:        "defaults",
		Description: "default config, default tick",
		Duration:    "3s",
		Timeline:    []Step{{At: "0s", Resource: map[string]any{"a": 1}}},
		Assertions: []Assertion{
			{Type: AssertEventCount, Count: 1},
			{Type: AssertFinalState, State: "pending"},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "Expected: 1 any events")
	assert.Contains(t, result.Errors[1], "Actual: tracker synced")
	assert.Equal(t, 4, result.State.Ticks, "default tick is the tracker interval")
}

func TestRun_TickFinerThanInterval(t *testing.T) {
	s := &Scenario{
		Name:        "fine",
		Description: "ticks are gated by the tracker interval",
		Duration:    "2s",
		Tick:        "250ms",
		Timeline:    []Step{{At: "0s", Resource: map[string]any{}}},
		Assertions:  []Assertion{{Type: AssertEventCount}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.Equal(t, 3, result.State.Ticks)
}

func TestRun_InvalidConfig(t *testing.T) {
	s := &Scenario{
		Name:        "bad_config",
		Description: "quiet period shorter than fetch interval",
		Duration:    "1s",
		Config:      map[string]any{"quiet_period": "1s", "fetch_interval": "2s"},
		Timeline:    []Step{{At: "0s", Resource: map[string]any{}}},
		Assertions:  []Assertion{{Type: AssertEventCount}},
	}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config")
}

func TestRun_FloatResourceRejected(t *testing.T) {
	s := &Scenario{
		Name:        "float",
		Description: "floats are not IR values",
		Duration:    "1s",
		Timeline:    []Step{{At: "0s", Resource: map[string]any{"ratio": 0.5}}},
		Assertions:  []Assertion{{Type: AssertEventCount}},
	}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeline[0]")
}
