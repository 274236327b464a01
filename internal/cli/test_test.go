package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"

func TestTestCommand_HarnessScenarios(t *testing.T) {
	stdout, _, err := execute(t, context.Background(), "test", harnessScenarios)
	require.NoError(t, err, stdout)
	assert.Contains(t, stdout, "PASS burst_collapses")
	assert.Contains(t, stdout, "PASS reminder_during_outage")
	assert.Contains(t, stdout, "0 failed")
}

func TestTestCommand_Filter(t *testing.T) {
	stdout, _, err := execute(t, context.Background(), "--format", "json", "test", harnessScenarios, "--filter", "burst*")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, "burst_collapses", resp.Data.Scenarios[0].Name)
}

func TestTestCommand_UpdateWritesGolden(t *testing.T) {
	golden := t.TempDir()
	_, _, err := execute(t, context.Background(), "test", harnessScenarios, "--filter", "burst*", "--golden", golden, "--update")
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(golden, "burst_collapses.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile("../harness/testdata/golden/burst_collapses.golden")
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	golden := t.TempDir()
	writeFile(t, golden, "burst_collapses.golden", `{"stale":true}`)

	stdout, _, err := execute(t, context.Background(), "test", harnessScenarios, "--filter", "burst*", "--golden", golden)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "FAIL burst_collapses")
	assert.Contains(t, stdout, "does not match golden file")
}

func TestTestCommand_FailingAssertion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "scenarios/quiet.yaml", `name: quiet
description: A single fetch never flushes three changes
duration: 5s
timeline:
  - at: 0s
    resource: {balance: 1}
assertions:
  - type: event_count
    kind: change
    count: 3
`)

	stdout, _, err := execute(t, context.Background(), "test", filepath.Join(dir, "scenarios"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "FAIL quiet")
	assert.Contains(t, stdout, "1 failed")
}

func TestTestCommand_LoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: [unterminated\n")

	stdout, _, err := execute(t, context.Background(), "test", dir)
	require.Error(t, err)
	assert.Contains(t, stdout, "FAIL broken.yaml")
	assert.Contains(t, stdout, "E005")
}

func TestTestCommand_NoScenarios(t *testing.T) {
	stdout, _, err := execute(t, context.Background(), "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, stdout, "No scenarios found.")
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, _, err := execute(t, context.Background(), "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
