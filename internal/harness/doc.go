// Package harness runs change-tracker scenarios as conformance tests.
//
// A scenario is a timeline for one entity: what the data source returns
// at each point, optional calendar rules, and assertions about the events
// the tracker emitted. The harness drives a real tracker.Tracker with a
// fake clock, so runs are deterministic and traces can be compared against
// golden files.
//
// # Scenario Format
//
//	name: burst_collapses
//	description: "Three edits inside the quiet period flush once"
//	entity: u1
//	start: 2024-03-01T08:00:00Z
//	duration: 20s
//	tick: 1s
//	config:
//	  fetch_interval: 1s
//	  quiet_period: 10s
//	  startup_freeze: 0s
//	timeline:
//	  - at: 0s
//	    resource: {balance: 0}
//	  - at: 2s
//	    resource: {balance: 100}
//	  - at: 4s
//	    fail: true
//	assertions:
//	  - type: event_count
//	    kind: change
//	    count: 1
//	  - type: change_paths
//	    paths: [balance]
//	  - type: final_state
//	    state: synced
//
// The config block accepts any field of the cadence configuration file
// and is validated the same way.
//
// # Assertion Types
//
//   - event_count: exactly count events of kind (any kind when empty)
//   - change_paths: some change event touched exactly these paths
//   - reminder_fired: rule fired, optionally at a given offset
//   - event_order: kinds appear in this order (gaps allowed)
//   - final_state: the tracker ends in state, optionally with
//     fetch_failures failed fetches
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/burst.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
package harness
