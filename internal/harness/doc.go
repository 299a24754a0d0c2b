// Package harness runs attendance scenarios against the real components.
//
// A scenario seeds a fresh in-memory record store, then drives the session
// manager, the recovery procedure, the geofencer and the sync engine through
// a list of steps. The outside world is scripted: device position and
// location permission come from a fake probe, the network identity from a
// fake identity source, and the remote store is an in-memory fake with
// deterministic ids (remote-1, remote-2, ...).
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	zone: { id: office, label: HQ, lat: 28.720126, lon: 77.0822006, radius_m: 150 }
//	user_id: alice
//	trusted_networks:
//	  - { ssid: Office, bssid: 4a:ce:45:52:b8:5c }
//	recovery: { on_probe_failure: close, on_empty_store: check_in }
//	setup:
//	  - { user_id: alice, checked_in: 2h, checked_out: 1h }
//	steps:
//	  - { action: move, north_m: 50 }
//	  - { action: poll, expect: created }
//	  - { action: event, kind: zone_exit, expect: closed }
//	assertions:
//	  - { type: trace_order, outcomes: [created, closed] }
//	  - { type: record, record: 1, expect: { completed: true, remote_id: null } }
//	  - { type: final_state, expect: { active_records: 0, sync_requests: 1 } }
//
// # Steps
//
//   - event: hand an event of kind to the session manager
//   - poll: sample the geofencer once and handle what it emits
//   - recover: run the recovery procedure
//   - sync: run the sync engine once
//   - move: place the device north_m/east_m from the zone center; fix selects
//     last_known, fresh_only, timeout or denied
//   - network: associate with network, or disassociate when it is omitted
//   - remote: make the remote store fail or recover
//   - advance: move the clock forward by duration
//   - restart: rebuild every in-process component over the same store
//
// Steps that produce an outcome (event, poll, recover, sync) may name the
// expected outcome in expect.
//
// # Assertion Types
//
//   - trace_contains: a step with action (and outcome) ran
//   - trace_order: outcomes appear in the specified order
//   - trace_count: a step with action (and outcome) ran exactly count times
//   - final_state: subset match against the state summary (records,
//     active_records, sync_requests, remote_creates, remote_updates,
//     remote_docs, tracking, tracker_starts, tracker_stops, restarts)
//   - record: subset match against one record; null asserts absence
//   - notified: a notification with title was posted
//
// # Deterministic Testing
//
// The clock starts at ScenarioStart and only moves on advance steps, so
// traces are identical across runs and can be compared against golden files
// with RunWithGolden.
package harness
