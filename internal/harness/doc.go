// Package harness runs multi-device sync scenarios.
//
// A scenario declares a set of simulated devices, an in-process relay and a
// flow of steps: devices write records, sync, rebuild and verify. After the
// flow, assertions check materialized state and stream status, and the
// trace of step outcomes can be compared against a golden snapshot.
//
// # Scenario Format
//
//	name: two_devices_converge
//	description: "B receives everything A wrote"
//	relay:
//	  max_record_size: 0
//	  page_size: 2
//	devices:
//	  - name: a
//	  - name: b
//	flow:
//	  - device: a
//	    do: history.add
//	    args: { command: "ls" }
//	  - device: b
//	    do: sync
//	    expect: { downloaded: 1 }
//	assertions:
//	  - type: history_count
//	    device: b
//	    count: 1
//	  - type: status_match
//	    devices: [a, b]
//
// # Steps
//
//   - history.add, history.delete, alias.set, alias.delete, kv.set, kv.delete:
//     append an operation to the device's own stream
//   - raw: append a record with an arbitrary tag, version and payload size
//   - sync, push, pull: run a pass against the relay and apply pulled history
//   - rebuild: recompute a tag's materialized state
//   - purge, verify: maintenance under the device's current key
//
// # Deterministic Testing
//
// Host ids, record ids and timestamps come from testutil generators, so a
// scenario produces the same trace on every run.
package harness
