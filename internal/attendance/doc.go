// Package attendance defines the shared domain types for geoattend.
//
// The package is dependency-free with respect to the rest of the module:
// the store, state machine, recovery procedure and synchronization engine
// all speak in terms of these types.
//
// # Invariants carried by the types
//
//   - A Record is active iff CheckOutTime is nil. Completed is derived from
//     CheckOutTime and is never stored independently.
//   - A Record is eligible for synchronization iff it is completed and not
//     yet synced.
//   - RemoteID is assigned once by the remote store and never changes.
//
// Remote documents are produced with canonical JSON (sorted keys, NFC
// normalized strings, no floats, no nulls) so that the content hash of a
// record is stable across processes and restarts.
package attendance
