// Package syncer pushes completed attendance records to the remote store.
//
// The Engine is stateless across runs: every run re-reads eligibility from
// the record store, creates a remote document for records that have never
// been accepted and updates the ones that have. A failed call leaves the
// record untouched; the Scheduler re-invokes the engine with exponential
// backoff and on a fixed period.
package syncer
