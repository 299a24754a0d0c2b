// Package session implements the attendance session state machine.
//
// The Manager turns presence events (zone enter/exit, manual check-in,
// permission loss) into record store transitions. It never caches session
// state: every event re-reads the active record under a per-user lock, and
// the store's one-active-record unique index guards against writers in
// other processes.
//
// The Dispatcher is a single-writer event loop in front of the Manager.
// Presence sources enqueue from any goroutine; events are handled in FIFO
// order and failures are logged without stopping the loop.
package session
