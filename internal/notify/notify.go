// Package notify delivers user-facing notifications.
//
// The core emits a handful of notifications (check-in confirmed, session
// paused, trusted network seen outside the zone, recovery started). Where
// they end up is platform-specific; this package ships a structured-log
// backend and a discarding one.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Notifier posts a notification. Delivery failures are not reported; a
// notification is best effort.
type Notifier interface {
	Notify(ctx context.Context, title, body string)
}

// Titles used by the core.
const (
	TitleCheckedIn       = "Checked in"
	TitleCheckedOut      = "Checked out"
	TitleSessionPaused   = "Session paused"
	TitleTrustedOutside  = "Trusted network outside zone"
	TitleRecovering      = "Recovering your session after restart"
	TitleCheckInRejected = "Check-in rejected"
	TitlePermissionLost  = "Location permission lost"
)

// Logger writes notifications to a slog.Logger.
type Logger struct {
	log *slog.Logger
}

// NewLogger returns a Notifier backed by l. A nil l uses slog.Default().
func NewLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{log: l}
}

func (n *Logger) Notify(ctx context.Context, title, body string) {
	n.log.InfoContext(ctx, "notification", "title", title, "body", body)
}

// Discard drops every notification.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(context.Context, string, string) {}

// Message is a delivered notification.
type Message struct {
	Title string
	Body  string
}

// Recorder keeps notifications in memory. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Notify(_ context.Context, title, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, Message{Title: title, Body: body})
}

// Messages returns a copy of the recorded notifications.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// Titles returns the recorded titles in delivery order.
func (r *Recorder) Titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Title
	}
	return out
}
