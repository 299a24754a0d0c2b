package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/geoattend/internal/attendance"
)

// ErrRemoteDown is returned by Remote while failing is enabled.
var ErrRemoteDown = errors.New("remote unavailable")

// Identity is a settable network identity source.
type Identity struct {
	mu  sync.Mutex
	id  attendance.NetworkIdentity
	err error
}

// NewIdentity returns a source reporting id.
func NewIdentity(id attendance.NetworkIdentity) *Identity {
	return &Identity{id: id}
}

func (f *Identity) Current(context.Context) (attendance.NetworkIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id, f.err
}

// Set changes the reported identity and clears any error.
func (f *Identity) Set(id attendance.NetworkIdentity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id = id
	f.err = nil
}

// Fail makes Current return err.
func (f *Identity) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// ProbeMode controls how Probe answers.
type ProbeMode int

const (
	// ProbeLastKnown answers LastKnown with the configured position.
	ProbeLastKnown ProbeMode = iota
	// ProbeFreshOnly has no last-known fix; Fresh answers.
	ProbeFreshOnly
	// ProbeTimeout has no last-known fix; Fresh blocks until ctx is done.
	ProbeTimeout
	// ProbeDenied fails every call with a permission error.
	ProbeDenied
)

// Probe is a scripted location probe.
type Probe struct {
	mu         sync.Mutex
	mode       ProbeMode
	pos        attendance.Coordinate
	lastCalls  int
	freshCalls int
}

// NewProbe returns a probe reporting pos as its last-known fix.
func NewProbe(pos attendance.Coordinate) *Probe {
	return &Probe{pos: pos}
}

// Set changes the position and mode.
func (p *Probe) Set(mode ProbeMode, pos attendance.Coordinate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
	p.pos = pos
}

func (p *Probe) LastKnown(context.Context) (attendance.Coordinate, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCalls++
	switch p.mode {
	case ProbeLastKnown:
		return p.pos, true, nil
	case ProbeDenied:
		return attendance.Coordinate{}, false, attendance.NewError(attendance.ErrCodePermissionDenied, "probe.last_known", "location permission revoked")
	default:
		return attendance.Coordinate{}, false, nil
	}
}

func (p *Probe) Fresh(ctx context.Context) (attendance.Coordinate, error) {
	p.mu.Lock()
	p.freshCalls++
	mode, pos := p.mode, p.pos
	p.mu.Unlock()

	switch mode {
	case ProbeDenied:
		return attendance.Coordinate{}, attendance.NewError(attendance.ErrCodePermissionDenied, "probe.fresh", "location permission revoked")
	case ProbeTimeout:
		<-ctx.Done()
		return attendance.Coordinate{}, attendance.WrapError(attendance.ErrCodeProbeTimeout, "probe.fresh", ctx.Err())
	default:
		return pos, nil
	}
}

// Calls returns how often LastKnown and Fresh were called.
func (p *Probe) Calls() (lastKnown, fresh int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCalls, p.freshCalls
}

// Tracker records Start/Stop calls.
type Tracker struct {
	mu      sync.Mutex
	running bool
	record  int64
	starts  int
	stops   int
	err     error
}

func (t *Tracker) Start(_ context.Context, rec attendance.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.starts++
	t.running = true
	t.record = rec.ID
	return nil
}

func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	t.running = false
	t.record = 0
}

// FailStart makes Start return err.
func (t *Tracker) FailStart(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// Running reports whether tracking is on and for which record.
func (t *Tracker) Running() (bool, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running, t.record
}

// Counts returns the number of Start and Stop calls.
func (t *Tracker) Counts() (starts, stops int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.starts, t.stops
}

// Enqueuer records sync requests.
type Enqueuer struct {
	mu      sync.Mutex
	reasons []string
}

func (e *Enqueuer) Enqueue(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reasons = append(e.reasons, reason)
}

// Reasons returns the recorded requests in order.
func (e *Enqueuer) Reasons() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.reasons))
	copy(out, e.reasons)
	return out
}

// Monitor records re-arm requests.
type Monitor struct {
	mu    sync.Mutex
	zones []attendance.Zone
	err   error
}

func (m *Monitor) Rearm(_ context.Context, z attendance.Zone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.zones = append(m.zones, z)
	return nil
}

// Fail makes Rearm return err.
func (m *Monitor) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Armed returns the zones passed to successful Rearm calls.
func (m *Monitor) Armed() []attendance.Zone {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]attendance.Zone, len(m.zones))
	copy(out, m.zones)
	return out
}

// Remote is an in-memory remote store client with deterministic ids
// (remote-1, remote-2, ...).
type Remote struct {
	mu      sync.Mutex
	docs    map[string]map[string]any
	next    int
	creates int
	updates int
	failing bool
}

// NewRemote creates an empty remote.
func NewRemote() *Remote {
	return &Remote{docs: make(map[string]map[string]any)}
}

func (r *Remote) Create(_ context.Context, collection string, fields map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.failing {
		return "", ErrRemoteDown
	}
	r.next++
	id := fmt.Sprintf("remote-%d", r.next)
	r.docs[collection+"/"+id] = fields
	return id, nil
}

func (r *Remote) Update(_ context.Context, collection, id string, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	if r.failing {
		return ErrRemoteDown
	}
	r.docs[collection+"/"+id] = fields
	return nil
}

// SetFailing toggles transient failure of every call.
func (r *Remote) SetFailing(failing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = failing
}

// Calls returns the number of Create and Update attempts, failed ones included.
func (r *Remote) Calls() (creates, updates int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creates, r.updates
}

// Document returns the stored fields for collection/id.
func (r *Remote) Document(collection, id string) (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[collection+"/"+id]
	return doc, ok
}

// Len returns the number of stored documents.
func (r *Remote) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}
