package harness

// TraceEvent is one step of a scenario run.
//
// A poll step that emits nothing still produces one event with outcome
// "no_event"; every other step produces exactly one.
type TraceEvent struct {
	Seq     int64          `json:"seq"`
	Action  string         `json:"action"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome"`
	Record  int64          `json:"record,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State summarizes the final store and collaborator state.
	State map[string]any `json:"state,omitempty"`

	// Records is every record in the store, newest first, in the shape
	// used by record assertions.
	Records []map[string]any `json:"records,omitempty"`

	// Notifications is the title of every notification posted, in order.
	Notifications []string `json:"notifications,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace and returns it.
func (r *Result) AddTrace(action string, args map[string]any, outcome string, record int64) TraceEvent {
	ev := TraceEvent{
		Seq:     int64(len(r.Trace) + 1),
		Action:  action,
		Args:    args,
		Outcome: outcome,
		Record:  record,
	}
	r.Trace = append(r.Trace, ev)
	return ev
}

// Record returns the record with the given id.
func (r *Result) Record(id int64) (map[string]any, bool) {
	for _, rec := range r.Records {
		if rec["id"] == id {
			return rec, true
		}
	}
	return nil, false
}
