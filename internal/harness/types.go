package harness

// Trace event types.
const (
	EventStep   = "step"
	EventCommit = "commit"
	EventUpload = "upload"
)

// TraceEvent is one entry of a scenario trace: a flow step, or a call the
// workers made to the remote document store or blob store.
type TraceEvent struct {
	Seq  int    `json:"seq"`
	Type string `json:"type"` // "step", "commit" or "upload"

	// Action is the step's invoke name, or "commit" / "upload".
	Action string `json:"action"`

	// Args are the step arguments as written in the scenario.
	Args map[string]interface{} `json:"args,omitempty"`

	// Case is the step outcome: "ok"/"error" for edits, the scheduler result for
	// worker passes.
	Case string `json:"case,omitempty"`

	// Writes are the writes of a commit, in batch order.
	Writes []TraceWrite `json:"writes,omitempty"`

	// Path is the remote path of an upload.
	Path string `json:"path,omitempty"`

	Error string `json:"error,omitempty"`
}

// TraceWrite is one write of a commit.
type TraceWrite struct {
	Op   string `json:"op"`
	Path string `json:"path"`
}

// touches reports whether the event names or writes path.
func (e TraceEvent) touches(path string) bool {
	if e.Path == path {
		return true
	}
	for _, w := range e.Writes {
		if w.Path == path {
			return true
		}
	}
	return false
}

// MutationState is the final state of one mutation.
type MutationState struct {
	ID         int64  `json:"id"`
	Type       string `json:"type"`
	Operation  string `json:"operation"`
	EntityID   string `json:"entity_id"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	ErrorCode  string `json:"error_code,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains steps and remote calls in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Mutations is the final mutation queue, ordered by id.
	Mutations []MutationState `json:"mutations"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Mutations: []MutationState{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends e to the trace, assigning the next sequence number.
func (r *Result) AddEvent(e TraceEvent) {
	e.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, e)
}
