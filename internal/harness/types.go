package harness

// Command is a query compiled for one dialect.
type Command struct {
	Dialect string `json:"dialect"`
	SQL     string `json:"sql"`
	Params  []any  `json:"params"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every assertion held.
	Pass bool `json:"pass"`

	// Commands holds the compiled query per dialect, in scenario order.
	Commands []Command `json:"commands,omitempty"`

	// Rows holds the rows of a sequence query, as plain data.
	Rows []any `json:"rows,omitempty"`

	// Value holds the result of a single-value query.
	Value any `json:"value,omitempty"`

	// Executed reports whether the query ran against the database.
	Executed bool `json:"executed"`

	// Error is the compile or execution error, empty when none.
	Error string `json:"error,omitempty"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Command returns the command compiled for dialect; an empty dialect
// selects the first.
func (r *Result) Command(dialect string) (Command, bool) {
	for _, c := range r.Commands {
		if dialect == "" || c.Dialect == dialect {
			return c, true
		}
	}
	return Command{}, false
}
