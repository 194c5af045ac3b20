package querysql

import (
	"database/sql"

	"github.com/google/uuid"
)

// Direction says which way a parameter's value flows.
type Direction int

const (
	// Input values are sent with the command.
	Input Direction = iota
	// Output values are read back after execution.
	Output
	// InputOutput values are sent and read back.
	InputOutput
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	case InputOutput:
		return "input_output"
	default:
		return "unknown"
	}
}

// Parameter is one bound value of a command.
type Parameter struct {
	Name        string
	Value       any
	Direction   Direction
	StorageType string
}

// Variable is a value the storage produces while executing a command,
// such as a generated identity. Member names the entity member it is
// written back to.
type Variable struct {
	Name        string
	Member      string
	Direction   Direction
	StorageType string
}

// Command is formatted SQL ready for a storage connection.
//
// Parameters are ordered by first appearance in Text and their names are
// unique. Named reports whether Text references parameters by name (@p0)
// rather than by position ($1, ?).
type Command struct {
	ID         uuid.UUID
	Text       string
	Parameters []Parameter
	Variables  []Variable
	Named      bool

	// Returning reports whether executing Text yields a row holding the
	// Variables.
	Returning bool
}

// Args returns the parameter values in the form database/sql expects.
func (c *Command) Args() []any {
	args := make([]any, len(c.Parameters))
	for i, p := range c.Parameters {
		if c.Named {
			args[i] = sql.Named(p.Name, p.Value)
		} else {
			args[i] = p.Value
		}
	}
	return args
}

func newCommandID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
