package ir

// Dialect-neutral scalar function names. Every dialect formatter renders
// all of them; Function nodes with other names are never sent to SQL.
const (
	FuncLower    = "lower"
	FuncUpper    = "upper"
	FuncLength   = "length"
	FuncTrim     = "trim"
	FuncAbs      = "abs"
	FuncCoalesce = "coalesce"
	FuncSubstr   = "substr"
	FuncReplace  = "replace"
)

var knownFunctions = map[string]int{ // name -> arity, -1 variadic
	FuncLower:    1,
	FuncUpper:    1,
	FuncLength:   1,
	FuncTrim:     1,
	FuncAbs:      1,
	FuncCoalesce: -1,
	FuncSubstr:   3,
	FuncReplace:  3,
}

// IsKnownFunction reports whether name is a function every dialect renders.
func IsKnownFunction(name string) bool {
	_, ok := knownFunctions[name]
	return ok
}

// FunctionArity returns the argument count of a known function, -1 for
// variadic ones.
func FunctionArity(name string) (int, bool) {
	n, ok := knownFunctions[name]
	return n, ok
}
