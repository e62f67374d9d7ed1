package util

import "fmt"

// FatalError is raised, by panicking, when an invariant of the VM core is violated or the heap is exhausted.
// There is no recovery from a FatalError other than reporting it and terminating.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Msg
}

// Fatalf panics with a FatalError built from the format string.
func Fatalf(format string, args ...interface{}) {
	panic(&FatalError{Msg: fmt.Sprintf(format, args...)})
}

// Check panics with a FatalError if cond is false.
func Check(cond bool, format string, args ...interface{}) {
	if !cond {
		Fatalf(format, args...)
	}
}

// AsFatal returns the FatalError carried by the recovered value r, or <nil> if r is something else.
func AsFatal(r interface{}) *FatalError {
	if fe, ok := r.(*FatalError); ok {
		return fe
	}
	return nil
}
