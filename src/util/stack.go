// stack.go provides a slice backed stack that holds elements of any type.
// The bottom element is the first entry into the stack, while the top is
// the last entry to be added to the stack. A Stack is not safe for use by
// multiple go routines; worker threads keep one stack each.

package util

// Stack is a last-in first-out worklist.
type Stack[T any] struct {
	elements []T
}

// NewStack returns a stack with room for n elements before it needs to grow.
func NewStack[T any](n int) *Stack[T] {
	return &Stack[T]{elements: make([]T, 0, n)}
}

// Push adds a new element to the top of the stack.
func (s *Stack[T]) Push(e T) {
	s.elements = append(s.elements, e)
}

// Pop removes and returns the last inserted element on the stack.
// The second return value is false if the stack is empty.
func (s *Stack[T]) Pop() (T, bool) {
	var zero T
	if len(s.elements) == 0 {
		return zero, false
	}
	e := s.elements[len(s.elements)-1]
	s.elements[len(s.elements)-1] = zero
	s.elements = s.elements[:len(s.elements)-1]
	return e, true
}

// Size returns the number of elements in the stack.
func (s *Stack[T]) Size() int {
	return len(s.elements)
}

// Reset empties the stack but keeps its capacity.
func (s *Stack[T]) Reset() {
	var zero T
	for i1 := range s.elements {
		s.elements[i1] = zero
	}
	s.elements = s.elements[:0]
}
