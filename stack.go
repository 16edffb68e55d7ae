package ogórek

// stack is the unpickler operand stack together with the stack of marks.
//
// Marks are kept aside as positions into data. The innermost mark is the
// fence: items below it are not reachable by pop until the mark is consumed.
type stack struct {
	data  []any
	marks []int
	fence int
}

func (s *stack) reset() {
	clear(s.data)
	s.data = s.data[:0]
	s.marks = s.marks[:0]
	s.fence = 0
}

func (s *stack) len() int {
	return len(s.data)
}

func (s *stack) push(v any) {
	s.data = append(s.data, v)
}

// underflow returns the error for an attempt to go below the fence.
func (s *stack) underflow() error {
	if len(s.marks) > 0 {
		return ErrUnexpectedMark
	}
	return ErrStackUnderflow
}

func (s *stack) pop() (any, error) {
	n := len(s.data)
	if n <= s.fence {
		return nil, s.underflow()
	}
	v := s.data[n-1]
	s.data[n-1] = nil
	s.data = s.data[:n-1]
	return v, nil
}

// top returns topmost stack item without removing it.
func (s *stack) top() (any, error) {
	n := len(s.data)
	if n <= s.fence {
		return nil, s.underflow()
	}
	return s.data[n-1], nil
}

// setTop replaces topmost stack item. The stack must be not empty.
func (s *stack) setTop(v any) {
	s.data[len(s.data)-1] = v
}

// popN pops n topmost items.
//
// The returned slice is a copy and does not alias the stack.
func (s *stack) popN(n int) ([]any, error) {
	k := len(s.data) - n
	if k < s.fence {
		return nil, s.underflow()
	}
	return s.drainFrom(k), nil
}

func (s *stack) pushMark() {
	s.marks = append(s.marks, len(s.data))
	s.fence = len(s.data)
}

// popMark consumes the innermost mark and returns its position.
func (s *stack) popMark() (int, error) {
	n := len(s.marks)
	if n == 0 {
		return 0, ErrNoMark
	}
	k := s.marks[n-1]
	s.marks = s.marks[:n-1]
	s.fence = 0
	if n > 1 {
		s.fence = s.marks[n-2]
	}
	return k, nil
}

// popOrUnmark implements POP: it discards the innermost mark if nothing was
// pushed after it, and the topmost item otherwise.
func (s *stack) popOrUnmark() error {
	if n := len(s.marks); n > 0 && s.marks[n-1] == len(s.data) {
		_, err := s.popMark()
		return err
	}
	_, err := s.pop()
	return err
}

// drainFrom removes items [k:] from the stack and returns them.
func (s *stack) drainFrom(k int) []any {
	items := make([]any, len(s.data)-k)
	copy(items, s.data[k:])
	s.truncate(k)
	return items
}

// truncate drops items [k:].
func (s *stack) truncate(k int) {
	clear(s.data[k:])
	s.data = s.data[:k]
}

// at returns item at absolute position k.
func (s *stack) at(k int) any {
	return s.data[k]
}
