package value

// List is a mutable sequence. Mutation follows a single-writer
// discipline: while any borrow is held, further mutable borrows fail with
// a recoverable BorrowError.
type List struct {
	inner *listInner
}

type listInner struct {
	elements []Value
	borrows  int
	mutable  bool
}

func (List) value()           {}
func (List) TypeName() string { return "List" }

// NewList returns a list owning the given elements.
func NewList(elements ...Value) List {
	return List{inner: &listInner{elements: elements}}
}

// Len returns the number of elements.
func (l List) Len() int {
	return len(l.inner.elements)
}

// Items returns a shared borrow of the elements; callers must call the
// release function when done and must not mutate the slice.
func (l List) Items() ([]Value, func(), error) {
	if l.inner.mutable {
		return nil, nil, &BorrowError{TypeName: l.TypeName()}
	}
	l.inner.borrows++
	return l.inner.elements, func() { l.inner.borrows-- }, nil
}

// borrowMut takes the exclusive borrow for the duration of one mutation.
func (l List) borrowMut() (func(), error) {
	if l.inner.borrows > 0 || l.inner.mutable {
		return nil, &BorrowError{TypeName: l.TypeName()}
	}
	l.inner.mutable = true
	return func() { l.inner.mutable = false }, nil
}

// Get returns the element at index i.
func (l List) Get(i int) (Value, error) {
	if i < 0 || i >= len(l.inner.elements) {
		return nil, runtimeErrorf("index %d out of range for list of size %d", i, l.Len())
	}
	return l.inner.elements[i], nil
}

// Set assigns the element at index i.
func (l List) Set(i int, v Value) error {
	release, err := l.borrowMut()
	if err != nil {
		return err
	}
	defer release()
	if i < 0 || i >= len(l.inner.elements) {
		return runtimeErrorf("index %d out of range for list of size %d", i, l.Len())
	}
	l.inner.elements[i] = v
	return nil
}

// Push appends an element.
func (l List) Push(v Value) error {
	release, err := l.borrowMut()
	if err != nil {
		return err
	}
	defer release()
	l.inner.elements = append(l.inner.elements, v)
	return nil
}

// Pop removes and returns the last element.
func (l List) Pop() (Value, error) {
	release, err := l.borrowMut()
	if err != nil {
		return nil, err
	}
	defer release()
	n := len(l.inner.elements)
	if n == 0 {
		return Null{}, nil
	}
	last := l.inner.elements[n-1]
	l.inner.elements = l.inner.elements[:n-1]
	return last, nil
}

func (l List) id() containerID {
	return containerIDFor(l.inner)
}
