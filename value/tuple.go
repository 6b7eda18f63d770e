package value

import "math"

// Tuple is an immutable sequence with shared backing storage. Three
// internal forms mirror how much bookkeeping a view needs: the whole
// vector, a slice with full-width bounds, or a slice whose bounds fit in
// 16 bits. Slicing picks the smallest form that fits and never copies or
// mutates the shared elements.
type Tuple struct {
	inner tupleInner
}

type tupleInner interface {
	bounds() (start, end int)
	data() *[]Value
}

type tupleFull struct {
	elements *[]Value
}

func (t tupleFull) bounds() (int, int) { return 0, len(*t.elements) }
func (t tupleFull) data() *[]Value     { return t.elements }

type tupleSlice struct {
	elements *[]Value
	start    int
	end      int
}

func (t tupleSlice) bounds() (int, int) { return t.start, t.end }
func (t tupleSlice) data() *[]Value     { return t.elements }

type tupleSlice16 struct {
	elements *[]Value
	start    uint16
	end      uint16
}

func (t tupleSlice16) bounds() (int, int) { return int(t.start), int(t.end) }
func (t tupleSlice16) data() *[]Value     { return t.elements }

func (Tuple) value()           {}
func (Tuple) TypeName() string { return "Tuple" }

// NewTuple returns a tuple owning the given elements.
func NewTuple(elements ...Value) Tuple {
	return Tuple{inner: tupleFull{elements: &elements}}
}

func makeSlice(data *[]Value, start, end int) Tuple {
	if end <= math.MaxUint16 {
		return Tuple{inner: tupleSlice16{
			elements: data,
			start:    uint16(start),
			end:      uint16(end),
		}}
	}
	return Tuple{inner: tupleSlice{elements: data, start: start, end: end}}
}

// Len returns the number of viewed elements.
func (t Tuple) Len() int {
	if t.inner == nil {
		return 0
	}
	start, end := t.inner.bounds()
	return end - start
}

// Get returns the element at index i within the view.
func (t Tuple) Get(i int) (Value, bool) {
	if t.inner == nil || i < 0 || i >= t.Len() {
		return nil, false
	}
	start, _ := t.inner.bounds()
	return (*t.inner.data())[start+i], true
}

// Items returns the viewed elements; callers must not mutate the result.
func (t Tuple) Items() []Value {
	if t.inner == nil {
		return nil
	}
	start, end := t.inner.bounds()
	return (*t.inner.data())[start:end]
}

// Sub returns a view of the elements in [start, end), relative to this
// view. Bounds compose: sub-slicing a slice offsets into the original
// storage. Returns false when the bounds are out of range.
func (t Tuple) Sub(start, end int) (Tuple, bool) {
	if t.inner == nil {
		if start == 0 && end == 0 {
			return NewTuple(), true
		}
		return Tuple{}, false
	}

	viewStart, viewEnd := t.inner.bounds()
	newStart := viewStart + start
	newEnd := viewStart + end
	if start < 0 || end < start || newEnd > viewEnd {
		return Tuple{}, false
	}
	return makeSlice(t.inner.data(), newStart, newEnd), true
}

// PopFront removes and returns the first viewed element, narrowing the
// view in place.
func (t *Tuple) PopFront() (Value, bool) {
	first, ok := t.Get(0)
	if !ok {
		return nil, false
	}
	start, end := t.inner.bounds()
	*t = makeSlice(t.inner.data(), start+1, end)
	return first, true
}

// PopBack removes and returns the last viewed element, narrowing the view
// in place.
func (t *Tuple) PopBack() (Value, bool) {
	last, ok := t.Get(t.Len() - 1)
	if !ok {
		return nil, false
	}
	start, end := t.inner.bounds()
	*t = makeSlice(t.inner.data(), start, end-1)
	return last, true
}

// id returns the identity of the shared storage, for cycle detection.
func (t Tuple) id() containerID {
	if t.inner == nil {
		return 0
	}
	return containerIDFor(t.inner.data())
}
