package value

// Str is an immutable string with shared backing storage; substrings are
// views onto the same bytes.
type Str struct {
	data  *string
	start int
	end   int
}

func (Str) value()           {}
func (Str) TypeName() string { return "String" }

// NewStr returns a string value over its own storage.
func NewStr(s string) Str {
	return Str{data: &s, end: len(s)}
}

// String returns the viewed bytes.
func (s Str) String() string {
	if s.data == nil {
		return ""
	}
	return (*s.data)[s.start:s.end]
}

// Len returns the byte length of the view.
func (s Str) Len() int {
	return s.end - s.start
}

// Sub returns a view of the bytes in [start, end), relative to this view.
// The backing storage is shared, never copied. Returns false when the
// bounds are out of range.
func (s Str) Sub(start, end int) (Str, bool) {
	if start < 0 || end < start || s.start+end > s.end {
		return Str{}, false
	}
	return Str{data: s.data, start: s.start + start, end: s.start + end}, true
}
