package value

// Map is a mutable, insertion-ordered map with string keys. It doubles as
// the prelude surface: hosts install named functions and values with
// AddFn and Insert.
type Map struct {
	inner *mapInner
}

type mapInner struct {
	keys    []string
	entries map[string]Value
	borrows int
	mutable bool
}

func (Map) value()           {}
func (Map) TypeName() string { return "Map" }

// NewMap returns an empty map.
func NewMap() Map {
	return Map{inner: &mapInner{entries: make(map[string]Value)}}
}

// Len returns the number of entries.
func (m Map) Len() int {
	return len(m.inner.keys)
}

// Keys returns the keys in insertion order; callers must not mutate the
// result.
func (m Map) Keys() []string {
	return m.inner.keys
}

// Get returns the value stored under key.
func (m Map) Get(key string) (Value, bool) {
	v, ok := m.inner.entries[key]
	return v, ok
}

func (m Map) borrowMut() (func(), error) {
	if m.inner.borrows > 0 || m.inner.mutable {
		return nil, &BorrowError{TypeName: m.TypeName()}
	}
	m.inner.mutable = true
	return func() { m.inner.mutable = false }, nil
}

// borrow takes a shared borrow for the duration of an iteration.
func (m Map) borrow() (func(), error) {
	if m.inner.mutable {
		return nil, &BorrowError{TypeName: m.TypeName()}
	}
	m.inner.borrows++
	return func() { m.inner.borrows-- }, nil
}

// Insert stores a value under key, preserving the key's insertion
// position on overwrite.
func (m Map) Insert(key string, v Value) error {
	release, err := m.borrowMut()
	if err != nil {
		return err
	}
	defer release()
	if _, exists := m.inner.entries[key]; !exists {
		m.inner.keys = append(m.inner.keys, key)
	}
	m.inner.entries[key] = v
	return nil
}

// AddFn installs a host function under the given name.
func (m Map) AddFn(name string, fn NativeFn) error {
	return m.Insert(name, NewFunction(name, fn))
}

// Remove deletes a key, returning its value.
func (m Map) Remove(key string) (Value, error) {
	release, err := m.borrowMut()
	if err != nil {
		return nil, err
	}
	defer release()
	v, ok := m.inner.entries[key]
	if !ok {
		return Null{}, nil
	}
	delete(m.inner.entries, key)
	for i, k := range m.inner.keys {
		if k == key {
			m.inner.keys = append(m.inner.keys[:i], m.inner.keys[i+1:]...)
			break
		}
	}
	return v, nil
}

func (m Map) id() containerID {
	return containerIDFor(m.inner)
}
