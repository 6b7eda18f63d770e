package value

// Copy returns a value sharing no mutable state with v at the top level:
// lists and maps get a fresh spine while their contained values are
// shared. Immutable values are returned as-is. Host objects choose
// between by-reference (the default) and by-value copies.
func Copy(v Value) Value {
	return copyValue(v, false)
}

// DeepCopy applies Copy recursively through lists, maps, and tuples.
func DeepCopy(v Value) Value {
	return copyValue(v, true)
}

func copyValue(v Value, deep bool) Value {
	switch v := v.(type) {
	case List:
		elements := make([]Value, len(v.inner.elements))
		copy(elements, v.inner.elements)
		if deep {
			for i, element := range elements {
				elements[i] = copyValue(element, true)
			}
		}
		return NewList(elements...)
	case Map:
		result := NewMap()
		for _, key := range v.Keys() {
			entry, _ := v.Get(key)
			if deep {
				entry = copyValue(entry, true)
			}
			// The copy is freshly owned, inserts cannot fail
			_ = result.Insert(key, entry)
		}
		return result
	case Tuple:
		if deep {
			items := v.Items()
			elements := make([]Value, len(items))
			for i, item := range items {
				elements[i] = copyValue(item, true)
			}
			return NewTuple(elements...)
		}
		return v
	case Object:
		if copyable, ok := v.Host.(Copyable); ok && copyable.CopyBehavior() == CopyByValue {
			return Object{Host: copyable.Copy()}
		}
		return v
	}
	return v
}
