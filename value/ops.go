package value

import "math"

// BinaryOp applies an arithmetic operation, dispatching to host objects
// on either side; the right operand sees the reversed form.
func BinaryOp(op BinaryOpKind, lhs, rhs Value) (Value, error) {
	switch l := lhs.(type) {
	case Number:
		if r, ok := rhs.(Number); ok {
			return numberOp(op, l, r)
		}
	case Str:
		if r, ok := rhs.(Str); ok && op == OpAdd {
			return NewStr(l.String() + r.String()), nil
		}
	case List:
		if r, ok := rhs.(List); ok && op == OpAdd {
			return concatLists(l, r)
		}
	case Tuple:
		if r, ok := rhs.(Tuple); ok && op == OpAdd {
			joined := append(append([]Value{}, l.Items()...), r.Items()...)
			return NewTuple(joined...), nil
		}
	case Object:
		if arith, ok := l.Host.(Arithmetic); ok {
			return arith.BinaryOp(op, rhs, false)
		}
		return nil, unsupportedError(opName(op), lhs)
	}

	if obj, ok := rhs.(Object); ok {
		if arith, ok := obj.Host.(Arithmetic); ok {
			return arith.BinaryOp(op, lhs, true)
		}
		return nil, unsupportedError(opName(op), rhs)
	}
	return nil, unsupportedError(opName(op), lhs)
}

func opName(op BinaryOpKind) string {
	switch op {
	case OpAdd, OpAddAssign:
		return "addition"
	case OpSubtract, OpSubtractAssign:
		return "subtraction"
	case OpMultiply, OpMultiplyAssign:
		return "multiplication"
	case OpDivide, OpDivideAssign:
		return "division"
	case OpRemainder, OpRemainderAssign:
		return "remainder"
	case OpPower:
		return "exponentiation"
	}
	return "the operation"
}

func numberOp(op BinaryOpKind, l, r Number) (Value, error) {
	if l.IsFloat() || r.IsFloat() || op == OpDivide || op == OpDivideAssign || op == OpPower {
		a, b := l.AsFloat(), r.AsFloat()
		switch op {
		case OpAdd, OpAddAssign:
			return NumberFromFloat(a + b), nil
		case OpSubtract, OpSubtractAssign:
			return NumberFromFloat(a - b), nil
		case OpMultiply, OpMultiplyAssign:
			return NumberFromFloat(a * b), nil
		case OpDivide, OpDivideAssign:
			return NumberFromFloat(a / b), nil
		case OpRemainder, OpRemainderAssign:
			return NumberFromFloat(math.Mod(a, b)), nil
		case OpPower:
			return NumberFromFloat(math.Pow(a, b)), nil
		}
	}

	a, b := l.AsInt(), r.AsInt()
	switch op {
	case OpAdd, OpAddAssign:
		return NumberFromInt(a + b), nil
	case OpSubtract, OpSubtractAssign:
		return NumberFromInt(a - b), nil
	case OpMultiply, OpMultiplyAssign:
		return NumberFromInt(a * b), nil
	case OpRemainder, OpRemainderAssign:
		if b == 0 {
			return NumberFromFloat(math.NaN()), nil
		}
		return NumberFromInt(a % b), nil
	}
	return nil, runtimeErrorf("unhandled number operation")
}

func concatLists(l, r List) (Value, error) {
	left, releaseLeft, err := l.Items()
	if err != nil {
		return nil, err
	}
	defer releaseLeft()
	right, releaseRight, err := r.Items()
	if err != nil {
		return nil, err
	}
	defer releaseRight()
	return NewList(append(append([]Value{}, left...), right...)...), nil
}

// Compare applies a comparison, dispatching to host objects on the left.
func Compare(op CompareOpKind, lhs, rhs Value) (bool, error) {
	if obj, ok := lhs.(Object); ok {
		if cmp, ok := obj.Host.(Comparable); ok {
			return cmp.Compare(op, rhs)
		}
		return false, unsupportedError("comparison", lhs)
	}

	switch op {
	case OpEqual:
		return valuesEqual(lhs, rhs)
	case OpNotEqual:
		equal, err := valuesEqual(lhs, rhs)
		return !equal, err
	}

	l, lok := lhs.(Number)
	r, rok := rhs.(Number)
	if lok && rok {
		a, b := l.AsFloat(), r.AsFloat()
		switch op {
		case OpLess:
			return a < b, nil
		case OpLessOrEqual:
			return a <= b, nil
		case OpGreater:
			return a > b, nil
		case OpGreaterOrEqual:
			return a >= b, nil
		}
	}

	ls, lsok := lhs.(Str)
	rs, rsok := rhs.(Str)
	if lsok && rsok {
		a, b := ls.String(), rs.String()
		switch op {
		case OpLess:
			return a < b, nil
		case OpLessOrEqual:
			return a <= b, nil
		case OpGreater:
			return a > b, nil
		case OpGreaterOrEqual:
			return a >= b, nil
		}
	}

	return false, unsupportedError("comparison", lhs)
}

func valuesEqual(lhs, rhs Value) (bool, error) {
	switch l := lhs.(type) {
	case Null:
		_, ok := rhs.(Null)
		return ok, nil
	case Bool:
		r, ok := rhs.(Bool)
		return ok && l == r, nil
	case Number:
		r, ok := rhs.(Number)
		return ok && l.AsFloat() == r.AsFloat(), nil
	case Str:
		r, ok := rhs.(Str)
		return ok && l.String() == r.String(), nil
	case Range:
		r, ok := rhs.(Range)
		return ok && l == r, nil
	case Tuple:
		r, ok := rhs.(Tuple)
		if !ok || l.Len() != r.Len() {
			return false, nil
		}
		for i, item := range l.Items() {
			equal, err := valuesEqual(item, r.Items()[i])
			if err != nil || !equal {
				return equal, err
			}
		}
		return true, nil
	case Object:
		if cmp, ok := l.Host.(Comparable); ok {
			return cmp.Compare(OpEqual, rhs)
		}
		return false, unsupportedError("comparison", lhs)
	}
	return false, unsupportedError("comparison", lhs)
}

// Negate applies unary negation.
func Negate(v Value) (Value, error) {
	switch v := v.(type) {
	case Number:
		if v.IsFloat() {
			return NumberFromFloat(-v.AsFloat()), nil
		}
		return NumberFromInt(-v.AsInt()), nil
	case Object:
		if neg, ok := v.Host.(Negatable); ok {
			return neg.Negate()
		}
	}
	return nil, unsupportedError("negation", v)
}

// Index reads an indexed element; ranges slice strings and tuples.
func Index(v, index Value) (Value, error) {
	switch v := v.(type) {
	case List:
		if n, ok := index.(Number); ok {
			return v.Get(int(n.AsInt()))
		}
	case Tuple:
		switch index := index.(type) {
		case Number:
			if item, ok := v.Get(int(index.AsInt())); ok {
				return item, nil
			}
			return nil, runtimeErrorf("index %d out of range for tuple of size %d",
				index.AsInt(), v.Len())
		case Range:
			end := index.End
			if index.Inclusive {
				end++
			}
			if sub, ok := v.Sub(int(index.Start), int(end)); ok {
				return sub, nil
			}
			return nil, runtimeErrorf("range out of bounds for tuple of size %d", v.Len())
		}
	case Str:
		switch index := index.(type) {
		case Range:
			end := index.End
			if index.Inclusive {
				end++
			}
			if sub, ok := v.Sub(int(index.Start), int(end)); ok {
				return sub, nil
			}
			return nil, runtimeErrorf("range out of bounds for string of length %d", v.Len())
		}
	case Map:
		if key, ok := index.(Str); ok {
			if entry, found := v.Get(key.String()); found {
				return entry, nil
			}
			return Null{}, nil
		}
	case Object:
		if getter, ok := v.Host.(IndexGetter); ok {
			return getter.IndexGet(index)
		}
	}
	return nil, unsupportedError("indexing", v)
}

// SetIndex writes an indexed element.
func SetIndex(v, index, item Value) error {
	switch v := v.(type) {
	case List:
		if n, ok := index.(Number); ok {
			return v.Set(int(n.AsInt()), item)
		}
	case Map:
		if key, ok := index.(Str); ok {
			return v.Insert(key.String(), item)
		}
	case Object:
		if setter, ok := v.Host.(IndexSetter); ok {
			return setter.IndexSet(index, item)
		}
	}
	return unsupportedError("index assignment", v)
}

// Size reports a value's element count.
func Size(v Value) (int, error) {
	switch v := v.(type) {
	case Str:
		return v.Len(), nil
	case Tuple:
		return v.Len(), nil
	case List:
		return v.Len(), nil
	case Map:
		return v.Len(), nil
	case Range:
		return int(v.Len()), nil
	case Object:
		if sized, ok := v.Host.(Sized); ok {
			return sized.Size(), nil
		}
	}
	return 0, unsupportedError("size", v)
}

// Call invokes a callable value.
func Call(v Value, args []Value) (Value, error) {
	switch v := v.(type) {
	case Function:
		return v.Call(args)
	case Object:
		if callable, ok := v.Host.(Callable); ok {
			return callable.Call(args)
		}
	}
	return nil, unsupportedError("calling", v)
}

// Iterate returns an iterator over a value.
func Iterate(v Value) (Iterator, error) {
	switch v := v.(type) {
	case Range:
		return &rangeIterator{r: v, next: v.Start}, nil
	case Tuple:
		return &sliceIterator{items: v.Items()}, nil
	case List:
		items, release, err := v.Items()
		if err != nil {
			return nil, err
		}
		return &sliceIterator{items: items, release: release}, nil
	case Object:
		if iterable, ok := v.Host.(Iterable); ok {
			return iterable.Iterator()
		}
	}
	return nil, unsupportedError("iteration", v)
}

type rangeIterator struct {
	r    Range
	next int64
}

func (it *rangeIterator) Next() (Value, bool) {
	end := it.r.End
	if it.r.Inclusive {
		end++
	}
	if it.next >= end {
		return nil, false
	}
	v := NumberFromInt(it.next)
	it.next++
	return v, true
}

type sliceIterator struct {
	items   []Value
	i       int
	release func()
}

func (it *sliceIterator) Next() (Value, bool) {
	if it.i >= len(it.items) {
		if it.release != nil {
			it.release()
			it.release = nil
		}
		return nil, false
	}
	v := it.items[it.i]
	it.i++
	return v, true
}
