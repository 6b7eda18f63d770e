package value

import (
	"reflect"
	"strings"
)

// containerID identifies a container's shared storage for cycle
// detection during display.
type containerID uintptr

func containerIDFor(v any) containerID {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return containerID(rv.Pointer())
	}
	return 0
}

// DisplayContext accumulates rendered output and tracks the containers
// currently being rendered, so that cyclic value graphs print a '...'
// sentinel instead of recursing forever.
type DisplayContext struct {
	sb      strings.Builder
	parents []containerID
}

// NewDisplayContext returns an empty context.
func NewDisplayContext() *DisplayContext {
	return &DisplayContext{}
}

// Append adds text to the rendered output.
func (ctx *DisplayContext) Append(s string) {
	ctx.sb.WriteString(s)
}

// String returns the rendered output.
func (ctx *DisplayContext) String() string {
	return ctx.sb.String()
}

// IsRendering reports whether the container is already being rendered
// further up the stack.
func (ctx *DisplayContext) IsRendering(id containerID) bool {
	if id == 0 {
		return false
	}
	for _, parent := range ctx.parents {
		if parent == id {
			return true
		}
	}
	return false
}

// PushContainer marks a container as being rendered.
func (ctx *DisplayContext) PushContainer(id containerID) {
	ctx.parents = append(ctx.parents, id)
}

// PopContainer unmarks the most recently pushed container.
func (ctx *DisplayContext) PopContainer() {
	ctx.parents = ctx.parents[:len(ctx.parents)-1]
}

// Display renders a value into the context.
func Display(ctx *DisplayContext, v Value) error {
	switch v := v.(type) {
	case Null:
		ctx.Append("null")
	case Bool:
		if v {
			ctx.Append("true")
		} else {
			ctx.Append("false")
		}
	case Number:
		ctx.Append(v.String())
	case Range:
		op := ".."
		if v.Inclusive {
			op = "..="
		}
		ctx.Append(NumberFromInt(v.Start).String() + op + NumberFromInt(v.End).String())
	case Str:
		ctx.Append(v.String())
	case Tuple:
		return displayContainer(ctx, v.id(), "(", ")", v.Items())
	case List:
		items, release, err := v.Items()
		if err != nil {
			return err
		}
		defer release()
		return displayContainer(ctx, v.id(), "[", "]", items)
	case Map:
		return displayMap(ctx, v)
	case Function:
		ctx.Append("|| " + v.name)
	case Object:
		if displayable, ok := v.Host.(Displayable); ok {
			if ctx.IsRendering(v.id()) {
				ctx.Append("...")
				return nil
			}
			ctx.PushContainer(v.id())
			defer ctx.PopContainer()
			return displayable.Display(ctx)
		}
		ctx.Append(v.TypeName())
	}
	return nil
}

func displayContainer(ctx *DisplayContext, id containerID, open, closing string, items []Value) error {
	if ctx.IsRendering(id) {
		ctx.Append("...")
		return nil
	}
	ctx.PushContainer(id)
	defer ctx.PopContainer()

	ctx.Append(open)
	for i, item := range items {
		if i > 0 {
			ctx.Append(", ")
		}
		if s, isStr := item.(Str); isStr {
			ctx.Append("'" + s.String() + "'")
			continue
		}
		if err := Display(ctx, item); err != nil {
			return err
		}
	}
	ctx.Append(closing)
	return nil
}

func displayMap(ctx *DisplayContext, m Map) error {
	if ctx.IsRendering(m.id()) {
		ctx.Append("...")
		return nil
	}
	ctx.PushContainer(m.id())
	defer ctx.PopContainer()

	release, err := m.borrow()
	if err != nil {
		return err
	}
	defer release()

	ctx.Append("{")
	for i, key := range m.Keys() {
		if i > 0 {
			ctx.Append(", ")
		}
		ctx.Append(key + ": ")
		entry, _ := m.Get(key)
		if s, isStr := entry.(Str); isStr {
			ctx.Append("'" + s.String() + "'")
			continue
		}
		if err := Display(ctx, entry); err != nil {
			return err
		}
	}
	ctx.Append("}")
	return nil
}

// DisplayString renders a value to a string.
func DisplayString(v Value) (string, error) {
	ctx := NewDisplayContext()
	if err := Display(ctx, v); err != nil {
		return "", err
	}
	return ctx.String(), nil
}
