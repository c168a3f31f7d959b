package eval

// Env is a persistent chain of single-binding frames. A nil *Env is the
// empty environment. Extend never mutates, so a frame chain captured by
// a closure or thunk stays valid no matter what later extensions happen
// elsewhere; shared tails are structural, never copied.
type Env struct {
	name    string
	binding Value
	parent  *Env
}

// Extend returns a new environment with one more innermost frame. The
// receiver is untouched and remains a valid environment of its own.
func (e *Env) Extend(name string, v Value) *Env {
	return &Env{name: name, binding: v, parent: e}
}

// Lookup scans innermost-first and returns the first frame bound to
// name. Shadowing therefore follows innermost-binding-wins.
func (e *Env) Lookup(name string) (Value, bool) {
	for frame := e; frame != nil; frame = frame.parent {
		if frame.name == name {
			return frame.binding, true
		}
	}
	return nil, false
}

// Binding is one visible (name, value) pair, as reported by Bindings.
type Binding struct {
	Name  string
	Value Value
}

// Bindings returns the visible binding set innermost-first, with
// shadowed frames filtered out. Intended for driver display.
func (e *Env) Bindings() []Binding {
	seen := map[string]struct{}{}
	out := []Binding{}
	for frame := e; frame != nil; frame = frame.parent {
		if _, ok := seen[frame.name]; ok {
			continue
		}
		seen[frame.name] = struct{}{}
		out = append(out, Binding{Name: frame.name, Value: frame.binding})
	}
	return out
}
