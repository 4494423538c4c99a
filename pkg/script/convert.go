package script

import (
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Callable is a script-defined function surfaced to Go callers
type Callable struct {
	fn     starlark.Callable
	runner *Runner
}

// Name returns the script name of the function
func (c *Callable) Name() string {
	return c.fn.Name()
}

// Call invokes the function with Go arguments, returning a Go value
func (c *Callable) Call(args ...any) (any, error) {
	thread := c.runner.newThread(nil, "")
	tuple := make(starlark.Tuple, 0, len(args))
	for _, arg := range args {
		v, err := ToStarlark(arg)
		if err != nil {
			return nil, err
		}
		tuple = append(tuple, v)
	}

	result, err := starlark.Call(thread, c.fn, tuple, nil)
	if err != nil {
		return nil, c.runner.wrapError(c.fn.Name(), err)
	}
	v, _ := FromStarlark(result, c.runner)
	return v, nil
}

// Module marks a loaded script namespace surfaced as a global value
type Module struct {
	Name    string
	Members map[string]any
}

// ToStarlark converts a Go value into its Starlark representation
func ToStarlark(value any) (starlark.Value, error) {
	switch v := value.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return v, nil
	case *Callable:
		return v.fn, nil
	case bool:
		return starlark.Bool(v), nil
	case string:
		return starlark.String(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case float64:
		return starlark.Float(v), nil
	case []string:
		items := make([]starlark.Value, len(v))
		for i, s := range v {
			items[i] = starlark.String(s)
		}
		return starlark.NewList(items), nil
	case []any:
		items := make([]starlark.Value, len(v))
		for i, item := range v {
			sv, err := ToStarlark(item)
			if err != nil {
				return nil, err
			}
			items[i] = sv
		}
		return starlark.NewList(items), nil
	case map[string]string:
		dict := starlark.NewDict(len(v))
		for _, k := range sortedKeys(v) {
			if err := dict.SetKey(starlark.String(k), starlark.String(v[k])); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]any:
		dict := starlark.NewDict(len(v))
		for _, k := range sortedKeys(v) {
			sv, err := ToStarlark(v[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case *Module:
		members := make(starlark.StringDict, len(v.Members))
		for k, m := range v.Members {
			sv, err := ToStarlark(m)
			if err != nil {
				return nil, err
			}
			members[k] = sv
		}
		return &starlarkstruct.Module{Name: v.Name, Members: members}, nil
	default:
		return nil, fmt.Errorf("unsupported script value type %T", value)
	}
}

// FromStarlark converts a Starlark value into a Go value. Values without a
// Go representation report false.
func FromStarlark(value starlark.Value, runner *Runner) (any, bool) {
	switch v := value.(type) {
	case starlark.NoneType:
		return nil, true
	case starlark.Bool:
		return bool(v), true
	case starlark.String:
		return string(v), true
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i, true
		}
		return v.String(), true
	case starlark.Float:
		return float64(v), true
	case *starlark.List:
		return fromIterable(v, runner), true
	case starlark.Tuple:
		return fromIterable(v, runner), true
	case *starlark.Set:
		return fromIterable(v, runner), true
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				key = item[0].String()
			}
			if gv, ok := FromStarlark(item[1], runner); ok {
				out[key] = gv
			}
		}
		return out, true
	case *starlarkstruct.Module:
		members := make(map[string]any, len(v.Members))
		for k, m := range v.Members {
			if gv, ok := FromStarlark(m, runner); ok {
				members[k] = gv
			}
		}
		return &Module{Name: v.Name, Members: members}, true
	case *starlarkstruct.Struct:
		out := map[string]any{}
		for _, name := range v.AttrNames() {
			attr, err := v.Attr(name)
			if err != nil {
				continue
			}
			if gv, ok := FromStarlark(attr, runner); ok {
				out[name] = gv
			}
		}
		return out, true
	case starlark.Callable:
		return &Callable{fn: v, runner: runner}, true
	default:
		return nil, false
	}
}

func fromIterable(it starlark.Iterable, runner *Runner) []any {
	iter := it.Iterate()
	defer iter.Done()

	out := []any{}
	var item starlark.Value
	for iter.Next(&item) {
		if gv, ok := FromStarlark(item, runner); ok {
			out = append(out, gv)
		}
	}
	return out
}

// FilterGlobals drops the names a script leaves behind that are not
// configuration: magic names, callables and loaded modules
func FilterGlobals(globals map[string]any) map[string]any {
	out := make(map[string]any, len(globals))
	for k, v := range globals {
		if strings.HasPrefix(k, "__") && strings.HasSuffix(k, "__") {
			continue
		}
		switch v.(type) {
		case *Callable, *Module:
			continue
		}
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
