package config

import (
	"fmt"
	"sort"

	"github.com/releng-tool/releng-tool-sub001/pkg/script"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// Values is a script namespace read with typed accessors. Every accessor
// reports whether the key was set; a value of the wrong kind is a
// configuration error.
type Values map[string]any

func (v Values) lookup(key string) (any, bool) {
	value, ok := v[key]
	if !ok || value == nil {
		return nil, false
	}
	return value, true
}

func typeError(key, want string, got any) error {
	return types.Errorf(types.ErrConfiguration, "%s: expected %s, got %s", key, want, describe(got))
}

func describe(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	case *script.Callable:
		return "function"
	default:
		return fmt.Sprintf("%T", value)
	}
}

// String reads a string value
func (v Values) String(key string) (string, bool, error) {
	value, ok := v.lookup(key)
	if !ok {
		return "", false, nil
	}
	s, isString := value.(string)
	if !isString {
		return "", false, typeError(key, "string", value)
	}
	return s, true, nil
}

// Bool reads a boolean value
func (v Values) Bool(key string) (bool, bool, error) {
	value, ok := v.lookup(key)
	if !ok {
		return false, false, nil
	}
	b, isBool := value.(bool)
	if !isBool {
		return false, false, typeError(key, "bool", value)
	}
	return b, true, nil
}

// Strings reads a list of strings; a single string is promoted to a list
func (v Values) Strings(key string) ([]string, bool, error) {
	value, ok := v.lookup(key)
	if !ok {
		return nil, false, nil
	}
	switch t := value.(type) {
	case string:
		return []string{t}, true, nil
	case []string:
		return t, true, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, isString := item.(string)
			if !isString {
				return nil, false, typeError(key, "list of strings", value)
			}
			out = append(out, s)
		}
		return out, true, nil
	default:
		return nil, false, typeError(key, "list of strings", value)
	}
}

// StringMap reads a dictionary of strings. None values map to empty strings.
func (v Values) StringMap(key string) (map[string]string, bool, error) {
	value, ok := v.lookup(key)
	if !ok {
		return nil, false, nil
	}
	dict, isDict := value.(map[string]any)
	if !isDict {
		if m, isMap := value.(map[string]string); isMap {
			return m, true, nil
		}
		return nil, false, typeError(key, "dict of strings", value)
	}

	out := make(map[string]string, len(dict))
	for k, item := range dict {
		switch s := item.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = s
		default:
			return nil, false, typeError(key, "dict of strings", value)
		}
	}
	return out, true, nil
}

// Args reads either a list of strings or a dictionary of strings as an
// argument list. Dictionary entries are emitted in key order as the key
// followed by its value when non-empty.
func (v Values) Args(key string) ([]string, bool, error) {
	value, ok := v.lookup(key)
	if !ok {
		return nil, false, nil
	}
	if _, isDict := value.(map[string]any); isDict {
		m, _, err := v.StringMap(key)
		if err != nil {
			return nil, false, err
		}
		return DictArgs(m), true, nil
	}
	list, _, err := v.Strings(key)
	if err != nil {
		return nil, false, typeError(key, "dict or list of strings", value)
	}
	return list, true, nil
}

// DictArgs flattens an option dictionary into arguments
func DictArgs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(m)*2)
	for _, k := range keys {
		args = append(args, k)
		if m[k] != "" {
			args = append(args, m[k])
		}
	}
	return args
}

// NonNegativeInt reads an integer >= 0
func (v Values) NonNegativeInt(key string) (int, bool, error) {
	return v.intValue(key, 0, "non-negative int")
}

// PositiveInt reads an integer >= 1
func (v Values) PositiveInt(key string) (int, bool, error) {
	return v.intValue(key, 1, "positive int")
}

func (v Values) intValue(key string, min int64, want string) (int, bool, error) {
	value, ok := v.lookup(key)
	if !ok {
		return 0, false, nil
	}
	i, isInt := value.(int64)
	if !isInt || i < min {
		return 0, false, typeError(key, want, value)
	}
	return int(i), true, nil
}

// Dict reads an opaque dictionary
func (v Values) Dict(key string) (map[string]any, bool, error) {
	value, ok := v.lookup(key)
	if !ok {
		return nil, false, nil
	}
	dict, isDict := value.(map[string]any)
	if !isDict {
		return nil, false, typeError(key, "dict", value)
	}
	return dict, true, nil
}

// Callable reads a script function
func (v Values) Callable(key string) (*script.Callable, bool, error) {
	value, ok := v.lookup(key)
	if !ok {
		return nil, false, nil
	}
	fn, isFn := value.(*script.Callable)
	if !isFn {
		return nil, false, typeError(key, "function", value)
	}
	return fn, true, nil
}
