package cli

import (
	"strings"

	"github.com/releng-tool/releng-tool-sub001/pkg/config"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// Arguments are the positional values of a command line
type Arguments struct {
	Action        types.GlobalAction
	TargetPackage string
	TargetAction  types.PkgAction
	Injected      map[string]string
	Forwarded     []string
}

// ParseArguments splits positional arguments into an action, KEY=VAL
// injections and the arguments following a bare "--". dash is the index of
// the first forwarded argument, or -1 when no "--" was given.
func ParseArguments(args []string, dash int, relaxed bool, log logger.Logger) (*Arguments, error) {
	if log == nil {
		log = logger.Discard()
	}

	parsed := &Arguments{Injected: map[string]string{}}
	if dash >= 0 && dash <= len(args) {
		parsed.Forwarded = append([]string{}, args[dash:]...)
		args = args[:dash]
	}

	var action string
	for _, arg := range args {
		if key, value, ok := strings.Cut(arg, "="); ok {
			if !validKey(key) {
				return nil, types.Errorf(types.ErrConfiguration, "invalid variable name: %q", key)
			}
			parsed.Injected[key] = value
			continue
		}

		if action != "" {
			if !relaxed {
				return nil, types.Errorf(types.ErrConfiguration, "multiple actions provided: %s, %s", action, arg)
			}
			log.Warn("ignoring extra argument: " + arg)
			continue
		}
		action = arg
	}

	if action == "" {
		return parsed, nil
	}
	if global, ok := types.ParseGlobalAction(strings.ToLower(action)); ok {
		parsed.Action = global
		return parsed, nil
	}
	parsed.TargetPackage, parsed.TargetAction = types.SplitPackageAction(action)
	return parsed, nil
}

// Apply stores the parsed arguments on the engine options
func (a *Arguments) Apply(opts *config.Options) {
	opts.Action = a.Action
	opts.TargetPackage = a.TargetPackage
	opts.TargetAction = a.TargetAction
	opts.ForwardedArgs = a.Forwarded
	for k, v := range a.Injected {
		opts.InjectedKV[k] = v
	}
}

// HasAction reports whether an action or package target was provided
func (a *Arguments) HasAction() bool {
	return a.Action != types.GlobalActionNone || a.TargetPackage != ""
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	for i, c := range key {
		switch {
		case c == '_', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
