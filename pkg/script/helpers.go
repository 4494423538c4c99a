package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

type builtinFn func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

func (r *Runner) helpers() map[string]*starlark.Builtin {
	fns := map[string]builtinFn{
		"releng_cat":             r.cat,
		"releng_copy":            r.copy,
		"releng_copy_into":       r.copyInto,
		"releng_env":             r.env,
		"releng_execute":         r.execute,
		"releng_execute_rv":      r.executeRv,
		"releng_exists":          r.exists,
		"releng_exit":            r.exit,
		"releng_expand":          r.expand,
		"releng_include":         r.include,
		"releng_join":            r.join,
		"releng_ls":              r.ls,
		"releng_mkdir":           r.mkdir,
		"releng_move":            r.move,
		"releng_move_into":       r.moveInto,
		"releng_remove":          r.remove,
		"releng_require_version": r.requireVersion,
		"releng_symlink":         r.symlink,
		"releng_tmpdir":          r.tmpdir,
		"releng_touch":           r.touch,
		"releng_wd":              r.wd,
		"debug":                  r.logFn(func(m string) { r.Log.Debug(m) }),
		"err":                    r.logFn(func(m string) { r.Log.Error(m) }),
		"hint":                   r.logFn(func(m string) { r.Log.Hint(m) }),
		"log":                    r.logFn(func(m string) { r.Log.Info(m) }),
		"note":                   r.logFn(func(m string) { r.Log.Note(m) }),
		"success":                r.logFn(func(m string) { r.Log.Success(m) }),
		"verbose":                r.logFn(func(m string) { r.Log.Verbose(m) }),
		"warn":                   r.logFn(func(m string) { r.Log.Warn(m) }),
	}

	builtins := make(map[string]*starlark.Builtin, len(fns))
	for name, fn := range fns {
		builtins[name] = starlark.NewBuiltin(name, fn)
	}
	return builtins
}

// HelperNames lists the helper functions available to scripts
func HelperNames() []string {
	r := &Runner{}
	names := make([]string, 0)
	for name := range r.helpers() {
		names = append(names, name)
	}
	return names
}

func (r *Runner) logFn(emit func(string)) builtinFn {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("%s: missing message", b.Name())
		}
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
		}

		parts := make([]string, len(args))
		for i, arg := range args {
			if s, ok := starlark.AsString(arg); ok {
				parts[i] = s
			} else {
				parts[i] = arg.String()
			}
		}
		if r.Log != nil {
			emit(strings.Join(parts, " "))
		}
		return starlark.None, nil
	}
}

// fail reports a helper failure; critical failures terminate the script
func (r *Runner) fail(quiet, critical bool, format string, args ...any) (starlark.Value, error) {
	msg := fmt.Sprintf(format, args...)
	if !quiet && r.Log != nil {
		r.Log.Error(msg)
	}
	if critical {
		return nil, &ExitError{Code: 1, Message: msg}
	}
	return starlark.False, nil
}

func (r *Runner) trace(format string, args ...any) {
	if r.Verbose && r.Log != nil {
		r.Log.Verbose(fmt.Sprintf(format, args...))
	}
}

func optString(v starlark.Value) (string, bool) {
	if v == nil || v == starlark.None {
		return "", false
	}
	s, ok := starlark.AsString(v)
	return s, ok
}

func stringArgs(fnname string, args starlark.Tuple) ([]string, error) {
	out := make([]string, len(args))
	for i, arg := range args {
		s, ok := starlark.AsString(arg)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d must be a string, got %s", fnname, i+1, arg.Type())
		}
		out[i] = s
	}
	return out, nil
}

// destination resolves where src lands for copy/move operations. An explicit
// dst_dir wins; otherwise a trailing separator or an existing directory
// means "into" when the source is a file.
func destination(src, dst string, dstDir starlark.Value) string {
	into := strings.HasSuffix(dst, "/") || strings.HasSuffix(dst, string(filepath.Separator))
	if dstDir != nil && dstDir != starlark.None {
		into = bool(dstDir.Truth())
	} else if !into && utils.DirectoryExists(dst) && !utils.DirectoryExists(src) {
		into = true
	}
	if into {
		return filepath.Join(dst, filepath.Base(src))
	}
	return dst
}

func (r *Runner) copy(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var src, dst string
	var quiet bool
	critical := true
	var dstDir starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"src", &src, "dst", &dst, "quiet?", &quiet, "critical?", &critical, "dst_dir?", &dstDir); err != nil {
		return nil, err
	}

	target := destination(src, dst, dstDir)
	r.trace("copying %s to %s", src, target)
	if err := utils.Copy(src, target); err != nil {
		return r.fail(quiet, critical, "unable to copy %s to %s: %v", src, target, err)
	}
	return starlark.True, nil
}

func (r *Runner) copyInto(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var src, dst string
	var quiet bool
	critical := true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"src", &src, "dst", &dst, "quiet?", &quiet, "critical?", &critical); err != nil {
		return nil, err
	}

	r.trace("copying %s into %s", src, dst)
	if err := utils.CopyInto(src, dst); err != nil {
		return r.fail(quiet, critical, "unable to copy %s into %s: %v", src, dst, err)
	}
	return starlark.True, nil
}

func (r *Runner) move(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var src, dst string
	var quiet bool
	critical := true
	var dstDir starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"src", &src, "dst", &dst, "quiet?", &quiet, "critical?", &critical, "dst_dir?", &dstDir); err != nil {
		return nil, err
	}

	target := destination(src, dst, dstDir)
	r.trace("moving %s to %s", src, target)
	if err := utils.Move(src, target); err != nil {
		return r.fail(quiet, critical, "unable to move %s to %s: %v", src, target, err)
	}
	return starlark.True, nil
}

func (r *Runner) moveInto(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var src, dst string
	var quiet bool
	critical := true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"src", &src, "dst", &dst, "quiet?", &quiet, "critical?", &critical); err != nil {
		return nil, err
	}

	r.trace("moving %s into %s", src, dst)
	if err := utils.MoveInto(src, dst); err != nil {
		return r.fail(quiet, critical, "unable to move %s into %s: %v", src, dst, err)
	}
	return starlark.True, nil
}

func (r *Runner) remove(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	var quiet bool
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "quiet?", &quiet); err != nil {
		return nil, err
	}

	r.trace("removing %s", path)
	if err := utils.Remove(path); err != nil {
		return r.fail(quiet, false, "%v", err)
	}
	return starlark.True, nil
}

func (r *Runner) mkdir(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dir string
	var quiet, critical bool
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"dir", &dir, "quiet?", &quiet, "critical?", &critical); err != nil {
		return nil, err
	}

	r.trace("creating directory %s", dir)
	if err := utils.EnsureDirectory(dir); err != nil {
		if _, ferr := r.fail(quiet, critical, "%v", err); ferr != nil {
			return nil, ferr
		}
		return starlark.None, nil
	}
	return starlark.String(dir), nil
}

func (r *Runner) touch(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var file string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "file", &file); err != nil {
		return nil, err
	}

	if err := utils.Touch(file); err != nil {
		return r.fail(false, false, "%v", err)
	}
	return starlark.True, nil
}

func (r *Runner) symlink(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var target, link string
	var quiet, lpd bool
	critical := true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"target", &target, "link", &link, "quiet?", &quiet, "critical?", &critical, "lpd?", &lpd); err != nil {
		return nil, err
	}

	if lpd {
		link = filepath.Join(link, filepath.Base(target))
	}
	r.trace("symlinking %s to %s", link, target)
	if err := utils.Symlink(target, link); err != nil {
		return r.fail(quiet, critical, "unable to create symlink %s: %v", link, err)
	}
	return starlark.True, nil
}

func (r *Runner) cat(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	files, err := stringArgs(b.Name(), args)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return r.fail(false, false, "unable to read %s: %v", file, err)
		}
		if _, err := r.Stdout.Write(data); err != nil {
			return nil, err
		}
	}
	return starlark.True, nil
}

func (r *Runner) ls(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dir string
	var recursive bool
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "dir", &dir, "recursive?", &recursive); err != nil {
		return nil, err
	}

	var entries []string
	var err error
	if recursive {
		entries, err = utils.ListFiles(dir)
	} else {
		entries, err = utils.ListDirectory(dir)
	}
	if err != nil {
		return r.fail(false, false, "unable to list %s: %v", dir, err)
	}
	for _, entry := range entries {
		fmt.Fprintln(r.Stdout, entry)
	}
	return starlark.True, nil
}

func (r *Runner) exists(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 || len(args) == 0 {
		return nil, fmt.Errorf("%s: expected one or more path arguments", b.Name())
	}
	parts, err := stringArgs(b.Name(), args)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(utils.PathExists(filepath.Join(parts...))), nil
}

func (r *Runner) join(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	parts, err := stringArgs(b.Name(), args)
	if err != nil {
		return nil, err
	}
	return starlark.String(filepath.Join(parts...)), nil
}

func (r *Runner) env(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var value starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "value?", &value); err != nil {
		return nil, err
	}

	if value != nil {
		if value == starlark.None {
			os.Unsetenv(key)
			return starlark.None, nil
		}
		s, ok := starlark.AsString(value)
		if !ok {
			s = value.String()
		}
		if err := os.Setenv(key, s); err != nil {
			return nil, err
		}
		return starlark.String(s), nil
	}

	if v, ok := os.LookupEnv(key); ok {
		return starlark.String(v), nil
	}
	return starlark.None, nil
}

func (r *Runner) expand(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var obj starlark.Value
	var kv *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "obj", &obj, "kv?", &kv); err != nil {
		return nil, err
	}

	vars := map[string]string{}
	if kv != nil {
		for _, item := range kv.Items() {
			k, _ := starlark.AsString(item[0])
			if v, ok := starlark.AsString(item[1]); ok {
				vars[k] = v
			} else {
				vars[k] = item[1].String()
			}
		}
	}
	return expandValue(obj, vars)
}

func expandValue(value starlark.Value, vars map[string]string) (starlark.Value, error) {
	switch v := value.(type) {
	case starlark.String:
		return starlark.String(utils.Expand(string(v), vars)), nil
	case *starlark.List:
		items := make([]starlark.Value, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			item, err := expandValue(v.Index(i), vars)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return starlark.NewList(items), nil
	case starlark.Tuple:
		items := make(starlark.Tuple, 0, len(v))
		for _, elem := range v {
			item, err := expandValue(elem, vars)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	case *starlark.Dict:
		out := starlark.NewDict(v.Len())
		for _, item := range v.Items() {
			k, err := expandValue(item[0], vars)
			if err != nil {
				return nil, err
			}
			val, err := expandValue(item[1], vars)
			if err != nil {
				return nil, err
			}
			if err := out.SetKey(k, val); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return value, nil
	}
}

type executeArgs struct {
	argv     []string
	cwd      string
	env      map[string]string
	quiet    bool
	critical bool
}

func (r *Runner) unpackExecute(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (*executeArgs, error) {
	var cmd, cwd, env, envUpdate starlark.Value
	var quiet bool
	critical := true
	expand := true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"args", &cmd, "cwd?", &cwd, "env?", &env, "env_update?", &envUpdate,
		"quiet?", &quiet, "critical?", &critical, "expand?", &expand); err != nil {
		return nil, err
	}

	var argv []string
	switch v := cmd.(type) {
	case starlark.String:
		split, err := tool.SplitArgs(string(v))
		if err != nil {
			return nil, err
		}
		argv = split
	case *starlark.List, starlark.Tuple:
		list, _ := FromStarlark(v, r)
		for _, item := range list.([]any) {
			argv = append(argv, fmt.Sprint(item))
		}
	default:
		return nil, fmt.Errorf("%s: args must be a string or list, got %s", b.Name(), cmd.Type())
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("%s: no command provided", b.Name())
	}
	if expand {
		for i := range argv {
			argv[i] = utils.Expand(argv[i], nil)
		}
	}

	opts := &executeArgs{argv: argv, quiet: quiet, critical: critical, env: map[string]string{}}
	opts.cwd, _ = optString(cwd)
	for _, overlay := range []starlark.Value{env, envUpdate} {
		if dict, ok := overlay.(*starlark.Dict); ok {
			for _, item := range dict.Items() {
				k, _ := starlark.AsString(item[0])
				v, ok := starlark.AsString(item[1])
				if !ok {
					v = item[1].String()
				}
				opts.env[k] = v
			}
		}
	}
	return opts, nil
}

func (r *Runner) execute(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	opts, err := r.unpackExecute(b, args, kwargs)
	if err != nil {
		return nil, err
	}

	ctx, _ := thread.Local(localContext).(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}

	t := tool.New(opts.argv[0])
	err = t.Execute(ctx, opts.argv[1:], &tool.Options{
		Dir:    opts.cwd,
		Env:    opts.env,
		Quiet:  opts.quiet,
		Log:    r.Log,
		Stdout: r.Stdout,
	})
	if err != nil {
		return r.fail(opts.quiet, opts.critical, "%v", err)
	}
	return starlark.True, nil
}

func (r *Runner) executeRv(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	opts, err := r.unpackExecute(b, args, kwargs)
	if err != nil {
		return nil, err
	}

	ctx, _ := thread.Local(localContext).(context.Context)
	if ctx == nil {
		ctx = context.Background()
	}

	t := tool.New(opts.argv[0])
	out, err := t.Output(ctx, opts.argv[1:], &tool.Options{Dir: opts.cwd, Env: opts.env, Log: r.Log})
	code := 0
	if err != nil {
		code = 1
	}
	return starlark.Tuple{starlark.MakeInt(code), starlark.String(out)}, nil
}

func (r *Runner) exit(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg, code starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "msg?", &msg, "code?", &code); err != nil {
		return nil, err
	}

	message, hasMsg := optString(msg)
	rc := 0
	if hasMsg {
		rc = 1
	}
	if code != nil && code != starlark.None {
		if err := starlark.AsInt(code, &rc); err != nil {
			return nil, fmt.Errorf("%s: invalid code: %w", b.Name(), err)
		}
	}

	if hasMsg && r.Log != nil {
		if rc == 0 {
			r.Log.Info(message)
		} else {
			r.Log.Error(message)
		}
	}
	return nil, &ExitError{Code: rc, Message: message}
}

func (r *Runner) include(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "file", &path); err != nil {
		return nil, err
	}

	target := r.resolvePath(thread, path)
	if !utils.FileExists(target) {
		return nil, fmt.Errorf("%s: script does not exist: %s", b.Name(), target)
	}

	scope, _ := thread.Local(localScope).(starlark.StringDict)
	includes, _ := thread.Local(localIncludes).(*includeState)
	if includes == nil {
		includes = &includeState{}
	}
	ctx, _ := thread.Local(localContext).(context.Context)

	globals, err := r.exec(ctx, target, scope, includes)
	if err != nil {
		return nil, err
	}
	includes.globals = append(includes.globals, globals)
	return &starlarkstruct.Module{Name: filepath.Base(target), Members: globals}, nil
}

func (r *Runner) requireVersion(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var minVer, maxVer starlark.Value
	var quiet bool
	critical := true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"version?", &minVer, "quiet?", &quiet, "critical?", &critical, "maxver?", &maxVer); err != nil {
		return nil, err
	}

	ok, msg, err := CheckVersion(r.Version, minVer, maxVer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if !ok {
		return r.fail(quiet, critical, "%s", msg)
	}
	return starlark.True, nil
}

// CheckVersion compares the running version against optional minimum and
// maximum bounds, returning a user-facing message when outside them
func CheckVersion(running string, minVer, maxVer starlark.Value) (bool, string, error) {
	current, err := semver.NewVersion(running)
	if err != nil {
		return false, "", fmt.Errorf("invalid running version %q: %w", running, err)
	}

	if s, ok := optString(minVer); ok {
		required, err := semver.NewVersion(s)
		if err != nil {
			return false, "", fmt.Errorf("invalid version %q: %w", s, err)
		}
		if current.LessThan(required) {
			return false, fmt.Sprintf(
				"this project requires a newer version of releng-tool (%s >= %s)", running, s), nil
		}
	}

	if s, ok := optString(maxVer); ok {
		limit, err := semver.NewVersion(s)
		if err != nil {
			return false, "", fmt.Errorf("invalid version %q: %w", s, err)
		}
		if current.GreaterThan(limit) {
			return false, fmt.Sprintf(
				"this project requires an older version of releng-tool (%s <= %s)", running, s), nil
		}
	}
	return true, "", nil
}

func (r *Runner) tmpdir(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Value
	var wd bool
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "fn?", &fn, "wd?", &wd); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "releng-tool-")
	if err != nil {
		return r.fail(false, true, "unable to create temporary directory: %v", err)
	}

	callable, ok := fn.(starlark.Callable)
	if !ok {
		return starlark.String(dir), nil
	}
	defer os.RemoveAll(dir)

	if wd {
		return r.withinDir(thread, dir, callable)
	}
	return starlark.Call(thread, callable, starlark.Tuple{starlark.String(dir)}, nil)
}

func (r *Runner) wd(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dir string
	var fn starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "dir", &dir, "fn?", &fn); err != nil {
		return nil, err
	}

	if err := utils.EnsureDirectory(dir); err != nil {
		return r.fail(false, true, "%v", err)
	}

	callable, ok := fn.(starlark.Callable)
	if !ok {
		prev, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		if err := os.Chdir(dir); err != nil {
			return r.fail(false, true, "unable to change directory to %s: %v", dir, err)
		}
		return starlark.String(prev), nil
	}
	return r.withinDir(thread, dir, callable)
}

func (r *Runner) withinDir(thread *starlark.Thread, dir string, fn starlark.Callable) (starlark.Value, error) {
	prev, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if err := os.Chdir(dir); err != nil {
		return r.fail(false, true, "unable to change directory to %s: %v", dir, err)
	}
	defer func() {
		if err := os.Chdir(prev); err != nil && r.Log != nil {
			r.Log.Warn(fmt.Sprintf("unable to restore working directory %s: %v", prev, err))
		}
	}()
	return starlark.Call(thread, fn, starlark.Tuple{starlark.String(dir)}, nil)
}
