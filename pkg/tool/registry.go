package tool

import "runtime"

// Host tools used by fetchers, extractors and builders
var (
	Autoreconf = New("autoreconf")
	Brz        = New("brz")
	Bzr        = New("bzr")
	Cargo      = New("cargo")
	CMake      = New("cmake")
	Cvs        = New("cvs")
	Git        = &Tool{
		Name:     "git",
		Env:      map[string]string{"GIT_TERMINAL_PROMPT": "0"},
		Sanitize: []string{"GIT_DIR", "GIT_WORK_TREE", "GIT_INDEX_FILE"},
	}
	Gpg     = New("gpg")
	Hg      = &Tool{Name: "hg", Env: map[string]string{"HGPLAIN": "1"}}
	Make    = New("make")
	Meson   = New("meson")
	Patch   = New("patch")
	Python  = New(defaultPython())
	Rsync   = New("rsync")
	SCons   = New("scons")
	Scp     = New("scp")
	Svn     = New("svn")
	Tar     = New("tar")
	Unzip   = New("unzip")
)

func defaultPython() string {
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

// ForName returns the registered tool for an executable name, or a new
// tool when none is registered
func ForName(name string) *Tool {
	for _, t := range []*Tool{
		Autoreconf, Brz, Bzr, Cargo, CMake, Cvs, Git, Gpg, Hg, Make, Meson,
		Patch, Python, Rsync, SCons, Scp, Svn, Tar, Unzip,
	} {
		if t.Name == name {
			return t
		}
	}
	return New(name)
}

// Interpreter returns the tool for a python interpreter path, falling back
// to the default interpreter
func Interpreter(path string) *Tool {
	if path == "" {
		return Python
	}
	return New(path)
}
