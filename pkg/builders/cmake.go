package builders

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio"

	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// CMakeCacheFile is the cache-init script written into the build output
// directory before configuring
const CMakeCacheFile = ".releng-tool-cmake-cache"

const cmakeDefaultBuildType = "RelWithDebInfo"

// CMake builds packages out of source with cmake
type CMake struct{}

// Configure implements Builder
func (CMake) Configure(ctx context.Context, o *Options) error {
	if err := utils.EnsureDirectory(o.BuildOutputDir); err != nil {
		return types.Wrap(types.ErrIO, err)
	}

	cache := filepath.Join(o.BuildOutputDir, CMakeCacheFile)
	if err := renameio.WriteFile(cache, []byte(CMakeCache(o)), 0o644); err != nil {
		return types.Wrap(types.ErrIO, fmt.Errorf("unable to write cmake cache: %w", err))
	}

	defs := map[string]string{"CMAKE_BUILD_TYPE": cmakeDefaultBuildType}
	for k, v := range o.ConfDefs {
		defs[k] = v
	}

	args := []string{"-C", cache, "-S", o.Dir, "-B", o.BuildOutputDir}
	for _, def := range definitions("", defs) {
		if !strings.Contains(def, "=") {
			def += "="
		}
		args = append(args, "-D"+def)
	}
	args = append(args, o.ConfOpts...)
	return o.runIn(ctx, o.BuildOutputDir, tool.CMake, args, o.ConfEnv)
}

// Build implements Builder
func (CMake) Build(ctx context.Context, o *Options) error {
	args := cmakeBuildArgs(o)
	if o.Jobs > 1 && !o.HasQuirk(types.QuirkCMakeNoParallel) {
		args = append(args, "--parallel", strconv.Itoa(o.Jobs))
	}
	args = append(args, definitions("-D", o.BuildDefs)...)
	args = append(args, o.BuildOpts...)
	return o.runIn(ctx, o.BuildOutputDir, tool.CMake, args, o.BuildEnv)
}

// Install implements Builder
func (CMake) Install(ctx context.Context, o *Options) error {
	for _, dest := range o.DestDirs() {
		args := append(cmakeBuildArgs(o), "--target", "install")
		args = append(args, definitions("-D", o.InstallDefs)...)
		args = append(args, o.InstallOpts...)

		env := map[string]string{"DESTDIR": dest}
		if err := o.runIn(ctx, o.BuildOutputDir, tool.CMake, args, o.InstallEnv, env); err != nil {
			return err
		}
	}
	return nil
}

func cmakeBuildArgs(o *Options) []string {
	buildType := cmakeDefaultBuildType
	if v, ok := o.ConfDefs["CMAKE_BUILD_TYPE"]; ok && v != "" {
		buildType = v
	}
	return []string{"--build", o.BuildOutputDir, "--config", buildType}
}

// CMakeCache renders the cache-init script of a package. Search paths
// cover the staging and host sysroots joined with the install prefix.
func CMakeCache(o *Options) string {
	var roots []string
	for _, dir := range []string{o.StagingDir, o.HostDir} {
		if dir != "" {
			roots = append(roots, cmakePath(o.PrefixedDir(dir)))
		}
	}

	join := func(suffix string) string {
		paths := make([]string, 0, len(roots))
		for _, root := range roots {
			paths = append(paths, root+suffix)
		}
		return strings.Join(paths, ";")
	}

	prefix := o.Prefix
	if prefix == "" {
		prefix = "/"
	}

	var b strings.Builder
	set := func(key, kind, value string) {
		fmt.Fprintf(&b, "set(%s %q CACHE %s \"\")\n", key, value, kind)
	}
	set("CMAKE_INSTALL_PREFIX", "PATH", cmakePath(prefix))
	set("CMAKE_INSTALL_LIBDIR", "PATH", "lib")
	set("CMAKE_INCLUDE_PATH", "STRING", join("/include"))
	set("CMAKE_LIBRARY_PATH", "STRING", join("/lib"))
	set("CMAKE_MODULE_PATH", "STRING", join("/share/cmake/Modules"))
	set("CMAKE_PREFIX_PATH", "STRING", join(""))

	if !o.HasQuirk(types.QuirkCMakeNoSystemIncludes) {
		includes := join("/include")
		set("CMAKE_C_STANDARD_INCLUDE_DIRECTORIES", "STRING", includes)
		set("CMAKE_CXX_STANDARD_INCLUDE_DIRECTORIES", "STRING", includes)
	}
	return b.String()
}

func cmakePath(path string) string {
	return filepath.ToSlash(path)
}

var _ Builder = CMake{}
