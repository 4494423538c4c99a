package builders

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// MesonBuildDir is the build directory of meson packages, relative to the
// build output directory
const MesonBuildDir = "releng-output"

// Meson builds packages with meson
type Meson struct{}

func mesonDir(o *Options) string {
	return filepath.Join(o.BuildOutputDir, MesonBuildDir)
}

// Configure implements Builder
func (Meson) Configure(ctx context.Context, o *Options) error {
	var roots, pkgconfig []string
	for _, dir := range []string{o.StagingDir, o.HostDir} {
		if dir == "" {
			continue
		}
		root := o.PrefixedDir(dir)
		roots = append(roots, root)
		pkgconfig = append(pkgconfig, filepath.Join(root, "lib", "pkgconfig"))
	}

	prefix := o.Prefix
	if prefix == "" {
		prefix = "/"
	}

	args := []string{
		"setup",
		"--buildtype=debugoptimized",
		"--prefix=" + prefix,
		"--libdir=lib",
		"--cmake-prefix-path=" + strings.Join(roots, ","),
		"--pkg-config-path=" + strings.Join(pkgconfig, ","),
		"--wrap-mode=nodownload",
	}
	if o.Reconfigure || utils.DirectoryExists(filepath.Join(mesonDir(o), "meson-private")) {
		args = append(args, "--reconfigure")
	}
	args = append(args, definitions("-D", o.ConfDefs)...)
	args = append(args, o.ConfOpts...)
	args = append(args, mesonDir(o))
	return o.run(ctx, tool.Meson, args, o.ConfEnv)
}

// Build implements Builder
func (Meson) Build(ctx context.Context, o *Options) error {
	args := []string{"compile", "-C", mesonDir(o)}
	if o.Jobs > 0 {
		args = append(args, "--jobs", strconv.Itoa(o.Jobs))
	}
	args = append(args, definitions("-D", o.BuildDefs)...)
	args = append(args, o.BuildOpts...)
	return o.run(ctx, tool.Meson, args, o.BuildEnv)
}

// Install implements Builder
func (Meson) Install(ctx context.Context, o *Options) error {
	for _, dest := range o.DestDirs() {
		args := []string{"install", "-C", mesonDir(o), "--no-rebuild", "--destdir", dest}
		args = append(args, definitions("-D", o.InstallDefs)...)
		args = append(args, o.InstallOpts...)
		if err := o.run(ctx, tool.Meson, args, o.InstallEnv); err != nil {
			return err
		}
	}
	return nil
}

// SCons builds packages with scons
type SCons struct{}

// Configure implements Builder. SCons has no separate configuration step;
// configuration arguments are passed to every invocation.
func (SCons) Configure(ctx context.Context, o *Options) error {
	if len(o.ConfDefs) == 0 && len(o.ConfOpts) == 0 {
		return nil
	}
	args := append(definitions("", o.ConfDefs), o.ConfOpts...)
	return o.run(ctx, tool.SCons, args, o.ConfEnv)
}

// Build implements Builder
func (SCons) Build(ctx context.Context, o *Options) error {
	args := o.jobsArg("-j")
	args = append(args, definitions("", o.BuildDefs)...)
	args = append(args, o.BuildOpts...)
	return o.run(ctx, tool.SCons, args, o.BuildEnv)
}

// Install implements Builder
func (SCons) Install(ctx context.Context, o *Options) error {
	for _, dest := range o.DestDirs() {
		args := []string{"install", "PREFIX=" + o.Prefix, "DESTDIR=" + dest}
		args = append(args, definitions("", o.InstallDefs)...)
		args = append(args, o.InstallOpts...)
		if err := o.run(ctx, tool.SCons, args, o.InstallEnv); err != nil {
			return err
		}
	}
	return nil
}

// Waf builds packages with a bundled (or host) waf script
type Waf struct{}

func waf(o *Options) *tool.Tool {
	if local := filepath.Join(o.Dir, "waf"); utils.FileExists(local) {
		return tool.New(local)
	}
	return tool.New("waf")
}

// Configure implements Builder
func (Waf) Configure(ctx context.Context, o *Options) error {
	args := []string{"configure", "--prefix=" + o.Prefix}
	args = append(args, definitions("--", o.ConfDefs)...)
	args = append(args, o.ConfOpts...)
	return o.run(ctx, waf(o), args, o.ConfEnv)
}

// Build implements Builder
func (Waf) Build(ctx context.Context, o *Options) error {
	args := append([]string{"build"}, o.jobsArg("-j")...)
	args = append(args, definitions("--", o.BuildDefs)...)
	args = append(args, o.BuildOpts...)
	return o.run(ctx, waf(o), args, o.BuildEnv)
}

// Install implements Builder
func (Waf) Install(ctx context.Context, o *Options) error {
	for _, dest := range o.DestDirs() {
		args := []string{"install", "--destdir=" + dest}
		args = append(args, definitions("--", o.InstallDefs)...)
		args = append(args, o.InstallOpts...)
		if err := o.run(ctx, waf(o), args, o.InstallEnv); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ Builder = Meson{}
	_ Builder = SCons{}
	_ Builder = Waf{}
)
