package builders

import (
	"context"
	"path/filepath"

	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
)

// Autotools builds packages driven by a configure script and make
type Autotools struct{}

// Configure implements Builder
func (Autotools) Configure(ctx context.Context, o *Options) error {
	if o.Pkg.AutotoolsAutoreconf {
		if err := o.run(ctx, tool.Autoreconf, []string{"--verbose"}, o.ConfEnv); err != nil {
			return err
		}
	}

	prefix := o.Prefix
	if prefix == "" {
		// configure rejects an empty prefix
		prefix = "/"
	}
	args := []string{"--prefix=" + prefix, "--exec-prefix=" + prefix}
	args = append(args, definitions("", o.ConfDefs)...)
	args = append(args, o.ConfOpts...)

	configure := tool.New(filepath.Join(o.Dir, "configure"))
	return o.run(ctx, configure, args, o.ConfEnv)
}

// Build implements Builder
func (Autotools) Build(ctx context.Context, o *Options) error {
	return makeBuild(ctx, o)
}

// Install implements Builder
func (Autotools) Install(ctx context.Context, o *Options) error {
	return makeInstall(ctx, o, "install")
}

// Make builds packages with a plain makefile
type Make struct{}

// Configure implements Builder. Makefile packages only configure when
// configuration arguments were provided.
func (Make) Configure(ctx context.Context, o *Options) error {
	if len(o.ConfDefs) == 0 && len(o.ConfOpts) == 0 {
		return nil
	}
	args := append(definitions("", o.ConfDefs), o.ConfOpts...)
	return o.run(ctx, tool.Make, args, o.ConfEnv)
}

// Build implements Builder
func (Make) Build(ctx context.Context, o *Options) error {
	return makeBuild(ctx, o)
}

// Install implements Builder. Install options replace the default
// install target.
func (Make) Install(ctx context.Context, o *Options) error {
	if len(o.InstallOpts) > 0 {
		return makeInstall(ctx, o)
	}
	return makeInstall(ctx, o, "install")
}

func makeBuild(ctx context.Context, o *Options) error {
	args := o.jobsArg("--jobs=")
	args = append(args, definitions("", o.BuildDefs)...)
	args = append(args, o.BuildOpts...)
	return o.run(ctx, tool.Make, args, o.BuildEnv)
}

func makeInstall(ctx context.Context, o *Options, targets ...string) error {
	for _, dest := range o.DestDirs() {
		args := append([]string{}, targets...)
		args = append(args, "DESTDIR="+dest)
		args = append(args, definitions("", o.InstallDefs)...)
		args = append(args, o.InstallOpts...)
		if err := o.run(ctx, tool.Make, args, o.InstallEnv); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ Builder = Autotools{}
	_ Builder = Make{}
)
