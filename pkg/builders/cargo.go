package builders

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// CargoTargetDir is the target directory shared by every cargo package,
// relative to the global build directory
const CargoTargetDir = ".releng-tool-cargo-target"

// Cargo builds rust packages
type Cargo struct{}

// Configure implements Builder. Cargo packages have no configuration
// step.
func (Cargo) Configure(context.Context, *Options) error {
	return nil
}

// Build implements Builder
func (Cargo) Build(ctx context.Context, o *Options) error {
	patches, err := CargoPatches(o.Pkg, o.Packages)
	if err != nil {
		return err
	}

	args := []string{"build", "--release", "--target-dir", cargoTarget(o)}
	if o.Jobs > 0 {
		args = append(args, "--jobs", strconv.Itoa(o.Jobs))
	}
	args = append(args, patches...)
	args = append(args, cargoConfig(o.BuildDefs)...)
	args = append(args, o.BuildOpts...)
	return o.run(ctx, tool.Cargo, args, o.BuildEnv)
}

// Install implements Builder
func (Cargo) Install(ctx context.Context, o *Options) error {
	patches, err := CargoPatches(o.Pkg, o.Packages)
	if err != nil {
		return err
	}

	for _, dest := range o.DestDirs() {
		args := []string{
			"install",
			"--no-track",
			"--offline",
			"--path", ".",
			"--root", o.PrefixedDir(dest),
			"--target-dir", cargoTarget(o),
		}
		args = append(args, patches...)
		args = append(args, cargoConfig(o.InstallDefs)...)
		args = append(args, o.InstallOpts...)
		if err := o.run(ctx, tool.Cargo, args, o.InstallEnv); err != nil {
			return err
		}
	}
	return nil
}

func cargoTarget(o *Options) string {
	root := filepath.Dir(o.Pkg.BuildDir)
	if o.Opts != nil && o.Opts.BuildDir != "" {
		root = o.Opts.BuildDir
	}
	return filepath.Join(root, CargoTargetDir)
}

func cargoConfig(defs map[string]string) []string {
	var args []string
	for _, def := range definitions("", defs) {
		args = append(args, "--config", def)
	}
	return args
}

type cargoManifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Dependencies map[string]any `toml:"dependencies"`
}

// crates returns the crate names a manifest depends on, resolving
// renamed dependencies to their package name
func (m *cargoManifest) crates() []string {
	names := make([]string, 0, len(m.Dependencies))
	for name, spec := range m.Dependencies {
		if table, ok := spec.(map[string]any); ok {
			if pkg, ok := table["package"].(string); ok && pkg != "" {
				name = pkg
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func readCargoManifest(dir string) (*cargoManifest, error) {
	path := filepath.Join(dir, "Cargo.toml")
	if !utils.FileExists(path) {
		return nil, nil
	}
	var manifest cargoManifest
	if _, err := toml.DecodeFile(path, &manifest); err != nil {
		return nil, types.Wrap(types.ErrConfiguration, fmt.Errorf("unable to parse %s: %w", path, err))
	}
	return &manifest, nil
}

// CargoPatches computes the crates.io patch arguments which point the
// dependencies of a cargo package (and their own dependencies) at the
// sources of other cargo packages in the project
func CargoPatches(pkg *packages.Package, all []*packages.Package) ([]string, error) {
	local := map[string]string{}
	manifests := map[string]*cargoManifest{}
	for _, other := range all {
		if other.Type != types.PackageTypeCargo {
			continue
		}
		manifest, err := readCargoManifest(other.WorkDir())
		if err != nil {
			return nil, err
		}
		if manifest == nil || manifest.Package.Name == "" {
			continue
		}
		local[manifest.Package.Name] = other.WorkDir()
		manifests[manifest.Package.Name] = manifest
	}

	root, err := readCargoManifest(pkg.WorkDir())
	if err != nil || root == nil {
		return nil, err
	}

	seen := map[string]bool{root.Package.Name: true}
	queue := root.crates()
	var patched []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}
		seen[name] = true

		if _, ok := local[name]; !ok {
			continue
		}
		patched = append(patched, name)
		queue = append(queue, manifests[name].crates()...)
	}
	sort.Strings(patched)

	args := make([]string, 0, len(patched)*2)
	for _, name := range patched {
		path := filepath.ToSlash(local[name])
		args = append(args, "--config", fmt.Sprintf("patch.crates-io.%q.path=%q", name, path))
	}
	return args, nil
}

var _ Builder = Cargo{}
