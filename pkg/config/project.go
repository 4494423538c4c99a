package config

import (
	"context"
	"path/filepath"

	"github.com/releng-tool/releng-tool-sub001/pkg/script"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// Project script names in the order they are searched
var ProjectScripts = []string{"releng-tool.rt", "releng-tool.releng", "releng"}

// PostScripts are the optional post-processing scripts searched for
var PostScripts = []string{"releng-tool-post.rt", "releng-tool-post.releng", "releng-post"}

// Project configuration keys
const (
	KeyCacheExt             = "cache_ext"
	KeyDefaultInternal      = "default_internal"
	KeyExtensions           = "extensions"
	KeyExternalPackages     = "external_packages"
	KeyLicenseHeader        = "license_header"
	KeyOverrideExtractTools = "override_extract_tools"
	KeyOverrideRevisions    = "override_revisions"
	KeyOverrideSites        = "override_sites"
	KeyPackages             = "packages"
	KeyPrerequisites        = "prerequisites"
	KeyQuirks               = "quirks"
	KeySbomFormat           = "sbom_format"
	KeySysrootPrefix        = "sysroot_prefix"
	KeyURLMirror            = "url_mirror"
)

// ProjectConfig is the configuration harvested from the project script
type ProjectConfig struct {
	Path string

	Packages             []string
	DefaultInternal      bool
	Extensions           []string
	ExternalPackages     []string
	LicenseHeader        string
	OverrideExtractTools map[string]string
	OverrideRevisions    map[string]string
	OverrideSites        map[string]string
	Prerequisites        []string
	Quirks               []string
	SbomFormats          []string
	SysrootPrefix        string
	URLMirror            string
	CacheExt             *script.Callable

	// Globals holds the filtered script namespace exported to later scripts
	Globals map[string]any
}

// FindProjectScript locates the project configuration script
func FindProjectScript(root, configFile string) (string, error) {
	if configFile != "" {
		if !filepath.IsAbs(configFile) {
			configFile = filepath.Join(root, configFile)
		}
		if !utils.FileExists(configFile) {
			return "", types.Errorf(types.ErrConfiguration, "configuration file does not exist: %s", configFile)
		}
		return configFile, nil
	}

	for _, name := range ProjectScripts {
		path := filepath.Join(root, name)
		if utils.FileExists(path) {
			return path, nil
		}
	}
	return "", types.Errorf(types.ErrConfiguration,
		"missing project configuration %s", filepath.Join(root, ProjectScripts[0]))
}

// FindPostScript locates the optional post-processing script
func FindPostScript(root string) (string, bool) {
	for _, name := range PostScripts {
		path := filepath.Join(root, name)
		if utils.FileExists(path) {
			return path, true
		}
	}
	return "", false
}

// LoadProject evaluates the project script and harvests its configuration
func LoadProject(ctx context.Context, runner *script.Runner, path string, env map[string]any) (*ProjectConfig, error) {
	result, err := runner.RunContext(ctx, path, env)
	if err != nil {
		return nil, err
	}
	return ParseProject(path, Values(result))
}

// ParseProject harvests the project keys from an evaluated namespace
func ParseProject(path string, values Values) (*ProjectConfig, error) {
	pc := &ProjectConfig{Path: path}
	var err error

	pkgs, ok, err := values.Strings(KeyPackages)
	if err != nil {
		return nil, err
	}
	if !ok || len(pkgs) == 0 {
		return nil, types.Errorf(types.ErrConfiguration, "project %s does not define any packages", path)
	}
	pc.Packages = pkgs

	if pc.DefaultInternal, _, err = values.Bool(KeyDefaultInternal); err != nil {
		return nil, err
	}
	if pc.Extensions, _, err = values.Strings(KeyExtensions); err != nil {
		return nil, err
	}
	if pc.ExternalPackages, _, err = values.Strings(KeyExternalPackages); err != nil {
		return nil, err
	}
	if pc.LicenseHeader, _, err = values.String(KeyLicenseHeader); err != nil {
		return nil, err
	}
	if pc.OverrideExtractTools, _, err = values.StringMap(KeyOverrideExtractTools); err != nil {
		return nil, err
	}
	if pc.OverrideRevisions, _, err = values.StringMap(KeyOverrideRevisions); err != nil {
		return nil, err
	}
	if pc.OverrideSites, _, err = values.StringMap(KeyOverrideSites); err != nil {
		return nil, err
	}
	if pc.Prerequisites, _, err = values.Strings(KeyPrerequisites); err != nil {
		return nil, err
	}
	if pc.Quirks, _, err = values.Strings(KeyQuirks); err != nil {
		return nil, err
	}
	if pc.SbomFormats, _, err = values.Strings(KeySbomFormat); err != nil {
		return nil, err
	}
	if pc.SysrootPrefix, _, err = values.String(KeySysrootPrefix); err != nil {
		return nil, err
	}
	if pc.URLMirror, _, err = values.String(KeyURLMirror); err != nil {
		return nil, err
	}
	if pc.CacheExt, _, err = values.Callable(KeyCacheExt); err != nil {
		return nil, err
	}

	pc.Globals = script.FilterGlobals(values)
	return pc, nil
}
