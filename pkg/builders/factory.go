package builders

import (
	"strings"

	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// ExtensionPrefix prefixes the registry names of extension builders
const ExtensionPrefix = "ext-"

// Factory creates builders based on package type
type Factory struct {
	extensions map[string]Builder
}

// NewFactory creates a factory for the built-in package types
func NewFactory() *Factory {
	return &Factory{extensions: map[string]Builder{}}
}

// Register adds an extension builder under "ext-<name>"
func (f *Factory) Register(name string, b Builder) {
	f.extensions[ExtensionPrefix+strings.TrimPrefix(name, ExtensionPrefix)] = b
}

// Has reports whether an extension builder is registered
func (f *Factory) Has(name string) bool {
	_, ok := f.extensions[ExtensionPrefix+strings.TrimPrefix(name, ExtensionPrefix)]
	return ok
}

// For returns the builder of a package type
func (f *Factory) For(t types.PackageType) (Builder, error) {
	switch t {
	case types.PackageTypeAutotools:
		return Autotools{}, nil

	case types.PackageTypeCargo:
		return Cargo{}, nil

	case types.PackageTypeCMake:
		return CMake{}, nil

	case types.PackageTypeMake:
		return Make{}, nil

	case types.PackageTypeMeson:
		return Meson{}, nil

	case types.PackageTypePython:
		return Python{}, nil

	case types.PackageTypeSCons:
		return SCons{}, nil

	case types.PackageTypeScript:
		return Script{}, nil

	case types.PackageTypeWaf:
		return Waf{}, nil
	}

	if b, ok := f.extensions[string(t)]; ok {
		return b, nil
	}
	if b, ok := f.extensions[ExtensionPrefix+string(t)]; ok {
		return b, nil
	}
	return nil, types.Errorf(types.ErrConfiguration, "unknown package type: %s", t)
}
