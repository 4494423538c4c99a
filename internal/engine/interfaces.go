package engine

import (
	"context"

	"github.com/releng-tool/releng-tool-sub001/pkg/builders"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// BuilderFactory selects the builder of a package type.
// Implemented by builders.Factory; tests substitute recording builders.
type BuilderFactory interface {
	For(t types.PackageType) (builders.Builder, error)
	Has(name string) bool
}

// PrerequisiteChecker verifies the host tools required by a package set.
// Implemented by prerequisites.Checker.
type PrerequisiteChecker interface {
	Check(ctx context.Context, pkgs []*packages.Package) error
}

// The fetcher and extractor registries, the script runner and the license
// and sbom writers are used through their concrete types. They have a
// single implementation and accept extensions through Register.
