package engine

import (
	"github.com/releng-tool/releng-tool-sub001/pkg/builders"
	"github.com/releng-tool/releng-tool-sub001/pkg/config"
	"github.com/releng-tool/releng-tool-sub001/pkg/extract"
	"github.com/releng-tool/releng-tool-sub001/pkg/fetch"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/prerequisites"
	"github.com/releng-tool/releng-tool-sub001/pkg/script"
)

// Dependencies are the collaborators an engine dispatches to
type Dependencies struct {
	Fetchers      *fetch.Registry
	Extractors    *extract.Registry
	Builders      BuilderFactory
	Runner        *script.Runner
	Prerequisites PrerequisiteChecker
}

// DependencyFactory creates default implementations of dependencies.
// Constructors receive every collaborator explicitly; nothing falls back
// to a hidden concrete type.
type DependencyFactory struct {
	opts    *config.Options
	logger  logger.Logger
	version string
}

// NewDependencyFactory creates a new dependency factory
func NewDependencyFactory(opts *config.Options, log logger.Logger, version string) *DependencyFactory {
	if log == nil {
		log = logger.Discard()
	}
	return &DependencyFactory{opts: opts, logger: log, version: version}
}

// CreateDefaults creates the built-in registries, runner and checker
func (f *DependencyFactory) CreateDefaults() Dependencies {
	return Dependencies{
		Fetchers:      fetch.NewRegistry(),
		Extractors:    extract.NewRegistry(),
		Builders:      builders.NewFactory(),
		Runner:        f.createRunner(),
		Prerequisites: prerequisites.NewChecker(f.opts, f.logger),
	}
}

// CreateWithOverrides creates dependencies with specific overrides.
// Non-nil values replace the defaults.
func (f *DependencyFactory) CreateWithOverrides(overrides Dependencies) Dependencies {
	deps := f.CreateDefaults()

	if overrides.Fetchers != nil {
		deps.Fetchers = overrides.Fetchers
	}
	if overrides.Extractors != nil {
		deps.Extractors = overrides.Extractors
	}
	if overrides.Builders != nil {
		deps.Builders = overrides.Builders
	}
	if overrides.Runner != nil {
		deps.Runner = overrides.Runner
	}
	if overrides.Prerequisites != nil {
		deps.Prerequisites = overrides.Prerequisites
	}
	return deps
}

func (f *DependencyFactory) createRunner() *script.Runner {
	runner := script.NewRunner(f.logger, f.version)
	runner.Verbose = f.opts.Verbose || f.opts.Debug
	return runner
}
