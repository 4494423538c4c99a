package cli

import (
	"github.com/releng-tool/releng-tool-sub001/internal/engine"
)

// Config holds the command line values of a run
type Config struct {
	Version string

	RootDir    string
	OutDir     string
	AssetsDir  string
	CacheDir   string
	DlDir      string
	ImagesDir  string
	ConfigFile string

	Jobs         int
	Development  string
	LocalSources []string

	Force       bool
	OnlyMirror  bool
	Debug       bool
	Verbose     bool
	NoColor     bool
	Werror      bool
	RelaxedArgs bool

	Profiles    []string
	Quirks      []string
	SbomFormats []string

	// Overrides replace engine collaborators (tests and embedders)
	Overrides engine.Dependencies
}

// NewConfig creates a CLI configuration with defaults
func NewConfig() *Config {
	return &Config{Version: "0.0.0"}
}
