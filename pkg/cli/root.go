// Package cli provides the command-line interface for releng-tool
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/releng-tool/releng-tool-sub001/internal/engine"
	"github.com/releng-tool/releng-tool-sub001/pkg/config"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/process"
	"github.com/releng-tool/releng-tool-sub001/pkg/script"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// CLI encapsulates the command-line interface
type CLI struct {
	config   *Config
	rootCmd  *cobra.Command
	logger   logger.Logger
	output   io.Writer
	errorOut io.Writer
}

// NewCLI creates a new CLI instance with the given configuration
func NewCLI(config *Config) *CLI {
	if config == nil {
		config = NewConfig()
	}

	cli := &CLI{
		config:   config,
		output:   os.Stdout,
		errorOut: os.Stderr,
	}

	cli.setupCommand()
	return cli
}

// NewCLIWithOutput creates a CLI with custom output writers (for testing)
func NewCLIWithOutput(config *Config, output, errorOut io.Writer) *CLI {
	cli := NewCLI(config)
	cli.output = output
	cli.errorOut = errorOut
	cli.rootCmd.SetOut(output)
	cli.rootCmd.SetErr(errorOut)
	return cli
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support. Errors are reported
// through the logger before being returned.
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.FParseErrWhitelist.UnknownFlags = relaxed(args)
	c.rootCmd.SetArgs(args)

	err := c.rootCmd.ExecuteContext(ctx)
	if err != nil {
		c.report(err)
	}
	return err
}

// ExitCode maps a run error onto a process exit code
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *script.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// Main runs the command line and returns the process exit code
func Main(version string, args []string) int {
	cfg := NewConfig()
	cfg.Version = version
	return ExitCode(NewCLI(cfg).Execute(args))
}

func (c *CLI) setupCommand() {
	c.rootCmd = &cobra.Command{
		Use:   "releng-tool [action] [KEY=VALUE ...] [-- args]",
		Short: "Release engineering tool for multi-package projects",
		Long: `releng-tool drives every package of a project through its fetch,
extract, patch, configure, build and install stages into a layered sysroot.

Actions are either global (clean, distclean, extract, fetch, fetch-full,
init, licenses, mrproper, patch, punch, sbom) or package-specific in the
form <package>[-<action>].`,
		Version:       c.config.Version,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          c.run,
	}
	c.rootCmd.SetVersionTemplate("releng-tool {{.Version}}\n")

	c.setupFlags()
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.Flags()
	cfg := c.config

	flags.StringVar(&cfg.RootDir, "root-dir", "", "directory of the project (default: working directory)")
	flags.StringVar(&cfg.OutDir, "out-dir", "", "output directory")
	flags.StringVar(&cfg.AssetsDir, "assets-dir", "", "container directory for cache and download content")
	flags.StringVar(&cfg.CacheDir, "cache-dir", "", "cache directory for version control sources")
	flags.StringVar(&cfg.DlDir, "dl-dir", "", "download directory for archives")
	flags.StringVar(&cfg.ImagesDir, "images-dir", "", "images directory")
	flags.StringVar(&cfg.ConfigFile, "config", "", "project configuration script")
	flags.IntVarP(&cfg.Jobs, "jobs", "j", 0, "number of jobs for builders (0: automatic)")

	flags.StringVarP(&cfg.Development, "development", "D", "", "enable development mode (as --development[=mode], or unset)")
	flags.Lookup("development").NoOptDefVal = optionalDefault
	flags.StringArrayVarP(&cfg.LocalSources, "local-sources", "L", nil,
		"use local sources (as --local-sources[=[pkg:]dir], or unset)")
	flags.Lookup("local-sources").NoOptDefVal = optionalDefault

	flags.BoolVarP(&cfg.Force, "force", "F", false, "ignore cached sources and trigger stages again")
	flags.BoolVar(&cfg.OnlyMirror, "only-mirror", false, "only fetch external sources through the configured mirror")
	flags.BoolVarP(&cfg.Debug, "debug", "d", false, "show debug-related messages")
	flags.BoolVarP(&cfg.Verbose, "verbose", "V", false, "show additional messages")
	flags.BoolVar(&cfg.NoColor, "nocolorout", false, "explicitly disable colorized output")
	flags.BoolVar(&cfg.Werror, "werror", false, "treat warnings as errors")
	flags.BoolVar(&cfg.RelaxedArgs, "relaxed-args", false, "permit unknown arguments")

	flags.StringSliceVar(&cfg.Profiles, "profile", nil, "profile(s) to apply")
	flags.StringSliceVar(&cfg.Quirks, "quirk", nil, "quirk(s) to apply")
	flags.StringSliceVar(&cfg.SbomFormats, "sbom-format", nil, "bill of materials format(s) (csv, json, text, yaml)")
}

func (c *CLI) run(cmd *cobra.Command, args []string) error {
	cfg := c.config
	log := logger.New(logger.Options{
		Debug:   cfg.Debug,
		Verbose: cfg.Verbose,
		NoColor: cfg.NoColor,
		Out:     c.output,
	})
	c.logger = log

	parsed, err := ParseArguments(args, cmd.ArgsLenAtDash(), cfg.RelaxedArgs, log)
	if err != nil {
		return err
	}

	opts, err := c.options()
	if err != nil {
		return err
	}
	parsed.Apply(opts)

	var changes modeChanges
	if cmd.Flags().Changed("development") {
		mode := cfg.Development
		changes.Development = &mode
	}
	if cmd.Flags().Changed("local-sources") {
		changes.LocalSources = cfg.LocalSources
	}
	if err := applyModes(opts, changes, log); err != nil {
		return err
	}
	// configuring a mode without an action only persists it
	if changes.any() && !parsed.HasAction() {
		return nil
	}

	pm := process.NewManager(log)
	ctx := pm.Start(cmd.Context())
	defer pm.Stop()

	deps := engine.NewDependencyFactory(opts, log, cfg.Version).CreateWithOverrides(cfg.Overrides)
	e := engine.New(opts, log, cfg.Version, deps)
	e.Stdout = c.output
	e.Shutdown = pm

	err = e.Run(ctx)
	if err != nil && pm.Interrupted() {
		return types.Wrap(types.ErrUserAbort, err)
	}
	return err
}

// options builds the engine options from the command line values
func (c *CLI) options() (*config.Options, error) {
	cfg := c.config
	opts := config.NewOptions()
	opts.RootDir = cfg.RootDir
	opts.ConfigFile = cfg.ConfigFile
	opts.OutDir = cfg.OutDir
	opts.AssetsDir = cfg.AssetsDir
	opts.CacheDir = cfg.CacheDir
	opts.DlDir = cfg.DlDir
	opts.ImagesDir = cfg.ImagesDir
	opts.JobsConf = cfg.Jobs
	opts.Force = cfg.Force
	opts.OnlyMirror = cfg.OnlyMirror
	opts.Debug = cfg.Debug
	opts.Verbose = cfg.Verbose
	opts.NoColor = cfg.NoColor
	opts.Werror = cfg.Werror
	opts.RelaxedArgs = cfg.RelaxedArgs
	opts.Profiles = cfg.Profiles
	opts.SbomFormats = cfg.SbomFormats
	for _, q := range cfg.Quirks {
		opts.Quirks[q] = true
	}

	if err := opts.Resolve(config.NewEnvironment()); err != nil {
		return nil, err
	}
	return opts, nil
}

// report prints a run error; a script exit without a message stays silent
func (c *CLI) report(err error) {
	var exitErr *script.ExitError
	if errors.As(err, &exitErr) && (exitErr.Code == 0 || exitErr.Message == "") {
		return
	}

	if c.logger == nil {
		fmt.Fprintf(c.errorOut, "error: %v\n", err)
		return
	}
	c.logger.Error(err.Error())
}

// relaxed reports whether unknown flags are permitted, which must be known
// before flag parsing
func relaxed(args []string) bool {
	for _, arg := range args {
		if arg == "--" {
			return false
		}
		if name, value, ok := strings.Cut(arg, "="); name == "--relaxed-args" {
			return !ok || value == "true" || value == "1"
		}
	}
	return false
}
