package cli

import (
	"path/filepath"

	"github.com/releng-tool/releng-tool-sub001/pkg/config"
	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/state"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// optionalDefault is the value of a mode flag given without a value
const optionalDefault = "<default>"

// modeChanges are mode flag values given on the command line; nil fields
// leave the persisted mode untouched
type modeChanges struct {
	Development  *string
	LocalSources []string
}

func (m modeChanges) any() bool {
	return m.Development != nil || m.LocalSources != nil
}

// applyModes persists requested mode changes in the root directory and
// loads the active modes into the options
func applyModes(opts *config.Options, changes modeChanges, log logger.Logger) error {
	modes := state.NewModeFlags(opts.RootDir)

	if changes.Development != nil {
		mode := *changes.Development
		switch mode {
		case state.UnsetMode:
			if err := modes.ClearDevmode(); err != nil {
				return err
			}
			log.Success("development mode disabled")
		default:
			if mode == optionalDefault {
				mode = ""
			}
			if err := modes.SetDevmode(mode); err != nil {
				return err
			}
			if mode == "" {
				log.Success("development mode enabled")
			} else {
				log.Success("development mode enabled: " + mode)
			}
		}
	}

	if changes.LocalSources != nil {
		if err := applyLocalSources(modes, changes.LocalSources, log); err != nil {
			return err
		}
	}

	mode, enabled, err := modes.Devmode()
	if err != nil {
		return err
	}
	opts.Devmode = enabled
	opts.DevmodeMode = mode

	srcs, enabled, err := modes.LocalSources()
	if err != nil {
		return err
	}
	if enabled {
		if srcs == nil {
			srcs = map[string]string{}
		}
		opts.LocalSrcs = srcs
	}
	return nil
}

// applyLocalSources merges --local-sources values into the persisted map.
// Relative paths are resolved against the working directory.
func applyLocalSources(modes *state.ModeFlags, values []string, log logger.Logger) error {
	for _, value := range values {
		if value == state.UnsetMode {
			if err := modes.ClearLocalSources(); err != nil {
				return err
			}
			log.Success("local-sources mode disabled")
			return nil
		}
	}

	srcs, _, err := modes.LocalSources()
	if err != nil {
		return err
	}
	if srcs == nil {
		srcs = map[string]string{}
	}

	for _, value := range values {
		if value == optionalDefault {
			value = ""
		}
		name, path := state.ParseLocalSource(value)
		if path != "" {
			abs, err := filepath.Abs(path)
			if err != nil {
				return types.Wrap(types.ErrIO, err)
			}
			path = abs
		}
		srcs[name] = path

		switch {
		case name == state.GlobalLocalSources && path == "":
			log.Verbose("local sources: default location")
		case name == state.GlobalLocalSources:
			log.Verbose("local sources: " + path)
		case path == "":
			log.Verbose("local sources disabled for " + name)
		default:
			log.Verbose("local sources for " + name + ": " + path)
		}
	}

	if err := modes.SetLocalSources(srcs); err != nil {
		return err
	}
	log.Success("local-sources mode enabled")
	return nil
}
