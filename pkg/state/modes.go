package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"

	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

const (
	// DevmodeFlagFile persists development mode (content is the mode name)
	DevmodeFlagFile = ".releng-flag-devmode"

	// LocalSourcesFlagFile persists local-sources mode as a JSON object
	LocalSourcesFlagFile = ".releng-flag-local-sources"

	// GlobalLocalSources is the local-sources key applying to every package
	GlobalLocalSources = ""

	// UnsetMode is the value clearing a persisted mode
	UnsetMode = "unset"
)

// ModeFlags manages the persisted project mode flag files
type ModeFlags struct {
	root string
}

// NewModeFlags creates a mode flag manager for a project root
func NewModeFlags(root string) *ModeFlags {
	return &ModeFlags{root: root}
}

// DevmodePath returns the devmode flag file location
func (m *ModeFlags) DevmodePath() string {
	return filepath.Join(m.root, DevmodeFlagFile)
}

// LocalSourcesPath returns the local-sources flag file location
func (m *ModeFlags) LocalSourcesPath() string {
	return filepath.Join(m.root, LocalSourcesFlagFile)
}

// Devmode returns the persisted development mode. The mode name may be
// empty for the default development mode.
func (m *ModeFlags) Devmode() (string, bool, error) {
	data, err := os.ReadFile(m.DevmodePath())
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, types.Wrap(types.ErrIO, err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// SetDevmode persists development mode
func (m *ModeFlags) SetDevmode(mode string) error {
	if err := renameio.WriteFile(m.DevmodePath(), []byte(mode), 0o644); err != nil {
		return types.Wrap(types.ErrIO, fmt.Errorf("unable to configure development mode: %w", err))
	}
	return nil
}

// ClearDevmode removes the persisted development mode
func (m *ModeFlags) ClearDevmode() error {
	return removeFlag(m.DevmodePath())
}

// LocalSources returns the persisted local-sources map. Keys are package
// names (GlobalLocalSources for the default entry); an empty value for a
// package disables local sources for it.
func (m *ModeFlags) LocalSources() (map[string]string, bool, error) {
	data, err := os.ReadFile(m.LocalSourcesPath())
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.Wrap(types.ErrIO, err)
	}

	srcs := map[string]string{}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &srcs); err != nil {
			return nil, false, types.Errorf(types.ErrConfiguration,
				"invalid local-sources flag file %s: %v", m.LocalSourcesPath(), err)
		}
	}
	return srcs, true, nil
}

// SetLocalSources persists the local-sources map
func (m *ModeFlags) SetLocalSources(srcs map[string]string) error {
	data, err := json.MarshalIndent(srcs, "", "    ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(m.LocalSourcesPath(), data, 0o644); err != nil {
		return types.Wrap(types.ErrIO, fmt.Errorf("unable to configure local-sources mode: %w", err))
	}
	return nil
}

// ClearLocalSources removes the persisted local-sources map
func (m *ModeFlags) ClearLocalSources() error {
	return removeFlag(m.LocalSourcesPath())
}

// Clear removes every mode flag file
func (m *ModeFlags) Clear() error {
	if err := m.ClearDevmode(); err != nil {
		return err
	}
	return m.ClearLocalSources()
}

// ParseLocalSource splits a --local-sources argument into a package name
// and a path. "pkg:dir" targets one package, "pkg:" disables it for that
// package and a bare path (or empty value) configures the global entry.
// Windows drive letters are not treated as package separators.
func ParseLocalSource(value string) (string, string) {
	idx := strings.Index(value, ":")
	if idx <= 0 || isDrivePath(value) {
		return GlobalLocalSources, value
	}
	return value[:idx], value[idx+1:]
}

func isDrivePath(value string) bool {
	if len(value) < 3 || value[1] != ':' {
		return false
	}
	c := value[0]
	isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
	return isLetter && (value[2] == '\\' || value[2] == '/')
}

func removeFlag(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return types.Wrap(types.ErrIO, err)
	}
	return nil
}
