// Package types provides core enumerations shared across releng-tool
package types

import (
	"sort"
	"strings"
)

// VcsType represents the source origin of a package
type VcsType string

const (
	VcsTypeNone     VcsType = "none"
	VcsTypeLocal    VcsType = "local"
	VcsTypeURL      VcsType = "url"
	VcsTypeFile     VcsType = "file"
	VcsTypeGit      VcsType = "git"
	VcsTypeHg       VcsType = "hg"
	VcsTypeSvn      VcsType = "svn"
	VcsTypeCvs      VcsType = "cvs"
	VcsTypeBrz      VcsType = "brz"
	VcsTypeBzr      VcsType = "bzr"
	VcsTypeScp      VcsType = "scp"
	VcsTypeRsync    VcsType = "rsync"
	VcsTypePerforce VcsType = "perforce"
)

// VcsTypes lists every built-in VCS type
var VcsTypes = []VcsType{
	VcsTypeNone, VcsTypeLocal, VcsTypeURL, VcsTypeFile, VcsTypeGit, VcsTypeHg,
	VcsTypeSvn, VcsTypeCvs, VcsTypeBrz, VcsTypeBzr, VcsTypeScp, VcsTypeRsync,
	VcsTypePerforce,
}

// IsDVCS reports whether the VCS keeps a repository cache directory
func (v VcsType) IsDVCS() bool {
	return v == VcsTypeGit || v == VcsTypeHg
}

// IsSourced reports whether the VCS type provides sources to fetch
func (v VcsType) IsSourced() bool {
	return v != VcsTypeNone && v != VcsTypeLocal
}

// PackageType represents the builder used for a package
type PackageType string

const (
	PackageTypeScript    PackageType = "script"
	PackageTypeAutotools PackageType = "autotools"
	PackageTypeCMake     PackageType = "cmake"
	PackageTypeMake      PackageType = "make"
	PackageTypeMeson     PackageType = "meson"
	PackageTypeSCons     PackageType = "scons"
	PackageTypeCargo     PackageType = "cargo"
	PackageTypePython    PackageType = "python"
	PackageTypeWaf       PackageType = "waf"
)

// PackageTypes lists every built-in package type
var PackageTypes = []PackageType{
	PackageTypeScript, PackageTypeAutotools, PackageTypeCMake, PackageTypeMake,
	PackageTypeMeson, PackageTypeSCons, PackageTypeCargo, PackageTypePython,
	PackageTypeWaf,
}

// InstallType represents the sysroot a package installs into
type InstallType string

const (
	InstallTypeHost             InstallType = "host"
	InstallTypeStaging          InstallType = "staging"
	InstallTypeTarget           InstallType = "target"
	InstallTypeStagingAndTarget InstallType = "staging_and_target"
	InstallTypeImages           InstallType = "images"
)

// InstallTypes lists every install type
var InstallTypes = []InstallType{
	InstallTypeHost, InstallTypeStaging, InstallTypeTarget,
	InstallTypeStagingAndTarget, InstallTypeImages,
}

// PythonSetupType represents the python build backend driver
type PythonSetupType string

const (
	PythonSetupTypeDistutils  PythonSetupType = "distutils"
	PythonSetupTypeSetuptools PythonSetupType = "setuptools"
	PythonSetupTypeFlit       PythonSetupType = "flit"
	PythonSetupTypeHatch      PythonSetupType = "hatch"
	PythonSetupTypePdm        PythonSetupType = "pdm"
	PythonSetupTypePoetry     PythonSetupType = "poetry"
	PythonSetupTypePep517     PythonSetupType = "pep517"
)

// PythonSetupTypes lists every python setup type
var PythonSetupTypes = []PythonSetupType{
	PythonSetupTypeDistutils, PythonSetupTypeSetuptools, PythonSetupTypeFlit,
	PythonSetupTypeHatch, PythonSetupTypePdm, PythonSetupTypePoetry,
	PythonSetupTypePep517,
}

// GlobalAction represents a project-wide action
type GlobalAction string

const (
	GlobalActionNone      GlobalAction = ""
	GlobalActionClean     GlobalAction = "clean"
	GlobalActionDistclean GlobalAction = "distclean"
	GlobalActionMrproper  GlobalAction = "mrproper"
	GlobalActionExtract   GlobalAction = "extract"
	GlobalActionFetch     GlobalAction = "fetch"
	GlobalActionFetchFull GlobalAction = "fetch-full"
	GlobalActionLicenses  GlobalAction = "licenses"
	GlobalActionPatch     GlobalAction = "patch"
	GlobalActionPunch     GlobalAction = "punch"
	GlobalActionSbom      GlobalAction = "sbom"
	GlobalActionInit      GlobalAction = "init"
)

// GlobalActions lists every named global action
var GlobalActions = []GlobalAction{
	GlobalActionClean, GlobalActionDistclean, GlobalActionMrproper,
	GlobalActionExtract, GlobalActionFetch, GlobalActionFetchFull,
	GlobalActionLicenses, GlobalActionPatch, GlobalActionPunch,
	GlobalActionSbom, GlobalActionInit,
}

// PkgAction represents an action applied to a single package
type PkgAction string

const (
	PkgActionNone            PkgAction = ""
	PkgActionBuild           PkgAction = "build"
	PkgActionClean           PkgAction = "clean"
	PkgActionConfigure       PkgAction = "configure"
	PkgActionDistclean       PkgAction = "distclean"
	PkgActionExec            PkgAction = "exec"
	PkgActionExtract         PkgAction = "extract"
	PkgActionFetch           PkgAction = "fetch"
	PkgActionFetchFull       PkgAction = "fetch-full"
	PkgActionFresh           PkgAction = "fresh"
	PkgActionInstall         PkgAction = "install"
	PkgActionLicense         PkgAction = "license"
	PkgActionPatch           PkgAction = "patch"
	PkgActionRebuild         PkgAction = "rebuild"
	PkgActionRebuildOnly     PkgAction = "rebuild-only"
	PkgActionReconfigure     PkgAction = "reconfigure"
	PkgActionReconfigureOnly PkgAction = "reconfigure-only"
	PkgActionReinstall       PkgAction = "reinstall"
)

// PkgActions lists every named package action, longest suffix first so
// that "rebuild-only" is matched before "build"
var PkgActions = func() []PkgAction {
	actions := []PkgAction{
		PkgActionBuild, PkgActionClean, PkgActionConfigure, PkgActionDistclean,
		PkgActionExec, PkgActionExtract, PkgActionFetch, PkgActionFetchFull,
		PkgActionFresh, PkgActionInstall, PkgActionLicense, PkgActionPatch,
		PkgActionRebuild, PkgActionRebuildOnly, PkgActionReconfigure,
		PkgActionReconfigureOnly, PkgActionReinstall,
	}
	sort.SliceStable(actions, func(i, j int) bool {
		return len(actions[i]) > len(actions[j])
	})
	return actions
}()

// Stage represents a step of the per-package pipeline
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageFetchPost Stage = "fetch-post"
	StageExtract   Stage = "extract"
	StagePatch     Stage = "patch"
	StageLicense   Stage = "license"
	StageBootstrap Stage = "bootstrap"
	StageConfigure Stage = "configure"
	StageBuild     Stage = "build"
	StageInstall   Stage = "install"
	StagePost      Stage = "post"
)

// Stages is the fixed pipeline order
var Stages = []Stage{
	StageFetch, StageFetchPost, StageExtract, StagePatch, StageLicense,
	StageBootstrap, StageConfigure, StageBuild, StageInstall, StagePost,
}

// FlaggedStages are the stages whose completion is recorded on disk
var FlaggedStages = []Stage{
	StageBootstrap, StageBuild, StageConfigure, StageExtract, StageInstall,
	StageLicense, StagePatch, StagePost,
}

// Index returns the position of the stage in the pipeline
func (s Stage) Index() int {
	for i, stage := range Stages {
		if stage == s {
			return i
		}
	}
	return -1
}

// Flagged reports whether completion of the stage is persisted
func (s Stage) Flagged() bool {
	return s != StageFetch && s != StageFetchPost
}

// Known quirks
const (
	QuirkBzrCertifi            = "releng.bzr.certifi"
	QuirkCMakeNoSystemIncludes = "releng.cmake.disable_direct_includes"
	QuirkCMakeNoParallel       = "releng.cmake.disable_parallel_option"
	QuirkDisablePrerequisites  = "releng.disable_prerequisites_check"
	QuirkDisableRemoteScripts  = "releng.disable_remote_scripts"
	QuirkDisableVerbosePatch   = "releng.disable_verbose_patch"
	QuirkGitNoDepth            = "releng.git.no_depth"
	QuirkGitNoQuiet            = "releng.git.no_quiet"
	QuirkGitReplicateCache     = "releng.git.replicate_cache"
	QuirkLogExecuteArgs        = "releng.log.execute_args"
	QuirkLogExecuteEnv         = "releng.log.execute_env"
)

// ParseVcsType parses a VCS type name
func ParseVcsType(value string) (VcsType, error) {
	v := VcsType(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range VcsTypes {
		if v == known {
			return v, nil
		}
	}
	return "", Errorf(ErrConfiguration, "unknown vcs type: %s", value)
}

// ParsePackageType parses a package type name
func ParsePackageType(value string) (PackageType, error) {
	t := PackageType(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range PackageTypes {
		if t == known {
			return t, nil
		}
	}
	return "", Errorf(ErrConfiguration, "unknown package type: %s", value)
}

// ParseInstallType parses an install type name
func ParseInstallType(value string) (InstallType, error) {
	t := InstallType(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range InstallTypes {
		if t == known {
			return t, nil
		}
	}
	return "", Errorf(ErrConfiguration, "unknown install type: %s", value)
}

// ParsePythonSetupType parses a python setup type name
func ParsePythonSetupType(value string) (PythonSetupType, error) {
	t := PythonSetupType(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range PythonSetupTypes {
		if t == known {
			return t, nil
		}
	}
	return "", Errorf(ErrConfiguration, "unknown python setup type: %s", value)
}

// ParseGlobalAction returns the global action for a name, if one matches
func ParseGlobalAction(value string) (GlobalAction, bool) {
	for _, known := range GlobalActions {
		if GlobalAction(value) == known {
			return known, true
		}
	}
	return GlobalActionNone, false
}

// SplitPackageAction splits "<pkg>-<action>" into its parts. A value without
// a recognized action suffix yields the value itself and PkgActionNone.
func SplitPackageAction(value string) (string, PkgAction) {
	for _, action := range PkgActions {
		suffix := "-" + string(action)
		if strings.HasSuffix(value, suffix) && len(value) > len(suffix) {
			return strings.TrimSuffix(value, suffix), action
		}
	}
	return value, PkgActionNone
}
