package packages

import "strings"

// Package definition key suffixes. A key is the normalized package name,
// an underscore and one of these suffixes.
const (
	KeyAutotoolsAutoreconf   = "AUTOTOOLS_AUTORECONF"
	KeyBuildDefs             = "BUILD_DEFS"
	KeyBuildEnv              = "BUILD_ENV"
	KeyBuildOpts             = "BUILD_OPTS"
	KeyBuildSubdir           = "BUILD_SUBDIR"
	KeyCargoNoInstall        = "CARGO_NOINSTALL"
	KeyCMakeNoInstall        = "CMAKE_NOINSTALL"
	KeyConfDefs              = "CONF_DEFS"
	KeyConfEnv               = "CONF_ENV"
	KeyConfOpts              = "CONF_OPTS"
	KeyDependencies          = "DEPENDENCIES"
	KeyDevmodeIgnoreCache    = "DEVMODE_IGNORE_CACHE"
	KeyDevmodeRevision       = "DEVMODE_REVISION"
	KeyExtension             = "EXTENSION"
	KeyExternal              = "EXTERNAL"
	KeyExtOpt                = "EXTOPT"
	KeyExtractType           = "EXTRACT_TYPE"
	KeyFixedJobs             = "FIXED_JOBS"
	KeyGitConfig             = "GIT_CONFIG"
	KeyGitDepth              = "GIT_DEPTH"
	KeyGitRefspecs           = "GIT_REFSPECS"
	KeyGitSubmodules         = "GIT_SUBMODULES"
	KeyGitVerifyRevision     = "GIT_VERIFY_REVISION"
	KeyInstallDefs           = "INSTALL_DEFS"
	KeyInstallEnv            = "INSTALL_ENV"
	KeyInstallOpts           = "INSTALL_OPTS"
	KeyInstallType           = "INSTALL_TYPE"
	KeyInternal              = "INTERNAL"
	KeyLicense               = "LICENSE"
	KeyLicenseFiles          = "LICENSE_FILES"
	KeyMakeNoInstall         = "MAKE_NOINSTALL"
	KeyMesonNoInstall        = "MESON_NOINSTALL"
	KeyNoExtraction          = "NO_EXTRACTION"
	KeyPatchSubdir           = "PATCH_SUBDIR"
	KeyPrefix                = "PREFIX"
	KeyPythonInstallerScheme = "PYTHON_INSTALLER_SCHEME"
	KeyPythonInterpreter     = "PYTHON_INTERPRETER"
	KeyPythonSetupType       = "PYTHON_SETUP_TYPE"
	KeyRevision              = "REVISION"
	KeySConsNoInstall        = "SCONS_NOINSTALL"
	KeySite                  = "SITE"
	KeyStripCount            = "STRIP_COUNT"
	KeyType                  = "TYPE"
	KeyVcsType               = "VCS_TYPE"
	KeyVersion               = "VERSION"
	KeyWafNoInstall          = "WAF_NOINSTALL"
)

var normalizer = strings.NewReplacer(
	" ", "_", "*", "_", "-", "_", ".", "_", ":", "_", "?", "_", "|", "_",
)

// Normalize converts a package name into its key prefix form
func Normalize(name string) string {
	return normalizer.Replace(strings.ToUpper(name))
}

// Key builds the definition key of a package for a suffix
func Key(name, suffix string) string {
	return Normalize(name) + "_" + suffix
}
