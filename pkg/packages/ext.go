package packages

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// compound archive extensions recognized before falling back to the last
// dotted component
var compoundExts = []string{
	"tar.bz2", "tar.gz", "tar.lz", "tar.lzma", "tar.xz", "tar.z", "tar.zst",
}

// ArchiveExt infers an archive extension from a file name or URL
func ArchiveExt(site string) string {
	name := site
	if u, err := url.Parse(site); err == nil && u.Path != "" {
		name = u.Path
	}
	name = strings.ToLower(path.Base(name))

	for _, ext := range compoundExts {
		if strings.HasSuffix(name, "."+ext) {
			return ext
		}
	}

	ext := path.Ext(name)
	if ext == "" || ext == "." {
		return ""
	}
	return ext[1:]
}

// site prefixes selecting a VCS type (stripped from the site)
var sitePrefixes = []struct {
	prefix string
	vcs    types.VcsType
}{
	{"brz+", types.VcsTypeBrz},
	{"bzr+", types.VcsTypeBzr},
	{"cvs+", types.VcsTypeCvs},
	{"git+", types.VcsTypeGit},
	{"hg+", types.VcsTypeHg},
	{"perforce+", types.VcsTypePerforce},
	{"rsync+", types.VcsTypeRsync},
	{"scp+", types.VcsTypeScp},
	{"svn+", types.VcsTypeSvn},
}

// InferVcsType picks a VCS type from a site value, returning the site with
// any selecting prefix removed
func InferVcsType(site string) (types.VcsType, string) {
	if site == "" {
		return types.VcsTypeNone, site
	}
	if site == "local" {
		return types.VcsTypeLocal, site
	}

	for _, p := range sitePrefixes {
		if strings.HasPrefix(site, p.prefix) {
			return p.vcs, site[len(p.prefix):]
		}
	}
	if strings.HasSuffix(site, ".git") {
		return types.VcsTypeGit, site
	}
	return types.VcsTypeURL, site
}

// stripSitePrefix removes a prefix matching an explicitly configured type
func stripSitePrefix(vcs types.VcsType, site string) string {
	for _, p := range sitePrefixes {
		if p.vcs == vcs && strings.HasPrefix(site, p.prefix) {
			return site[len(p.prefix):]
		}
	}
	return site
}

// LocalPath converts a file site (plain path or file:// URL) into a local
// path. Relative paths are resolved against base.
func LocalPath(site, base string) (string, error) {
	p := site
	if strings.HasPrefix(site, "file://") {
		u, err := url.Parse(site)
		if err != nil {
			return "", types.Errorf(types.ErrConfiguration, "invalid file site %q: %v", site, err)
		}
		p = filepath.FromSlash(u.Path)
		if u.Host != "" && u.Host != "localhost" {
			// file://relative/path
			p = filepath.Join(u.Host, p)
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	return p, nil
}
