package fetch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// RevisionKind describes what a revision resolved to in a repository
type RevisionKind string

const (
	RevisionUnknown RevisionKind = ""
	RevisionTag     RevisionKind = "tag"
	RevisionBranch  RevisionKind = "branch"
	RevisionCommit  RevisionKind = "commit"
)

var defaultRefspecs = []string{
	"+refs/heads/*:refs/remotes/origin/*",
	"+refs/tags/*:refs/tags/*",
}

// GitRepo drives git against a bare repository cache
type GitRepo struct {
	Dir string

	// WorkTree is set when commands need a working tree (checkout)
	WorkTree string

	Env   map[string]string
	Log   logger.Logger
	Quiet bool
}

func (r *GitRepo) args(args []string) []string {
	prefix := []string{"--git-dir=" + r.Dir}
	if r.WorkTree != "" {
		prefix = append(prefix, "--work-tree="+r.WorkTree)
	}
	return append(prefix, args...)
}

func (r *GitRepo) options() *tool.Options {
	return &tool.Options{Env: r.Env, Log: r.Log, Quiet: r.Quiet, Dir: r.WorkTree}
}

// Run invokes git on the repository
func (r *GitRepo) Run(ctx context.Context, args ...string) error {
	return tool.Git.Execute(ctx, r.args(args), r.options())
}

// Output invokes git on the repository and returns its standard output
func (r *GitRepo) Output(ctx context.Context, args ...string) (string, error) {
	opts := r.options()
	opts.Quiet = true
	return tool.Git.Output(ctx, r.args(args), opts)
}

// Succeeds reports whether a git invocation returns zero
func (r *GitRepo) Succeeds(ctx context.Context, args ...string) bool {
	return tool.Git.Succeeds(ctx, r.args(args), r.options())
}

// Valid reports whether the directory holds a consistent repository
func (r *GitRepo) Valid(ctx context.Context) bool {
	if !utils.DirectoryExists(r.Dir) {
		return false
	}
	return r.Succeeds(ctx, "rev-parse", "--git-dir")
}

// Resolve finds the commit of a revision. Tags win over branches, which
// win over a raw commit-ish.
func (r *GitRepo) Resolve(ctx context.Context, revision string) (string, RevisionKind) {
	candidates := []struct {
		ref  string
		kind RevisionKind
	}{
		{"refs/tags/" + revision, RevisionTag},
		{"refs/remotes/origin/" + revision, RevisionBranch},
		{revision, RevisionCommit},
	}
	for _, c := range candidates {
		hash, err := r.Output(ctx, "rev-parse", "--quiet", "--verify", c.ref+"^{commit}")
		if err == nil && hash != "" {
			return hash, c.kind
		}
	}
	return "", RevisionUnknown
}

// Has reports whether a revision is present
func (r *GitRepo) Has(ctx context.Context, revision string) bool {
	hash, _ := r.Resolve(ctx, revision)
	return hash != ""
}

// Shallow reports whether the repository is a shallow clone
func (r *GitRepo) Shallow(ctx context.Context) bool {
	out, err := r.Output(ctx, "rev-parse", "--is-shallow-repository")
	return err == nil && out == "true"
}

// Submodule is a submodule entry recorded at a revision
type Submodule struct {
	Name     string
	Path     string
	URL      string
	Revision string
}

// Submodules lists the submodules recorded at a revision
func (r *GitRepo) Submodules(ctx context.Context, revision string) ([]Submodule, error) {
	blob := revision + ":.gitmodules"
	if !r.Succeeds(ctx, "cat-file", "-e", blob) {
		return nil, nil
	}

	out, err := r.Output(ctx, "config", "--blob", blob, "--get-regexp", `^submodule\..*\.(path|url)$`)
	if err != nil {
		return nil, err
	}

	entries := map[string]*Submodule{}
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), " ")
		if !ok {
			continue
		}
		key = strings.TrimPrefix(key, "submodule.")
		idx := strings.LastIndex(key, ".")
		if idx < 0 {
			continue
		}
		name, field := key[:idx], key[idx+1:]
		sm, ok := entries[name]
		if !ok {
			sm = &Submodule{Name: name}
			entries[name] = sm
		}
		if field == "path" {
			sm.Path = value
		} else {
			sm.URL = value
		}
	}

	var subs []Submodule
	for _, sm := range entries {
		if sm.Path == "" || sm.URL == "" {
			continue
		}
		tree, err := r.Output(ctx, "ls-tree", revision, sm.Path)
		if err != nil {
			return nil, err
		}
		// <mode> commit <hash>\t<path>
		fields := strings.Fields(tree)
		if len(fields) < 3 || fields[1] != "commit" {
			continue
		}
		sm.Revision = fields[2]
		subs = append(subs, *sm)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Path < subs[j].Path })
	return subs, nil
}

// SubmoduleCacheDir returns the cache directory of a submodule, a sibling
// of the owning package's cache keyed by the submodule URL
func SubmoduleCacheDir(pkgCacheDir, url string) string {
	sum := sha1.Sum([]byte(url))
	return filepath.Join(filepath.Dir(pkgCacheDir), ".git-"+hex.EncodeToString(sum[:])[:16])
}

// Git fetches git repositories into a bare repository cache
type Git struct{}

// Fetch implements Fetcher
func (g *Git) Fetch(ctx context.Context, o *Options) (string, error) {
	pkg := o.Pkg
	log := o.logger()

	depth := 1
	if pkg.GitDepth != nil {
		depth = *pkg.GitDepth
	}
	if o.HasQuirk(types.QuirkGitNoDepth) {
		depth = 0
	}

	req := &gitRequest{
		dir:       pkg.CacheDir,
		site:      pkg.Site,
		revision:  pkg.Revision,
		depth:     depth,
		refspecs:  pkg.GitRefspecs,
		config:    pkg.GitConfig,
		verify:    pkg.GitVerifyRevision,
		recursive: pkg.GitSubmodules,
		ignore:    o.IgnoreCache,
		quiet:     !o.HasQuirk(types.QuirkGitNoQuiet),
		env:       o.Env,
		log:       log,
	}
	if err := req.fetch(ctx); err != nil {
		return "", sourceError(pkg, err)
	}
	return pkg.CacheDir, nil
}

type gitRequest struct {
	dir       string
	site      string
	revision  string
	depth     int
	refspecs  []string
	config    map[string]string
	verify    bool
	recursive bool
	ignore    bool
	quiet     bool
	env       map[string]string
	log       logger.Logger
}

func (q *gitRequest) repo() *GitRepo {
	return &GitRepo{Dir: q.dir, Env: q.env, Log: q.log, Quiet: q.quiet}
}

func (q *gitRequest) fetch(ctx context.Context) error {
	repo := q.repo()

	if repo.Valid(ctx) {
		hash, kind := repo.Resolve(ctx, q.revision)
		if kind == RevisionBranch && !q.ignore {
			q.log.Verbose("revision is a branch; refreshing cache", logger.WithField("revision", q.revision))
			q.ignore = true
		}
		if hash != "" && !q.ignore && q.synchronized(ctx, repo) && q.verified(ctx, repo, kind) {
			q.log.Debug("git cache is up to date", logger.WithField("dir", q.dir))
			return q.submodules(ctx, repo)
		}
	} else if utils.PathExists(q.dir) {
		q.log.Warn("git cache is corrupt; recreating", logger.WithField("dir", q.dir))
		if err := utils.Remove(q.dir); err != nil {
			return types.Wrap(types.ErrIO, err)
		}
	}

	if err := q.prepare(ctx, repo); err != nil {
		return err
	}

	q.log.Note("fetching sources from " + q.site)
	if err := q.acquire(ctx, repo); err != nil {
		return err
	}

	_, kind := repo.Resolve(ctx, q.revision)
	if kind == RevisionUnknown {
		return fmt.Errorf("revision %q not found in %s", q.revision, q.site)
	}
	if q.verify && !q.verified(ctx, repo, kind) {
		return fmt.Errorf("revision %q could not be verified", q.revision)
	}

	return q.submodules(ctx, repo)
}

func (q *gitRequest) prepare(ctx context.Context, repo *GitRepo) error {
	if !utils.DirectoryExists(q.dir) {
		if err := utils.EnsureDirectory(q.dir); err != nil {
			return types.Wrap(types.ErrIO, err)
		}
		if err := tool.Git.Execute(ctx, []string{"init", "--bare", "--quiet", q.dir},
			&tool.Options{Env: q.env, Log: q.log, Quiet: true}); err != nil {
			return err
		}
	}

	steps := [][]string{
		{"config", "--unset", "core.bare"},
		{"config", "gc.auto", "0"},
		{"config", "maintenance.auto", "false"},
	}
	for _, step := range steps {
		// unsetting a key which was never set is not a failure
		_ = repo.Run(ctx, step...)
	}

	if !repo.Succeeds(ctx, "remote", "add", "origin", q.site) {
		if err := repo.Run(ctx, "remote", "set-url", "origin", q.site); err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(q.config))
	for k := range q.config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := repo.Run(ctx, "config", k, q.config[k]); err != nil {
			return err
		}
	}
	return nil
}

func (q *gitRequest) synchronized(ctx context.Context, repo *GitRepo) bool {
	url, err := repo.Output(ctx, "config", "--get", "remote.origin.url")
	if err != nil || url != q.site {
		return false
	}
	for k, v := range q.config {
		value, err := repo.Output(ctx, "config", "--get", k)
		if err != nil || value != v {
			return false
		}
	}
	return true
}

func (q *gitRequest) verified(ctx context.Context, repo *GitRepo, kind RevisionKind) bool {
	if !q.verify {
		return true
	}
	if kind == RevisionTag {
		return repo.Succeeds(ctx, "verify-tag", q.revision)
	}
	hash, _ := repo.Resolve(ctx, q.revision)
	return hash != "" && repo.Succeeds(ctx, "verify-commit", hash)
}

func (q *gitRequest) fetchArgs(refspecs ...string) []string {
	args := []string{"fetch", "--progress"}
	if q.quiet {
		args = []string{"fetch", "--quiet"}
	}
	if q.depth > 0 {
		args = append(args, "--depth", strconv.Itoa(q.depth))
	}
	args = append(args, "origin")
	return append(args, refspecs...)
}

func (q *gitRequest) acquire(ctx context.Context, repo *GitRepo) error {
	targeted := []string{
		fmt.Sprintf("+refs/tags/%[1]s:refs/tags/%[1]s", q.revision),
		fmt.Sprintf("+refs/heads/%[1]s:refs/remotes/origin/%[1]s", q.revision),
	}
	if q.depth > 0 {
		for _, refspec := range targeted {
			if repo.Succeeds(ctx, q.fetchArgs(refspec)...) && repo.Has(ctx, q.revision) {
				return nil
			}
		}
	}

	refspecs := append([]string{}, defaultRefspecs...)
	for _, ref := range q.refspecs {
		refspecs = append(refspecs, fmt.Sprintf("+refs/%[1]s:refs/remotes/origin/%[1]s", ref))
	}
	if err := repo.Run(ctx, q.fetchArgs(refspecs...)...); err != nil {
		return err
	}
	if repo.Has(ctx, q.revision) {
		return nil
	}

	// a commit outside the shallow history
	if repo.Shallow(ctx) {
		q.log.Verbose("revision not found in shallow history; unshallowing")
		args := []string{"fetch", "--unshallow"}
		if q.quiet {
			args = append(args, "--quiet")
		}
		args = append(args, "origin")
		if err := repo.Run(ctx, append(args, refspecs...)...); err != nil {
			return err
		}
		if repo.Has(ctx, q.revision) {
			return nil
		}
	}

	// a commit not reachable from any advertised ref
	q.log.Debug("fetching revision directly", logger.WithField("revision", q.revision))
	args := []string{"fetch", "--progress"}
	if q.quiet {
		args = []string{"fetch", "--quiet"}
	}
	repo.Succeeds(ctx, append(args, "origin", q.revision)...)
	return nil
}

func (q *gitRequest) submodules(ctx context.Context, repo *GitRepo) error {
	if !q.recursive {
		return nil
	}

	hash, _ := repo.Resolve(ctx, q.revision)
	subs, err := repo.Submodules(ctx, hash)
	if err != nil {
		return err
	}
	for _, sm := range subs {
		sub := &gitRequest{
			dir:       SubmoduleCacheDir(q.dir, sm.URL),
			site:      sm.URL,
			revision:  sm.Revision,
			depth:     q.depth,
			recursive: true,
			quiet:     q.quiet,
			env:       q.env,
			log:       q.log,
		}
		q.log.Verbose("fetching submodule "+sm.Path, logger.WithField("url", sm.URL))
		if err := sub.fetch(ctx); err != nil {
			return fmt.Errorf("submodule %s: %w", sm.Path, err)
		}
	}
	return nil
}
