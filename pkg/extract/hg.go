package extract

import (
	"context"
	"os"
	"path/filepath"

	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
)

// Hg exports a revision from a mercurial repository cache
type Hg struct{}

// Extract implements Extractor
func (h *Hg) Extract(ctx context.Context, o *Options) error {
	source := o.Source
	if source == "" {
		source = o.Pkg.CacheDir
	}

	args := []string{"--repository", source, "archive", "--type", "files", "--rev", o.Pkg.Revision, o.WorkDir}
	if err := tool.Hg.Execute(ctx, args, &tool.Options{Env: o.Env, Log: o.logger(), Quiet: true}); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(o.WorkDir, ".hg_archival.txt")); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
