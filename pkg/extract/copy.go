package extract

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// Copy places a cache file into the working directory verbatim
type Copy struct{}

// Extract implements Extractor
func (c *Copy) Extract(ctx context.Context, o *Options) error {
	if !utils.FileExists(o.Source) {
		return types.Errorf(types.ErrExtraction, "no cache file to extract at %s", o.Source)
	}
	return utils.CopyFile(o.Source, filepath.Join(o.WorkDir, filepath.Base(o.Source)))
}

// Command extracts with a user-configured tool. The template is split
// like a shell command line and {file} and {dir} are substituted in each
// argument.
type Command struct {
	Template string
}

// Extract implements Extractor
func (c *Command) Extract(ctx context.Context, o *Options) error {
	args, err := tool.SplitArgs(c.Template)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return types.Errorf(types.ErrConfiguration, "empty extract tool for %s", o.Pkg.CacheExt)
	}

	replacer := strings.NewReplacer("{file}", o.Source, "{dir}", o.WorkDir)
	for i, arg := range args {
		args[i] = replacer.Replace(arg)
	}

	return tool.ForName(args[0]).Execute(ctx, args[1:], &tool.Options{
		Dir: o.WorkDir,
		Env: o.Env,
		Log: o.logger(),
	})
}
