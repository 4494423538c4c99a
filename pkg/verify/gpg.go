package verify

import (
	"context"
	"fmt"

	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// GPG verifies a detached signature for file. A missing signature file is
// not an error; callers only invoke this when a signature is shipped.
func GPG(ctx context.Context, file, asc string, log logger.Logger) error {
	if !utils.FileExists(asc) {
		return nil
	}
	if !tool.Gpg.Exists() {
		return types.Errorf(types.ErrPrerequisite, "gpg is required to verify %s", asc)
	}

	err := tool.Gpg.Execute(ctx, []string{"--verify", asc, file}, &tool.Options{Quiet: true, Log: log})
	if err != nil {
		return types.Wrap(types.ErrIntegrity, fmt.Errorf("signature verification failed for %s: %w", file, err))
	}
	return nil
}
