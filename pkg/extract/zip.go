package extract

import (
	"archive/zip"
	"context"
	"io/fs"
	"os"

	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// Zip extracts zip archives
type Zip struct{}

// Extract implements Extractor
func (z *Zip) Extract(ctx context.Context, o *Options) error {
	zr, err := zip.OpenReader(o.Source)
	if err != nil {
		return types.Errorf(types.ErrExtraction, "%s: %v", o.Source, err)
	}
	defer zr.Close()

	// validate everything first so a rejected archive writes nothing
	for _, f := range zr.File {
		if _, _, err := safeTarget(o.WorkDir, f.Name, o.Pkg.StripCount); err != nil {
			return err
		}
	}

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, ok, _ := safeTarget(o.WorkDir, f.Name, o.Pkg.StripCount)
		if !ok {
			continue
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, mode.Perm()|0o700); err != nil {
				return err
			}
		case mode&fs.ModeSymlink != 0:
			// symlink members are skipped
			continue
		default:
			if err := extractZipFile(f, target); err != nil {
				return err
			}
		}
	}
	return nil
}

func extractZipFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return types.Errorf(types.ErrExtraction, "%s: %v", f.Name, err)
	}
	defer rc.Close()
	return writeFile(target, rc, f.Mode().Perm())
}
