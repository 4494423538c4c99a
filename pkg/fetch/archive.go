package fetch

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// ArchiveDir writes the contents of dir into a gzip-compressed tarball at
// dst. Members are placed under prefix so that extraction with a strip
// count of one yields the original tree. Entries matching an exclude
// pattern are left out.
func ArchiveDir(dir, prefix, dst string, exclude ...string) error {
	skip, err := utils.NewExclusionMatcher(exclude)
	if err != nil {
		return types.Wrap(types.ErrConfiguration, err)
	}

	if err := utils.EnsureDirectory(filepath.Dir(dst)); err != nil {
		return types.Wrap(types.ErrIO, err)
	}

	out, err := renameio.TempFile("", dst)
	if err != nil {
		return types.Wrap(types.ErrIO, err)
	}
	defer out.Cleanup()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel != "." && skip.IsExcluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		name := prefix
		if rel != "." {
			name = filepath.ToSlash(filepath.Join(prefix, rel))
		}
		if d.IsDir() {
			name += "/"
		}
		hdr.Name = name
		hdr.Uname, hdr.Gname = "", ""
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return types.Wrap(types.ErrIO, fmt.Errorf("unable to archive %s: %w", dir, err))
	}

	if err := tw.Close(); err != nil {
		return types.Wrap(types.ErrIO, err)
	}
	if err := gz.Close(); err != nil {
		return types.Wrap(types.ErrIO, err)
	}
	if err := out.CloseAtomicallyReplace(); err != nil {
		return types.Wrap(types.ErrIO, err)
	}
	return nil
}
