package extract

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/releng-tool/releng-tool-sub001/pkg/tool"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// ErrUnsupportedCompression is returned when the internal reader cannot
// decompress an archive
var ErrUnsupportedCompression = errors.New("unsupported compression")

var (
	magicGzip  = []byte{0x1f, 0x8b}
	magicBzip2 = []byte("BZh")
	magicXz    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

	// recognized but only readable by the host tar
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLzip = []byte("LZIP")
	magicLzma = []byte{0x5d, 0x00, 0x00}
)

// Tar extracts tar archives. Member paths are validated with the internal
// reader; the host tar performs the extraction when available.
type Tar struct {
	// Internal skips the host tar
	Internal bool
}

// Extract implements Extractor
func (t *Tar) Extract(ctx context.Context, o *Options) error {
	strip := o.Pkg.StripCount

	scanned := true
	if err := scanTar(o.Source, strip); err != nil {
		if !errors.Is(err, ErrUnsupportedCompression) {
			return err
		}
		scanned = false
	}

	if !t.Internal && tool.Tar.Exists() {
		args := []string{
			"--extract",
			"--file=" + o.Source,
			"--directory=" + o.WorkDir,
			"--strip-components=" + strconv.Itoa(strip),
		}
		return tool.Tar.Execute(ctx, args, &tool.Options{Log: o.logger(), Env: o.Env})
	}
	if !scanned {
		return types.Errorf(types.ErrExtraction, "%s: %v and no host tar is available", o.Source, ErrUnsupportedCompression)
	}
	return untar(ctx, o.Source, o.WorkDir, strip)
}

func openTar(file string) (*tar.Reader, io.Closer, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}

	br := bufio.NewReader(f)
	head, _ := br.Peek(6)

	var r io.Reader
	switch {
	case bytes.HasPrefix(head, magicGzip):
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		r = gz
	case bytes.HasPrefix(head, magicBzip2):
		r = bzip2.NewReader(br)
	case bytes.HasPrefix(head, magicXz):
		xr, err := xz.NewReader(br)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		r = xr
	case bytes.HasPrefix(head, magicZstd), bytes.HasPrefix(head, magicLzip), bytes.HasPrefix(head, magicLzma):
		f.Close()
		return nil, nil, ErrUnsupportedCompression
	default:
		r = br
	}
	return tar.NewReader(r), f, nil
}

// memberPath applies the strip count to a member name, returning false
// for members removed entirely by stripping
func memberPath(name string, strip int) (string, bool) {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	parts := strings.Split(name, "/")
	if len(parts) <= strip {
		return "", false
	}
	return strings.Join(parts[strip:], "/"), true
}

// safeTarget resolves a member name under root, rejecting names which
// escape it
func safeTarget(root, name string, strip int) (string, bool, error) {
	slashed := filepath.ToSlash(name)
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", false, traversal(name)
		}
	}
	if path.IsAbs(slashed) || filepath.IsAbs(name) {
		return "", false, traversal(name)
	}

	rel, ok := memberPath(slashed, strip)
	if !ok || rel == "" || rel == "." {
		return "", false, nil
	}
	target := filepath.Join(root, filepath.FromSlash(rel))
	if !utils.IsWithin(root, target) {
		return "", false, traversal(name)
	}
	return target, true, nil
}

func traversal(name string) error {
	return types.Errorf(types.ErrIntegrity, "path traversal detected for archive member %q", name)
}

// scanTar validates every member of an archive without extracting it
func scanTar(file string, strip int) error {
	tr, closer, err := openTar(file)
	if err != nil {
		return err
	}
	defer closer.Close()

	root := string(filepath.Separator) + "root"
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return types.Errorf(types.ErrExtraction, "%s: %v", file, err)
		}
		target, ok, err := safeTarget(root, hdr.Name, strip)
		if err != nil {
			return err
		}
		if ok && (hdr.Typeflag == tar.TypeSymlink || hdr.Typeflag == tar.TypeLink) {
			if err := checkLink(root, target, hdr, strip); err != nil {
				return err
			}
		}
	}
}

func checkLink(root, target string, hdr *tar.Header, strip int) error {
	if hdr.Typeflag == tar.TypeLink {
		_, _, err := safeTarget(root, hdr.Linkname, strip)
		return err
	}
	link := filepath.FromSlash(hdr.Linkname)
	if filepath.IsAbs(link) {
		return traversal(hdr.Name)
	}
	if !utils.IsWithin(root, filepath.Join(filepath.Dir(target), link)) {
		return traversal(hdr.Name)
	}
	return nil
}

func untar(ctx context.Context, file, root string, strip int) error {
	tr, closer, err := openTar(file)
	if err != nil {
		return err
	}
	defer closer.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return types.Errorf(types.ErrExtraction, "%s: %v", file, err)
		}

		target, ok, err := safeTarget(root, hdr.Name, strip)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := checkLink(root, target, hdr, strip); err != nil {
				return err
			}
			if err := utils.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			src, ok, err := safeTarget(root, hdr.Linkname, strip)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := utils.EnsureDirectory(filepath.Dir(target)); err != nil {
				return err
			}
			if err := os.Link(src, target); err != nil {
				return fmt.Errorf("unable to link %s: %w", hdr.Name, err)
			}
		}
	}
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := utils.EnsureDirectory(filepath.Dir(target)); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
