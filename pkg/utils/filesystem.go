// Package utils provides filesystem helpers shared by stages and scripts
package utils

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PathExists checks if a path exists (without following a final symlink)
func PathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// FileExists checks if a regular file exists
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirectoryExists checks if a directory exists
func DirectoryExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// IsEmptyDirectory reports whether path is a directory with no entries
func IsEmptyDirectory(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) == 0
}

// EnsureDirectory ensures a directory exists
func EnsureDirectory(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("unable to create directory %s: %w", path, err)
	}
	return nil
}

// Touch creates an empty file or updates its timestamp
func Touch(path string) error {
	if err := EnsureDirectory(filepath.Dir(path)); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("unable to touch %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return err
	}

	now := fileTimeNow()
	return os.Chtimes(path, now, now)
}

// Remove removes a file, symlink or directory tree. A missing path is not an error.
func Remove(path string) error {
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("unable to remove %s: %w", path, err)
	}
	return nil
}

// CopyFile copies a regular file from src to dst, keeping permissions
func CopyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return err
	}

	if err := EnsureDirectory(filepath.Dir(dst)); err != nil {
		return err
	}

	// replace instead of writing through an existing symlink
	if info, err := os.Lstat(dst); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		if err := os.Remove(dst); err != nil {
			return err
		}
	}

	destFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, sourceInfo.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return err
	}
	if err := destFile.Close(); err != nil {
		return err
	}

	return os.Chmod(dst, sourceInfo.Mode().Perm())
}

// Copy copies a file, symlink or directory tree from src to dst. Directory
// contents are merged into an existing destination directory.
func Copy(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("unable to copy %s: %w", src, err)
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		return copySymlink(src, dst)
	case info.IsDir():
		return copyDirectory(src, dst)
	default:
		if err := CopyFile(src, dst); err != nil {
			return fmt.Errorf("unable to copy %s to %s: %w", src, dst, err)
		}
		return nil
	}
}

// CopyInto copies src into the directory dst
func CopyInto(src, dst string) error {
	return Copy(src, filepath.Join(dst, filepath.Base(src)))
}

func copySymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return err
	}
	if err := EnsureDirectory(filepath.Dir(dst)); err != nil {
		return err
	}
	if PathExists(dst) {
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
	}
	return os.Symlink(target, dst)
}

func copyDirectory(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(dst, relPath)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			return copySymlink(path, dstPath)
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(dstPath, info.Mode().Perm()|0o700)
		default:
			return CopyFile(path, dstPath)
		}
	})
}

// Move moves a path from src to dst. Directories are merged into an
// existing destination directory.
func Move(src, dst string) error {
	if !PathExists(src) {
		return fmt.Errorf("unable to move %s: %w", src, fs.ErrNotExist)
	}

	if DirectoryExists(dst) && DirectoryExists(src) {
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := Move(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
				return err
			}
		}
		return os.Remove(src)
	}

	if err := EnsureDirectory(filepath.Dir(dst)); err != nil {
		return err
	}
	if PathExists(dst) {
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
	}

	// Try rename first (fastest if on same filesystem)
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	// Fall back to copy and delete
	if err := Copy(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

// MoveInto moves src into the directory dst
func MoveInto(src, dst string) error {
	return Move(src, filepath.Join(dst, filepath.Base(src)))
}

// Symlink creates a symbolic link at link pointing to target, replacing an
// existing link
func Symlink(target, link string) error {
	if err := EnsureDirectory(filepath.Dir(link)); err != nil {
		return err
	}
	if info, err := os.Lstat(link); err == nil {
		if info.Mode()&fs.ModeSymlink == 0 {
			return fmt.Errorf("unable to create symlink %s: path exists", link)
		}
		if err := os.Remove(link); err != nil {
			return err
		}
	}
	return os.Symlink(target, link)
}

// ListDirectory returns sorted entry names, directories suffixed with a separator
func ListDirectory(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += string(filepath.Separator)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ListFiles returns every regular file under root relative to root, sorted
func ListFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	return files, err
}

// IsWithin reports whether path lies inside (or is) base once both are cleaned
func IsWithin(base, path string) bool {
	base = filepath.Clean(base)
	path = filepath.Clean(path)
	if base == path {
		return true
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Which locates an executable on PATH
func Which(name string) (string, bool) {
	if filepath.IsAbs(name) {
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			return name, true
		}
		return "", false
	}

	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, name)
		for _, ext := range executableExtensions() {
			path := candidate + ext
			if info, err := os.Stat(path); err == nil && !info.IsDir() && isExecutable(info) {
				return path, true
			}
		}
	}
	return "", false
}
