// Package verify checks downloaded and extracted content against the hash
// manifests and signatures shipped with package definitions
package verify

import (
	"bufio"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/releng-tool/releng-tool-sub001/pkg/process"
)

// Result is the outcome of a hash verification
type Result string

const (
	Verified       Result = "verified"
	BadPath        Result = "bad-path"
	Empty          Result = "empty"
	Mismatch       Result = "mismatch"
	BadFormat      Result = "bad-format"
	Unsupported    Result = "unsupported"
	MissingArchive Result = "missing-archive"
	MissingListed  Result = "missing-listed"
)

// OK reports whether the result is a successful verification
func (r Result) OK() bool {
	return r == Verified
}

var algorithms = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha224": sha256.New224,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

// Supported reports whether a hash algorithm name is supported
func Supported(algo string) bool {
	_, ok := algorithms[strings.ToLower(algo)]
	return ok
}

// Entry is one line of a hash manifest
type Entry struct {
	Algorithm string
	File      string
	Digest    string
}

// Report describes a verification outcome
type Report struct {
	Result Result
	Detail string
}

func (r Report) String() string {
	if r.Detail == "" {
		return string(r.Result)
	}
	return fmt.Sprintf("%s: %s", r.Result, r.Detail)
}

// Parse reads a hash manifest: one "<algo> <file> <digest>" triple per
// line with blank and '#' lines ignored
func Parse(path string) ([]Entry, Report) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Report{Result: BadPath, Detail: path}
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, Report{Result: BadFormat, Detail: fmt.Sprintf("%s:%d", path, line)}
		}
		algo := strings.ToLower(fields[0])
		if !Supported(algo) {
			return nil, Report{Result: Unsupported, Detail: fmt.Sprintf("%s:%d: %s", path, line, fields[0])}
		}
		entries = append(entries, Entry{Algorithm: algo, File: fields[1], Digest: strings.ToLower(fields[2])})
	}
	if err := scanner.Err(); err != nil {
		return nil, Report{Result: BadFormat, Detail: err.Error()}
	}
	if len(entries) == 0 {
		return nil, Report{Result: Empty, Detail: path}
	}
	return entries, Report{Result: Verified}
}

// Digest computes the hex digest of a file
func Digest(path, algo string) (string, error) {
	newHash, ok := algorithms[strings.ToLower(algo)]
	if !ok {
		return "", fmt.Errorf("unsupported hash type %s", algo)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := newHash()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Hashes verifies files against the manifest entries naming their base
// name. A file without any entry fails unless relaxed.
func Hashes(hashFile string, paths []string, relaxed bool) Report {
	entries, report := Parse(hashFile)
	if !report.Result.OK() {
		return report
	}

	byFile := map[string][]Entry{}
	for _, e := range entries {
		byFile[e.File] = append(byFile[e.File], e)
	}

	for _, path := range paths {
		name := filepath.Base(path)
		listed := byFile[name]
		if len(listed) == 0 {
			if relaxed {
				continue
			}
			return Report{Result: MissingArchive, Detail: name}
		}
		for _, e := range listed {
			if r := check(path, e); !r.Result.OK() {
				return r
			}
		}
	}
	return Report{Result: Verified}
}

// Tree verifies every manifest entry against the file of the same relative
// path under root. Listed files which are absent fail unless relaxed.
// Digests are computed concurrently.
func Tree(ctx context.Context, hashFile, root string, relaxed bool) Report {
	entries, report := Parse(hashFile)
	if !report.Result.OK() {
		return report
	}

	results := make([]Report, len(entries))
	g, _ := process.NewSafeGroup(ctx, nil)
	g.SetLimit(8)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			path := filepath.Join(root, filepath.FromSlash(e.File))
			if _, err := os.Stat(path); err != nil {
				if relaxed {
					results[i] = Report{Result: Verified}
				} else {
					results[i] = Report{Result: MissingListed, Detail: e.File}
				}
				return nil
			}
			results[i] = check(path, e)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{Result: BadPath, Detail: err.Error()}
	}

	for _, r := range results {
		if !r.Result.OK() {
			return r
		}
	}
	return Report{Result: Verified}
}

func check(path string, e Entry) Report {
	digest, err := Digest(path, e.Algorithm)
	if err != nil {
		return Report{Result: BadPath, Detail: err.Error()}
	}
	if digest != e.Digest {
		return Report{
			Result: Mismatch,
			Detail: fmt.Sprintf("%s (%s) expected %s, got %s", e.File, e.Algorithm, e.Digest, digest),
		}
	}
	return Report{Result: Verified}
}
