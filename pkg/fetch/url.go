package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gosuri/uilive"
	"github.com/mattn/go-isatty"

	"github.com/releng-tool/releng-tool-sub001/pkg/logger"
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
	"github.com/releng-tool/releng-tool-sub001/pkg/utils"
)

// Retry defaults for URL downloads
const (
	DefaultAttempts = 3
	DefaultDelay    = 10 * time.Second
	DefaultJitter   = 500 * time.Millisecond
)

var transientCodes = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// StatusError is an unsuccessful HTTP response
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Transient reports whether the request may succeed when retried
func (e *StatusError) Transient() bool {
	return transientCodes[e.Code]
}

// URL downloads sources through an http client (http, https and file)
type URL struct {
	Client   *http.Client
	Attempts int
	Delay    time.Duration
	Jitter   time.Duration

	// Progress forces (or suppresses) the interactive progress line; nil
	// enables it when standard output is a terminal
	Progress *bool
	Out      io.Writer
}

// NewURL creates a URL fetcher with a client able to read file:// sites
func NewURL() *URL {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))

	return &URL{
		Client:   &http.Client{Transport: transport},
		Attempts: DefaultAttempts,
		Delay:    DefaultDelay,
		Jitter:   DefaultJitter,
	}
}

// MirrorURL expands a url_mirror template for a package. Supported
// placeholders are {name} and {version}; a template ending with a slash
// receives the package's cache file name.
func MirrorURL(template string, pkg *packages.Package) string {
	if template == "" {
		return ""
	}
	mirror := strings.NewReplacer("{name}", pkg.Name, "{version}", pkg.Version).Replace(template)
	if strings.HasSuffix(mirror, "/") {
		mirror += filepath.Base(pkg.CacheFile)
	}
	return mirror
}

// Fetch implements Fetcher
func (u *URL) Fetch(ctx context.Context, o *Options) (string, error) {
	pkg := o.Pkg
	log := o.logger()
	file := o.InterimFile()
	if err := utils.EnsureDirectory(filepath.Dir(file)); err != nil {
		return "", types.Wrap(types.ErrIO, err)
	}

	var mirror string
	if o.Opts != nil {
		mirror = MirrorURL(o.Opts.URLMirror, pkg)
	}

	if mirror != "" {
		log.Note("fetching sources from mirror " + mirror)
		err := u.download(ctx, mirror, file, pkg.Name, log)
		if err == nil {
			return file, nil
		}
		if ctx.Err() != nil {
			return "", types.Wrap(types.ErrUserAbort, ctx.Err())
		}
		if o.Opts.OnlyMirror && pkg.IsExternal() {
			return "", sourceError(pkg, err)
		}
		log.Warn("mirror fetch failed; falling back to site", logger.WithField("error", err))
	}

	log.Note("fetching sources from " + pkg.Site)
	if err := u.download(ctx, pkg.Site, file, pkg.Name, log); err != nil {
		if ctx.Err() != nil {
			return "", types.Wrap(types.ErrUserAbort, ctx.Err())
		}
		return "", sourceError(pkg, err)
	}
	return file, nil
}

func (u *URL) download(ctx context.Context, site, file, name string, log logger.Logger) error {
	attempts := u.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = u.attempt(ctx, site, file, name)
		if err == nil {
			return nil
		}

		var status *StatusError
		if !errors.As(err, &status) || !status.Transient() || attempt == attempts {
			break
		}

		delay := u.Delay
		if u.Jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(u.Jitter) + 1))
		}
		log.Warn(fmt.Sprintf("transient failure (attempt %d of %d); retrying", attempt, attempts),
			logger.WithField("status", status.Code))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	_ = os.Remove(file)
	return err
}

func (u *URL) attempt(ctx context.Context, site, file, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, site, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "releng-tool")

	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: site, Code: resp.StatusCode}
	}

	out, err := os.Create(file)
	if err != nil {
		return types.Wrap(types.ErrIO, err)
	}

	var dst io.Writer = out
	var progress *progressWriter
	if u.showProgress() {
		progress = newProgressWriter(u.Out, name, resp.ContentLength)
		dst = io.MultiWriter(out, progress)
	}

	_, err = io.Copy(dst, resp.Body)
	if progress != nil {
		progress.stop()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func (u *URL) showProgress() bool {
	if u.Progress != nil {
		return *u.Progress
	}
	if u.Out != nil {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

type progressWriter struct {
	live    *uilive.Writer
	name    string
	total   int64
	written int64
	last    time.Time
}

func newProgressWriter(out io.Writer, name string, total int64) *progressWriter {
	live := uilive.New()
	if out != nil {
		live.Out = out
	}
	live.Start()
	return &progressWriter{live: live, name: name, total: total}
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if now := time.Now(); now.Sub(p.last) > 100*time.Millisecond {
		p.last = now
		p.render()
	}
	return len(b), nil
}

func (p *progressWriter) render() {
	if p.total > 0 {
		pct := float64(p.written) * 100 / float64(p.total)
		fmt.Fprintf(p.live, "%s: %s / %s (%.0f%%)\n", p.name, humanSize(p.written), humanSize(p.total), pct)
		return
	}
	fmt.Fprintf(p.live, "%s: %s\n", p.name, humanSize(p.written))
}

func (p *progressWriter) stop() {
	p.render()
	p.live.Stop()
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
