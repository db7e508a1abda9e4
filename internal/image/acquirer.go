package image

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"

	"github.com/palpable/imager/internal/progress"
	"github.com/palpable/imager/internal/store"
)

const (
	partialSuffix = ".partial"
	cacheKeyPfx   = "image:"
	copyChunk     = 1 << 20
)

// Result is a successfully acquired image.
type Result struct {
	Path    string
	Release Release
	Cached  bool
}

// CacheEntry records a verified image in the cache index.
type CacheEntry struct {
	Path       string    `json:"path"`
	Version    string    `json:"version"`
	SHA256     string    `json:"sha256"`
	Size       int64     `json:"size"`
	VerifiedAt time.Time `json:"verifiedAt"`
}

// Acquirer downloads releases into a local cache directory.
type Acquirer struct {
	source Source
	dir    string
	meta   store.Metadata
	log    logr.Logger
	now    func() time.Time
}

// NewAcquirer returns an Acquirer caching into dir. The index of verified
// files is kept in meta.
func NewAcquirer(source Source, dir string, meta store.Metadata, log logr.Logger) *Acquirer {
	return &Acquirer{source: source, dir: dir, meta: meta, log: log.WithName("image"), now: time.Now}
}

// Dir returns the cache directory.
func (a *Acquirer) Dir() string {
	return a.dir
}

// Acquire makes the latest release available locally. It always finishes a
// successful run with a StatusComplete event, including the cached
// short-circuit.
func (a *Acquirer) Acquire(ctx context.Context, report progress.Reporter) (Result, error) {
	if report == nil {
		report = func(progress.Event) {}
	}
	report(progress.Event{Status: progress.StatusChecking, Percent: 0})

	rel, err := a.source.Latest(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to look up latest release: %w", err)
	}
	log := a.log.WithValues("version", rel.Version, "file", rel.Filename)

	final := filepath.Join(a.dir, rel.Filename)
	if a.verifiedInCache(ctx, final, rel) {
		log.Info("using cached image", "path", final)
		report(progress.Event{Status: progress.StatusCached, Percent: progress.Complete})
		report(progress.Event{Status: progress.StatusComplete, Percent: progress.Complete})
		return Result{Path: final, Release: rel, Cached: true}, nil
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create cache directory: %w", err)
	}

	log.Info("downloading image")
	start := a.now()
	if err := a.download(ctx, rel, final, report); err != nil {
		return Result{}, err
	}
	log.Info("image downloaded", "path", final, "duration", a.now().Sub(start))

	a.record(ctx, final, rel)
	report(progress.Event{Status: progress.StatusComplete, Percent: progress.Complete})
	return Result{Path: final, Release: rel}, nil
}

// verifiedInCache trusts an index entry whose size still matches the file,
// and otherwise re-hashes a file that is already present.
func (a *Acquirer) verifiedInCache(ctx context.Context, path string, rel Release) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}

	var entry CacheEntry
	ok, err := store.GetJSON(ctx, a.meta, cacheKeyPfx+rel.Filename, &entry)
	if err != nil {
		a.log.Error(err, "cache index unavailable")
	}
	if ok && entry.SHA256 == rel.SHA256 && entry.Size == fi.Size() {
		return true
	}

	sum, err := fileSHA256(ctx, path)
	if err != nil {
		a.log.V(1).Info("cannot hash cached image", "path", path, "error", err.Error())
		return false
	}
	if sum != rel.SHA256 {
		return false
	}
	a.record(ctx, path, rel)
	return true
}

func (a *Acquirer) download(ctx context.Context, rel Release, final string, report progress.Reporter) (err error) {
	body, size, err := a.source.Open(ctx, rel)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer body.Close()

	if size < 0 && rel.Size > 0 {
		size = rel.Size
	}

	partial := final + partialSuffix
	// #nosec G304
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", partial, err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(partial)
		}
	}()

	h := sha256.New()
	pw := &progressWriter{total: size, report: report, last: -1}
	report(progress.Event{Status: progress.StatusDownloading, Percent: 0})

	written, err := copyContext(ctx, io.MultiWriter(f, h, pw), body)
	if err != nil {
		return fmt.Errorf("failed to download image: %w", err)
	}
	if (size > 0 && written != size) || (rel.Size > 0 && written != rel.Size) {
		return fmt.Errorf("%w: got %d bytes", ErrIncomplete, written)
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != rel.SHA256 {
		return fmt.Errorf("%w: want %s, got %s", ErrChecksum, rel.SHA256, sum)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", partial, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", partial, err)
	}
	if err := os.Rename(partial, final); err != nil {
		return fmt.Errorf("failed to move image into cache: %w", err)
	}
	return nil
}

func (a *Acquirer) record(ctx context.Context, path string, rel Release) {
	fi, err := os.Stat(path)
	if err != nil {
		return
	}
	entry := CacheEntry{
		Path:       path,
		Version:    rel.Version,
		SHA256:     rel.SHA256,
		Size:       fi.Size(),
		VerifiedAt: a.now().UTC(),
	}
	if err := store.SetJSON(ctx, a.meta, cacheKeyPfx+rel.Filename, entry); err != nil {
		a.log.Error(err, "failed to update cache index")
	}
}

// Cached lists the images recorded in the cache index.
func (a *Acquirer) Cached(ctx context.Context) ([]CacheEntry, error) {
	raw, err := a.meta.List(ctx, cacheKeyPfx)
	if err != nil {
		return nil, err
	}
	out := make([]CacheEntry, 0, len(raw))
	for _, v := range raw {
		var e CacheEntry
		if err := json.Unmarshal(v, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Clear deletes every cached image, partial download, and index entry.
func (a *Acquirer) Clear(ctx context.Context) error {
	var errs []error

	entries, err := os.ReadDir(a.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("failed to read cache directory: %w", err))
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(a.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}

	keys, err := a.meta.List(ctx, cacheKeyPfx)
	if err != nil {
		errs = append(errs, err)
	}
	for k := range keys {
		if err := a.meta.Delete(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// progressWriter turns byte counts into downloading events, one per percent.
type progressWriter struct {
	total   int64
	written int64
	last    int
	report  progress.Reporter
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.total > 0 {
		pct := int(p.written * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct != p.last {
			p.last = pct
			p.report(progress.Event{Status: progress.StatusDownloading, Percent: pct})
		}
	}
	return len(b), nil
}

// copyContext copies in chunks, checking ctx between them.
func copyContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyChunk)
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			n += int64(nw)
			if werr != nil {
				return n, werr
			}
			if nw != nr {
				return n, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}

func fileSHA256(ctx context.Context, path string) (string, error) {
	// #nosec G304
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := copyContext(ctx, h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
