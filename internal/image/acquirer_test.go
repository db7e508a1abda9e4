package image

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palpable/imager/internal/progress"
	"github.com/palpable/imager/internal/store"
)

func sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

type fakeSource struct {
	mu      sync.Mutex
	rel     Release
	data    []byte
	size    int64
	latest  error
	opens   int
	onChunk func()
}

func (f *fakeSource) Latest(context.Context) (Release, error) {
	return f.rel, f.latest
}

func (f *fakeSource) Open(context.Context, Release) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	f.opens++
	f.mu.Unlock()
	var r io.Reader = bytes.NewReader(f.data)
	if f.onChunk != nil {
		r = &hookReader{r: r, hook: f.onChunk}
	}
	return io.NopCloser(r), f.size, nil
}

type hookReader struct {
	r    io.Reader
	hook func()
}

func (h *hookReader) Read(p []byte) (int, error) {
	h.hook()
	if len(p) > 1024 {
		p = p[:1024]
	}
	return h.r.Read(p)
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) report(ev progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) statuses() []progress.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []progress.Status
	for _, ev := range l.events {
		if len(out) == 0 || out[len(out)-1] != ev.Status {
			out = append(out, ev.Status)
		}
	}
	return out
}

func (l *eventLog) last() progress.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

func newFixture(t *testing.T, data []byte) (*Acquirer, *fakeSource, store.Metadata) {
	t.Helper()
	src := &fakeSource{
		rel:  Release{Version: "1.2.0", Filename: "palpable.img.xz", SHA256: sum(data), Size: int64(len(data))},
		data: data,
		size: int64(len(data)),
	}
	meta := store.NewMemoryMetadata()
	return NewAcquirer(src, t.TempDir(), meta, logr.Discard()), src, meta
}

func TestAcquire_DownloadsAndVerifies(t *testing.T) {
	t.Parallel()
	data := bytes.Repeat([]byte("palpable"), 64*1024)
	a, src, _ := newFixture(t, data)
	log := &eventLog{}

	res, err := a.Acquire(context.Background(), log.report)
	require.NoError(t, err)

	assert.False(t, res.Cached)
	assert.Equal(t, filepath.Join(a.Dir(), "palpable.img.xz"), res.Path)
	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.NoFileExists(t, res.Path+partialSuffix)

	assert.Equal(t, []progress.Status{progress.StatusChecking, progress.StatusDownloading, progress.StatusComplete}, log.statuses())
	assert.Equal(t, progress.Event{Status: progress.StatusComplete, Percent: 100}, log.last())
	assert.Equal(t, 1, src.opens)

	cached, err := a.Cached(context.Background())
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "1.2.0", cached[0].Version)
}

func TestAcquire_DownloadPercentIsMonotonic(t *testing.T) {
	t.Parallel()
	data := bytes.Repeat([]byte{0xAB}, 10*1024)
	a, src, _ := newFixture(t, data)
	src.onChunk = func() {}
	log := &eventLog{}

	_, err := a.Acquire(context.Background(), log.report)
	require.NoError(t, err)

	prev := -1
	for _, ev := range log.events {
		if ev.Status != progress.StatusDownloading {
			continue
		}
		assert.GreaterOrEqual(t, ev.Percent, prev)
		prev = ev.Percent
	}
	assert.Equal(t, 100, prev)
}

func TestAcquire_CachedShortCircuitStillCompletes(t *testing.T) {
	t.Parallel()
	data := []byte("cached image payload")
	a, src, _ := newFixture(t, data)

	_, err := a.Acquire(context.Background(), nil)
	require.NoError(t, err)

	log := &eventLog{}
	res, err := a.Acquire(context.Background(), log.report)
	require.NoError(t, err)

	assert.True(t, res.Cached)
	assert.Equal(t, 1, src.opens)
	assert.Equal(t, []progress.Status{progress.StatusChecking, progress.StatusCached, progress.StatusComplete}, log.statuses())
	assert.Equal(t, progress.StatusComplete, log.last().Status)
}

func TestAcquire_ExistingFileWithoutIndexIsHashed(t *testing.T) {
	t.Parallel()
	data := []byte("pre-seeded image")
	a, src, meta := newFixture(t, data)
	require.NoError(t, os.WriteFile(filepath.Join(a.Dir(), src.rel.Filename), data, 0o644))

	res, err := a.Acquire(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Zero(t, src.opens)

	raw, err := meta.Get(context.Background(), cacheKeyPfx+src.rel.Filename)
	require.NoError(t, err)
	assert.NotNil(t, raw)
}

func TestAcquire_StaleCacheIsReplaced(t *testing.T) {
	t.Parallel()
	data := []byte("new release")
	a, src, _ := newFixture(t, data)
	require.NoError(t, os.WriteFile(filepath.Join(a.Dir(), src.rel.Filename), []byte("old release"), 0o644))

	res, err := a.Acquire(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 1, src.opens)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestAcquire_ChecksumMismatch(t *testing.T) {
	t.Parallel()
	a, src, _ := newFixture(t, []byte("expected"))
	src.data = []byte("tampered")
	log := &eventLog{}

	_, err := a.Acquire(context.Background(), log.report)
	require.ErrorIs(t, err, ErrChecksum)

	assert.NoFileExists(t, filepath.Join(a.Dir(), src.rel.Filename))
	assert.NoFileExists(t, filepath.Join(a.Dir(), src.rel.Filename+partialSuffix))
	assert.NotContains(t, log.statuses(), progress.StatusComplete)
}

func TestAcquire_ShortDownload(t *testing.T) {
	t.Parallel()
	data := []byte("full image content")
	a, src, _ := newFixture(t, data)
	src.data = data[:5]

	_, err := a.Acquire(context.Background(), nil)
	require.ErrorIs(t, err, ErrIncomplete)
	assert.NoFileExists(t, filepath.Join(a.Dir(), src.rel.Filename+partialSuffix))
}

func TestAcquire_ManifestFailure(t *testing.T) {
	t.Parallel()
	a, src, _ := newFixture(t, []byte("x"))
	src.latest = errors.New("dns failure")

	_, err := a.Acquire(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dns failure")
}

func TestAcquire_Cancelled(t *testing.T) {
	t.Parallel()
	data := bytes.Repeat([]byte{1}, 64*1024)
	a, src, _ := newFixture(t, data)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	src.onChunk = func() {
		calls++
		if calls == 3 {
			cancel()
		}
	}

	_, err := a.Acquire(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, filepath.Join(a.Dir(), src.rel.Filename+partialSuffix))
}

func TestClear(t *testing.T) {
	t.Parallel()
	a, _, meta := newFixture(t, []byte("payload"))
	_, err := a.Acquire(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(a.Dir(), "leftover"+partialSuffix), []byte("x"), 0o644))

	require.NoError(t, a.Clear(context.Background()))

	entries, err := os.ReadDir(a.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	idx, err := meta.List(context.Background(), cacheKeyPfx)
	require.NoError(t, err)
	assert.Empty(t, idx)
}

func TestParseManifest(t *testing.T) {
	t.Parallel()
	good := sum([]byte("x"))

	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{"valid", `{"version":"1","url":"a.img","sha256":"` + strings.ToUpper(good) + `","filename":"a.img"}`, false},
		{"missing filename", `{"sha256":"` + good + `"}`, true},
		{"path traversal", `{"sha256":"` + good + `","filename":"../a.img"}`, true},
		{"short hash", `{"sha256":"abc","filename":"a.img"}`, true},
		{"negative size", `{"sha256":"` + good + `","filename":"a.img","size":-1}`, true},
		{"not json", `nope`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rel, err := ParseManifest([]byte(tt.json))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadManifest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, good, rel.SHA256)
		})
	}
}
