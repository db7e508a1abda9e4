// Package flash writes a provisioning image onto a target block device.
//
// Compressed images are first expanded into a temporary raw file, which
// accounts for the first 30 points of the stage's local progress. The
// remaining 70 points track the block copy onto the target.
package flash

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/palpable/imager/internal/config"
	"github.com/palpable/imager/internal/progress"
)

const (
	decompressShare = 30
	wipeSize        = 1 << 20
)

var (
	// ErrTargetBusy is returned when another process holds the target.
	ErrTargetBusy = errors.New("target device is in use")

	// ErrImageTooLarge is returned when the raw image does not fit the target.
	ErrImageTooLarge = errors.New("image is larger than target device")
)

// Result is the outcome of one write. Cancellation is not an error: a
// cancelled write has Cancelled set and an empty Error.
type Result struct {
	Success   bool
	Cancelled bool
	Error     string
	Written   int64
}

func failed(err error) Result {
	return Result{Error: err.Error()}
}

// Writer copies images onto block devices.
type Writer struct {
	blockSize int
	tempDir   string
	log       logr.Logger

	// targetSize reports the capacity of an opened target, 0 when unknown.
	targetSize func(*os.File) (int64, error)
}

// NewWriter returns a Writer tuned by cfg.
func NewWriter(cfg config.FlashConfig, log logr.Logger) *Writer {
	bs := cfg.BlockSize
	if bs <= 0 {
		bs = config.DefaultBlockSize
	}
	return &Writer{
		blockSize:  bs,
		tempDir:    cfg.TempDir,
		log:        log.WithName("flash"),
		targetSize: deviceSize,
	}
}

// Write flashes imagePath onto target. Progress is reported as
// preparing → decompressing (compressed images only) → flashing → complete.
// Cancelling ctx stops the copy between blocks and zeroes the head of the
// target so the card is not mistaken for a finished one.
func (w *Writer) Write(ctx context.Context, imagePath, target string, report progress.Reporter) Result {
	if report == nil {
		report = func(progress.Event) {}
	}
	log := w.log.WithValues("image", imagePath, "target", target)
	report(progress.Event{Status: progress.StatusPreparing, Percent: 0})

	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return failed(fmt.Errorf("target %s does not exist", target))
		}
		return failed(fmt.Errorf("failed to stat target: %w", err))
	}

	comp, err := Detect(imagePath)
	if err != nil {
		return failed(fmt.Errorf("failed to inspect image: %w", err))
	}

	raw := imagePath
	if comp != CompressionNone {
		log.Info("decompressing image", "compression", string(comp))
		tmp, err := w.decompress(ctx, imagePath, comp, report)
		if tmp != "" {
			defer os.Remove(tmp)
		}
		if ctx.Err() != nil {
			log.Info("write cancelled during decompression")
			return Result{Cancelled: true}
		}
		if err != nil {
			return failed(err)
		}
		raw = tmp
	}

	start := time.Now()
	written, err := w.flash(ctx, raw, target, report)
	if ctx.Err() != nil {
		log.Info("write cancelled", "written", written)
		return Result{Cancelled: true, Written: written}
	}
	if err != nil {
		log.Error(err, "write failed", "written", written)
		return Result{Error: err.Error(), Written: written}
	}

	log.Info("image written", "bytes", written, "duration", time.Since(start))
	report(progress.Event{Status: progress.StatusComplete, Percent: 100})
	return Result{Success: true, Written: written}
}

// decompress expands src into a temporary file and returns its path. The
// returned path is set whenever a file was created, even on error.
func (w *Writer) decompress(ctx context.Context, src string, comp Compression, report progress.Reporter) (string, error) {
	// #nosec G304
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat image: %w", err)
	}

	counted := &countingReader{r: in}
	zr, err := newDecompressor(comp, counted)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	out, err := os.CreateTemp(w.tempDir, "imager-*.img")
	if err != nil {
		return "", fmt.Errorf("failed to create temp image: %w", err)
	}
	defer out.Close()

	report(progress.Event{Status: progress.StatusDecompressing, Percent: 0})
	total := fi.Size()
	last := 0
	_, err = copyBlocks(ctx, out, zr, make([]byte, w.blockSize), func(int64) {
		if total <= 0 {
			return
		}
		pct := int(counted.n.Load() * decompressShare / total)
		pct = min(pct, decompressShare)
		if pct != last {
			last = pct
			report(progress.Event{Status: progress.StatusDecompressing, Percent: pct})
		}
	})
	if err != nil {
		return out.Name(), fmt.Errorf("failed to decompress image: %w", err)
	}
	if err := out.Close(); err != nil {
		return out.Name(), fmt.Errorf("failed to close temp image: %w", err)
	}
	return out.Name(), nil
}

// flash copies raw onto target and syncs it.
func (w *Writer) flash(ctx context.Context, raw, target string, report progress.Reporter) (int64, error) {
	// #nosec G304
	in, err := os.Open(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to open raw image: %w", err)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat raw image: %w", err)
	}
	total := fi.Size()

	// #nosec G304
	out, err := os.OpenFile(target, os.O_WRONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to open target: %w", err)
	}
	defer out.Close()

	if err := lockTarget(out); err != nil {
		return 0, err
	}

	capacity, err := w.targetSize(out)
	if err != nil {
		return 0, fmt.Errorf("failed to determine target size: %w", err)
	}
	if capacity > 0 && total > capacity {
		return 0, fmt.Errorf("%w: %d > %d bytes", ErrImageTooLarge, total, capacity)
	}

	report(progress.Event{Status: progress.StatusFlashing, Percent: decompressShare})
	last := decompressShare
	written, err := copyBlocks(ctx, out, in, make([]byte, w.blockSize), func(n int64) {
		if total <= 0 {
			return
		}
		pct := decompressShare + int(n*(100-decompressShare)/total)
		if pct != last {
			last = pct
			report(progress.Event{Status: progress.StatusFlashing, Percent: pct})
		}
	})
	if ctx.Err() != nil {
		w.wipe(out)
		return written, ctx.Err()
	}
	if err != nil {
		return written, fmt.Errorf("failed to write image: %w", err)
	}

	if err := out.Sync(); err != nil {
		return written, fmt.Errorf("failed to sync target: %w", err)
	}
	return written, nil
}

// wipe zeroes the first MiB of an interrupted target.
func (w *Writer) wipe(f *os.File) {
	if _, err := f.WriteAt(make([]byte, wipeSize), 0); err != nil {
		w.log.Error(err, "failed to wipe interrupted target")
		return
	}
	if err := f.Sync(); err != nil {
		w.log.Error(err, "failed to sync wiped target")
	}
}

// copyBlocks copies src to dst one buffer at a time, checking ctx before
// each block. onBlock receives the running total after every write.
func copyBlocks(ctx context.Context, dst io.Writer, src io.Reader, buf []byte, onBlock func(int64)) (int64, error) {
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		nr, rerr := io.ReadFull(src, buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			n += int64(nw)
			if werr != nil {
				return n, werr
			}
			if nw != nr {
				return n, io.ErrShortWrite
			}
			onBlock(n)
		}
		switch {
		case rerr == io.EOF || rerr == io.ErrUnexpectedEOF:
			return n, nil
		case rerr != nil:
			return n, rerr
		}
	}
}

// deviceSize returns the size of a block device, or 0 for anything else.
func deviceSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return 0, nil
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

// countingReader counts bytes read. Decoders may read from another
// goroutine, so the count is atomic.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
