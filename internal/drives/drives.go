// Package drives lists the block devices an image can be written to, read
// from Linux sysfs.
package drives

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
)

// DefaultSysfs is the mount point of sysfs.
const DefaultSysfs = "/sys"

// sectorSize is the unit of /sys/block/<dev>/size, independent of the
// device's logical block size.
const sectorSize = 512

// Drive is a candidate write target.
type Drive struct {
	Device      string
	Size        int64
	Description string
	Removable   bool
	ReadOnly    bool
}

// Label renders the drive as "<description> (<size> • <device>)".
func (d Drive) Label() string {
	name := d.Description
	if name == "" {
		name = d.Device
	}
	return fmt.Sprintf("%s (%s • %s)", name, FormatBytes(d.Size), d.Device)
}

// FormatBytes renders a size in binary units with one decimal place for
// gigabytes and none for megabytes.
func FormatBytes(n int64) string {
	if n <= 0 {
		return "Unknown size"
	}
	gb := float64(n) / (1 << 30)
	if gb >= 1 {
		return fmt.Sprintf("%.1f GB", gb)
	}
	return fmt.Sprintf("%.0f MB", float64(n)/(1<<20))
}

// Option configures a Lister.
type Option func(*Lister)

// WithSysfs reads devices from a sysfs tree rooted at dir.
func WithSysfs(dir string) Option {
	return func(l *Lister) { l.sysfs = dir }
}

// WithDevDir sets the directory device nodes are reported under.
func WithDevDir(dir string) Option {
	return func(l *Lister) { l.devDir = dir }
}

// IncludeNonRemovable also lists fixed disks.
func IncludeNonRemovable() Option {
	return func(l *Lister) { l.all = true }
}

// Lister enumerates block devices.
type Lister struct {
	sysfs  string
	devDir string
	all    bool
	log    logr.Logger
}

// NewLister returns a Lister reading the live system.
func NewLister(log logr.Logger, opts ...Option) *Lister {
	l := &Lister{sysfs: DefaultSysfs, devDir: "/dev", log: log.WithName("drives")}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// List returns physical disks with media present. Virtual devices are always
// skipped; fixed disks are skipped unless IncludeNonRemovable was given.
// A USB-attached disk counts as removable even when the kernel says otherwise.
func (l *Lister) List(ctx context.Context) ([]Drive, error) {
	blockDir := filepath.Join(l.sysfs, "block")
	entries, err := os.ReadDir(blockDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", blockDir, err)
	}

	var out []Drive
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		link, err := os.Readlink(filepath.Join(blockDir, name))
		if err != nil || strings.Contains(link, "devices/virtual/block") {
			continue
		}

		d, err := l.read(name, link)
		if err != nil {
			l.log.V(1).Info("skipping block device", "device", name, "error", err.Error())
			continue
		}
		if d.Size == 0 {
			continue
		}
		if !d.Removable && !l.all {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Find returns the drive with the given device path.
func (l *Lister) Find(ctx context.Context, device string) (Drive, error) {
	list, err := l.List(ctx)
	if err != nil {
		return Drive{}, err
	}
	for _, d := range list {
		if d.Device == device {
			return d, nil
		}
	}
	return Drive{}, fmt.Errorf("%w: %s", ErrNotFound, device)
}

// ErrNotFound is returned by Find for an unknown or filtered device.
var ErrNotFound = errors.New("drive not found")

func (l *Lister) read(name, link string) (Drive, error) {
	dir := filepath.Join(l.sysfs, "block", name)

	sectors, err := readInt(filepath.Join(dir, "size"))
	if err != nil {
		return Drive{}, err
	}
	removable, _ := readInt(filepath.Join(dir, "removable"))
	ro, _ := readInt(filepath.Join(dir, "ro"))
	vendor := readString(filepath.Join(dir, "device", "vendor"))
	model := readString(filepath.Join(dir, "device", "model"))

	return Drive{
		Device:      filepath.Join(l.devDir, name),
		Size:        sectors * sectorSize,
		Description: strings.TrimSpace(vendor + " " + model),
		Removable:   removable == 1 || strings.Contains(link, "/usb"),
		ReadOnly:    ro == 1,
	}, nil
}

func readString(path string) string {
	// #nosec G304
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readInt(path string) (int64, error) {
	// #nosec G304
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
}
