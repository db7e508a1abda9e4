// Package progress blends phase-local progress reports from the pipeline
// stages into a single global percentage.
//
// The global scale is split into disjoint bands:
//
//	registration  [0, 10)
//	download      [10, 40]   global = 10 + local*0.3
//	write         [40, 100]  global = 40 + local*0.6
//
// Within a phase the global value never moves backward: a stage that reports
// a lower local percentage than it previously did leaves the bar where it was.
package progress

import (
	"fmt"
	"math"
	"sync"
)

// Phase identifies which pipeline band an update belongs to.
type Phase string

// Pipeline phases in band order.
const (
	PhaseIdle        Phase = "idle"
	PhaseRegistering Phase = "registering"
	PhaseDownloading Phase = "downloading"
	PhaseFlashing    Phase = "flashing"
)

// Status is the stage-local sub-phase label reported alongside a percentage.
type Status string

// Acquisition statuses.
const (
	StatusChecking    Status = "checking"
	StatusDownloading Status = "downloading"
	StatusCached      Status = "cached"
	StatusComplete    Status = "complete"
)

// Write statuses. StatusComplete is shared with acquisition.
const (
	StatusPreparing     Status = "preparing"
	StatusDecompressing Status = "decompressing"
	StatusFlashing      Status = "flashing"
)

// Band boundaries on the global scale.
const (
	RegistrationStart = 0.0
	RegistrationMark  = 5.0
	DownloadStart     = 10.0
	DownloadWeight    = 0.3
	WriteStart        = 40.0
	WriteWeight       = 0.6
	Complete          = 100.0

	// flashingOffset is the local write percentage at which raw block
	// writing begins; preparing and decompressing consume the points below it.
	flashingOffset = 30
)

// Event is a phase-local progress report emitted by a stage.
type Event struct {
	Percent int
	Status  Status
}

// Reporter receives phase-local events from a stage.
type Reporter func(Event)

// Update is the blended view of the pipeline's progress.
type Update struct {
	Phase   Phase
	Status  Status
	Local   int
	Global  float64
	Display int
	Message string
}

// DownloadGlobal maps a local download percentage onto the global scale.
func DownloadGlobal(local int) float64 {
	return DownloadStart + float64(clampLocal(local))*DownloadWeight
}

// WriteGlobal maps a local write percentage onto the global scale.
func WriteGlobal(local int) float64 {
	return WriteStart + float64(clampLocal(local))*WriteWeight
}

// FlashDisplayPercent re-normalizes the flashing sub-phase, which starts at
// local=30, onto its own 0..100 range.
func FlashDisplayPercent(local int) int {
	d := int(math.Round(float64(local-flashingOffset) / 0.7))
	return max(0, min(100, d))
}

// DisplayPercent returns the percentage shown next to a status label.
func DisplayPercent(status Status, local int) int {
	if status == StatusFlashing {
		return FlashDisplayPercent(local)
	}
	return clampLocal(local)
}

// Message returns the human-readable label for a stage status.
func Message(status Status, local int) string {
	switch status {
	case StatusChecking:
		return "Checking for latest release..."
	case StatusDownloading:
		return fmt.Sprintf("Downloading image... %d%%", clampLocal(local))
	case StatusCached:
		return "Using cached image..."
	case StatusPreparing:
		return "Preparing..."
	case StatusDecompressing:
		return fmt.Sprintf("Decompressing... %d%%", clampLocal(local))
	case StatusFlashing:
		return fmt.Sprintf("Flashing to SD card... %d%%", FlashDisplayPercent(local))
	default:
		return string(status)
	}
}

func clampLocal(p int) int {
	return max(0, min(100, p))
}

// Aggregator holds the current global progress of one pipeline run.
// It is safe for concurrent use; stage callbacks never block on subscribers.
type Aggregator struct {
	mu      sync.Mutex
	current Update
	subs    map[int]chan Update
	nextSub int
}

// New returns an aggregator positioned at the start of the scale.
func New() *Aggregator {
	return &Aggregator{
		current: Update{Phase: PhaseIdle},
		subs:    make(map[int]chan Update),
	}
}

// Begin moves the aggregator to a phase marker with a free-form message,
// e.g. "Registering device..." at 5%.
func (a *Aggregator) Begin(phase Phase, message string, global float64) Update {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.current = Update{
		Phase:   phase,
		Global:  global,
		Message: message,
	}
	a.publishLocked()
	return a.current
}

// Download applies an acquisition event.
func (a *Aggregator) Download(ev Event) Update {
	return a.apply(PhaseDownloading, ev, DownloadGlobal(ev.Percent), downloadMessage(ev))
}

// Write applies a write-stage event. A complete event pins the bar to 100.
func (a *Aggregator) Write(ev Event) Update {
	global := WriteGlobal(ev.Percent)
	if ev.Status == StatusComplete {
		global = Complete
	}
	return a.apply(PhaseFlashing, ev, global, writeMessage(ev))
}

// DownloadReporter adapts the aggregator to a stage Reporter.
func (a *Aggregator) DownloadReporter() Reporter {
	return func(ev Event) { a.Download(ev) }
}

// WriteReporter adapts the aggregator to a stage Reporter.
func (a *Aggregator) WriteReporter() Reporter {
	return func(ev Event) { a.Write(ev) }
}

func (a *Aggregator) apply(phase Phase, ev Event, global float64, msg string) Update {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current.Phase == phase && global < a.current.Global {
		global = a.current.Global
	}

	a.current = Update{
		Phase:   phase,
		Status:  ev.Status,
		Local:   clampLocal(ev.Percent),
		Global:  global,
		Display: DisplayPercent(ev.Status, ev.Percent),
		Message: msg,
	}
	a.publishLocked()
	return a.current
}

// Snapshot returns the latest update.
func (a *Aggregator) Snapshot() Update {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Reset returns the aggregator to idle at 0%.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = Update{Phase: PhaseIdle}
	a.publishLocked()
}

// Subscribe returns a channel receiving every update. When the subscriber
// falls behind, the oldest pending update is dropped. Call the returned
// function to unsubscribe.
func (a *Aggregator) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Update, buffer)

	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, id)
			a.mu.Unlock()
			close(ch)
		})
	}
}

func (a *Aggregator) publishLocked() {
	for _, ch := range a.subs {
		select {
		case ch <- a.current:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- a.current:
			default:
			}
		}
	}
}

func downloadMessage(ev Event) string {
	if ev.Status == StatusComplete {
		return "Download complete"
	}
	return Message(ev.Status, ev.Percent)
}

func writeMessage(ev Event) string {
	if ev.Status == StatusComplete {
		return "Flash complete!"
	}
	return Message(ev.Status, ev.Percent)
}
