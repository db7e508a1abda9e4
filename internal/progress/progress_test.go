package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadGlobal_Bounds(t *testing.T) {
	t.Parallel()

	for p := 0; p <= 100; p++ {
		g := DownloadGlobal(p)
		assert.InDelta(t, 10+0.3*float64(p), g, 1e-9)
		assert.GreaterOrEqual(t, g, 10.0)
		assert.LessOrEqual(t, g, 40.0)
	}
}

func TestWriteGlobal_Bounds(t *testing.T) {
	t.Parallel()

	for p := 0; p <= 100; p++ {
		g := WriteGlobal(p)
		assert.InDelta(t, 40+0.6*float64(p), g, 1e-9)
		assert.GreaterOrEqual(t, g, 40.0)
		assert.LessOrEqual(t, g, 100.0)
	}
}

func TestGlobal_ClampsOutOfRangeLocal(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 10.0, DownloadGlobal(-5))
	assert.Equal(t, 40.0, DownloadGlobal(150))
	assert.Equal(t, 40.0, WriteGlobal(-1))
	assert.Equal(t, 100.0, WriteGlobal(101))
}

func TestFlashDisplayPercent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		local int
		want  int
	}{
		{30, 0},
		{65, 50},
		{100, 100},
		{51, 30},
		{10, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FlashDisplayPercent(tt.local), "local=%d", tt.local)
	}
}

func TestDisplayPercent_OnlyFlashingIsRenormalized(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 65, DisplayPercent(StatusDecompressing, 65))
	assert.Equal(t, 50, DisplayPercent(StatusFlashing, 65))
	assert.Equal(t, 42, DisplayPercent(StatusDownloading, 42))
}

func TestMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status Status
		local  int
		want   string
	}{
		{StatusChecking, 0, "Checking for latest release..."},
		{StatusDownloading, 42, "Downloading image... 42%"},
		{StatusCached, 100, "Using cached image..."},
		{StatusPreparing, 0, "Preparing..."},
		{StatusDecompressing, 12, "Decompressing... 12%"},
		{StatusFlashing, 65, "Flashing to SD card... 50%"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, Message(tt.status, tt.local))
		})
	}
}

func TestAggregator_MonotonicInputStaysInBand(t *testing.T) {
	t.Parallel()

	a := New()
	prev := 0.0
	for p := 0; p <= 100; p += 5 {
		u := a.Download(Event{Percent: p, Status: StatusDownloading})
		assert.GreaterOrEqual(t, u.Global, prev)
		assert.GreaterOrEqual(t, u.Global, 10.0)
		assert.LessOrEqual(t, u.Global, 40.0)
		prev = u.Global
	}
	for p := 0; p <= 100; p += 5 {
		u := a.Write(Event{Percent: p, Status: StatusFlashing})
		assert.GreaterOrEqual(t, u.Global, prev)
		assert.GreaterOrEqual(t, u.Global, 40.0)
		assert.LessOrEqual(t, u.Global, 100.0)
		prev = u.Global
	}
}

func TestAggregator_DoesNotRegressWithinPhase(t *testing.T) {
	t.Parallel()

	a := New()
	a.Write(Event{Percent: 60, Status: StatusFlashing})
	u := a.Write(Event{Percent: 20, Status: StatusDecompressing})

	assert.InDelta(t, WriteGlobal(60), u.Global, 1e-9)
	assert.Equal(t, 20, u.Local)
	assert.Equal(t, StatusDecompressing, u.Status)
}

func TestAggregator_WriteCompletePinsTo100(t *testing.T) {
	t.Parallel()

	a := New()
	u := a.Write(Event{Percent: 97, Status: StatusComplete})

	assert.Equal(t, 100.0, u.Global)
	assert.Equal(t, "Flash complete!", u.Message)
}

func TestAggregator_BeginAndReset(t *testing.T) {
	t.Parallel()

	a := New()
	u := a.Begin(PhaseRegistering, "Registering device...", RegistrationMark)
	assert.Equal(t, 5.0, u.Global)
	assert.Equal(t, PhaseRegistering, a.Snapshot().Phase)

	a.Reset()
	assert.Equal(t, PhaseIdle, a.Snapshot().Phase)
	assert.Equal(t, 0.0, a.Snapshot().Global)
}

func TestAggregator_SubscribeNeverBlocks(t *testing.T) {
	t.Parallel()

	a := New()
	ch, cancel := a.Subscribe(1)
	defer cancel()

	for p := 0; p <= 100; p += 10 {
		a.Download(Event{Percent: p, Status: StatusDownloading})
	}

	got := <-ch
	require.Equal(t, PhaseDownloading, got.Phase)
	assert.Equal(t, 100, got.Local, "subscriber should see the newest update")
}

func TestAggregator_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	a := New()
	ch, cancel := a.Subscribe(4)
	cancel()
	cancel()

	a.Download(Event{Percent: 10, Status: StatusDownloading})
	_, ok := <-ch
	assert.False(t, ok)
}
