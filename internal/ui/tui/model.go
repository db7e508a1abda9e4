package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/palpable/imager/internal/pipeline"
	"github.com/palpable/imager/internal/progress"
)

// Stage is one row of the stage list.
type Stage struct {
	Name    string
	Phase   progress.Phase
	Skipped bool
}

// Model is the Bubble Tea model for the flash view.
type Model struct {
	// Run info
	DeviceName string
	DriveLabel string
	Stages     []Stage

	// Latest progress
	Phase   progress.Phase
	Global  float64
	Message string

	// Terminal state
	Done    bool
	Outcome pipeline.Outcome

	// Cancelling is set once the user asked to stop; the view stays up until
	// the run acknowledges.
	Cancelling bool
	cancel     func()

	// Animation
	SpinnerFrame int
	StartTime    time.Time

	// UI state
	Width  int
	Height int
}

// NewModel creates a model for a run flashing deviceName onto driveLabel.
// linked marks runs authorized by a paired device, which skip registration.
// cancel is called when the user interrupts the view.
func NewModel(deviceName, driveLabel string, linked bool, cancel func()) Model {
	return Model{
		DeviceName: deviceName,
		DriveLabel: driveLabel,
		Stages: []Stage{
			{Name: "Register device", Phase: progress.PhaseRegistering, Skipped: linked},
			{Name: "Download image", Phase: progress.PhaseDownloading},
			{Name: "Flash SD card", Phase: progress.PhaseFlashing},
		},
		Phase:     progress.PhaseIdle,
		StartTime: time.Now(),
		cancel:    cancel,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.Done {
				return m, tea.Quit
			}
			if !m.Cancelling {
				m.Cancelling = true
				if m.cancel != nil {
					m.cancel()
				}
			}
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case ProgressMsg:
		m.Phase = msg.Update.Phase
		m.Global = msg.Update.Global
		m.Message = msg.Update.Message

	case TickMsg:
		m.SpinnerFrame++
		if m.Done {
			return m, nil
		}
		return m, tickCmd()

	case DoneMsg:
		m.Done = true
		m.Outcome = msg.Outcome
		if msg.Outcome.Phase == pipeline.PhaseSucceeded {
			m.Global = progress.Complete
		}
		return m, tea.Quit
	}

	return m, nil
}

// stageState classifies a stage against the current phase.
func (m Model) stageState(s Stage) stageState {
	if s.Skipped {
		return stageSkipped
	}
	cur, own := phaseIndex(m.Phase), phaseIndex(s.Phase)
	switch {
	case m.Done && m.Outcome.Phase == pipeline.PhaseSucceeded:
		return stageDone
	case m.Done && m.Outcome.Phase == pipeline.PhaseFailed && cur == own:
		return stageFailed
	case own < cur:
		return stageDone
	case own == cur && !m.Done:
		return stageActive
	default:
		return stagePending
	}
}

type stageState int

const (
	stagePending stageState = iota
	stageActive
	stageDone
	stageFailed
	stageSkipped
)

func phaseIndex(p progress.Phase) int {
	switch p {
	case progress.PhaseRegistering:
		return 1
	case progress.PhaseDownloading:
		return 2
	case progress.PhaseFlashing:
		return 3
	default:
		return 0
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// View implements tea.Model.
func (m Model) View() string {
	return renderView(m)
}
