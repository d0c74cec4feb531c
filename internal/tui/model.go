// Package tui provides a read-only terminal monitor over the shadow
// store, for operators without the HTTP surface (SPEC_FULL.md §2).
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/besim-project/besimd/internal/shadow"
)

// staleAfter mirrors httpapi.RoomFreshWindow: a room not heard from
// within this window is rendered as stale rather than live.
const staleAfter = 600 * time.Second

// refreshInterval is how often the model repolls the shadow store.
const refreshInterval = time.Second

// RoomRow is one flattened (device, room) pair for display.
type RoomRow struct {
	DeviceID uint32
	RoomID   uint32
	Temp     int16
	SetTemp  int16
	Mode     byte
	Heating  *bool
	LastSeen time.Time
	Fresh    bool
}

// Model is the bubbletea state for the monitor.
type Model struct {
	store *shadow.Store

	width    int
	height   int
	ready    bool
	quitting bool

	spinner spinner.Model

	rows         []RoomRow
	deviceCount  int
	startTime    time.Time
	lastUpdate   time.Time
	errorMessage string
}

// New creates a Model that polls store for its display rows.
func New(store *shadow.Store) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return Model{
		store:     store,
		spinner:   s,
		startTime: time.Now(),
	}
}

// Init initializes the model.
//
//nolint:gocritic // hugeParam: Model must be value receiver to implement tea.Model interface
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd(), snapshotCmd(m.store))
}

type tickMsg time.Time

type snapshotMsg struct {
	rows        []RoomRow
	deviceCount int
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// snapshotCmd walks every known device and room under the store's lock
// and returns a flattened, display-ready copy.
func snapshotCmd(store *shadow.Store) tea.Cmd {
	return func() tea.Msg {
		if store == nil {
			return snapshotMsg{}
		}

		ids := store.DeviceIDs()
		rows := make([]RoomRow, 0, len(ids))
		now := time.Now()

		for _, id := range ids {
			store.WithDevice(id, nil, func(dev *shadow.Device) {
				for roomID, room := range dev.Rooms {
					rows = append(rows, RoomRow{
						DeviceID: id,
						RoomID:   roomID,
						Temp:     room.Temp,
						SetTemp:  room.SetTemp,
						Mode:     room.Mode,
						Heating:  room.Heating,
						LastSeen: room.LastSeen,
						Fresh:    now.Sub(room.LastSeen) < staleAfter,
					})
				}
			})
		}

		return snapshotMsg{rows: rows, deviceCount: len(ids)}
	}
}
