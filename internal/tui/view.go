package tui

import (
	"fmt"
	"strings"
	"time"
)

// View renders the UI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if !m.ready {
		return fmt.Sprintf("%s Initializing...\n", m.spinner.View())
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("besimd monitor"))
	b.WriteString("\n")

	uptime := time.Since(m.startTime).Round(time.Second)
	header := statLabelStyle.Render("Devices: ") + statValueStyle.Render(fmt.Sprintf("%d", m.deviceCount)) +
		statLabelStyle.Render(" | Rooms: ") + statValueStyle.Render(fmt.Sprintf("%d", len(m.rows))) +
		statLabelStyle.Render(" | Uptime: ") + statValueStyle.Render(uptime.String())
	b.WriteString(header)
	b.WriteString("\n\n")

	table := boxStyle.Width(m.width - 4).Render(m.renderRooms())
	b.WriteString(table)
	b.WriteString("\n")

	if m.errorMessage != "" {
		b.WriteString(errorStyle.Render("Error: " + m.errorMessage))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("q: quit"))
	return b.String()
}

func (m Model) renderRooms() string {
	if len(m.rows) == 0 {
		return statLabelStyle.Render("No rooms seen yet. Waiting for device traffic...")
	}

	var b strings.Builder
	b.WriteString(statLabelStyle.Render(fmt.Sprintf("%-10s %-6s %-8s %-8s %-10s %-8s %s\n",
		"DEVICE", "ROOM", "TEMP", "SETTEMP", "MODE", "HEATING", "STATUS")))

	for _, r := range m.rows {
		b.WriteString(m.renderRoom(r))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderRoom(r RoomRow) string {
	heating := "-"
	if r.Heating != nil {
		if *r.Heating {
			heating = heatingStyle.Render("on")
		} else {
			heating = "off"
		}
	}

	return fmt.Sprintf("%-10s %-6d %-8.1f %-8.1f %-10s %-8s %s",
		roomIDStyle.Render(fmt.Sprintf("%08x", r.DeviceID)),
		r.RoomID,
		float64(r.Temp)/10,
		float64(r.SetTemp)/10,
		modeName(r.Mode),
		heating,
		StatusIndicator(r.Fresh))
}

func modeName(mode byte) string {
	switch mode {
	case 0:
		return "off"
	case 1:
		return "manual"
	case 2:
		return "auto"
	case 3:
		return "boost"
	default:
		return fmt.Sprintf("0x%02x", mode)
	}
}
