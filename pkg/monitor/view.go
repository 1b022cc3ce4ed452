package monitor

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// tableRows converts the dataset rows to table rows.
func (m Model) tableRows() []table.Row {
	rows := make([]table.Row, 0, len(m.rows))
	for _, r := range m.rows {
		state := "idle"
		switch {
		case m.syncing[r.Name]:
			state = "syncing"
		case r.Pending:
			state = "deleting"
		case r.DirtyCount > 0:
			state = "dirty"
		}
		rows = append(rows, table.Row{
			r.Name,
			strconv.FormatInt(r.Records, 10),
			strconv.FormatInt(r.SizeBytes, 10),
			strconv.FormatInt(r.SyncCount, 10),
			strconv.Itoa(r.DirtyCount),
			state,
		})
	}
	return rows
}

// View renders the title bar, table, and status line.
func (m Model) View() string {
	title := titleStyle.Render("dsync monitor")
	if len(m.syncing) > 0 {
		title += " " + m.spinner.View()
	}

	status := statusStyle.Render(m.status)
	if m.err != nil {
		status = errorStyle.Render(m.status)
	}
	help := helpStyle.Render("s: sync  r: refresh  q: quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		tableBorderStyle.Render(m.table.View()),
		fmt.Sprintf("%s  %s", status, help),
	)
}
