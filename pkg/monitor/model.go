// Package monitor is the dsync TUI: a live table of the current identity's
// datasets with keyboard-driven sync.
package monitor

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/dsync/internal/models"
	"github.com/marcus/dsync/internal/sync"
)

// row is one dataset line of the table.
type row struct {
	Name       string
	Records    int64
	SizeBytes  int64
	SyncCount  int64
	DirtyCount int
	Pending    bool
}

type datasetsLoadedMsg struct {
	rows []row
	err  error
}

type syncDoneMsg struct {
	name    string
	applied int
	err     error
}

type tickMsg time.Time

// Model is the bubbletea model for the monitor.
type Model struct {
	manager *sync.Manager
	table   table.Model
	spinner spinner.Model

	rows    []row
	syncing map[string]bool
	status  string
	err     error
	width   int
	height  int
}

// New creates the monitor model over a wired manager.
func New(manager *sync.Manager) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	t := table.New(
		table.WithColumns(tableColumns(60)),
		table.WithFocused(true),
	)
	t.SetStyles(tableStyles())

	return Model{
		manager: manager,
		table:   t,
		spinner: sp,
		syncing: make(map[string]bool),
		status:  "loading datasets...",
	}
}

func tableColumns(width int) []table.Column {
	nameWidth := width - 44
	if nameWidth < 12 {
		nameWidth = 12
	}
	return []table.Column{
		{Title: "Dataset", Width: nameWidth},
		{Title: "Records", Width: 8},
		{Title: "Bytes", Width: 10},
		{Title: "Sync", Width: 8},
		{Title: "Dirty", Width: 6},
		{Title: "State", Width: 8},
	}
}

// Init starts the spinner, the refresh ticker, and the first load.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadDatasets(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// loadDatasets reads dataset metadata and dirty counts off the UI loop.
func (m Model) loadDatasets() tea.Cmd {
	manager := m.manager
	return func() tea.Msg {
		metadata, err := manager.ListDatasets()
		if err != nil {
			return datasetsLoadedMsg{err: err}
		}
		rows := make([]row, 0, len(metadata))
		for _, md := range metadata {
			r := row{
				Name:      md.Name,
				Records:   md.RecordCount,
				SizeBytes: md.StorageSizeBytes,
				SyncCount: md.LastSyncCount,
				Pending:   md.PendingDelete(),
			}
			if ds, err := manager.OpenDataset(md.Name); err == nil {
				if records, err := ds.GetAllRecords(); err == nil {
					for _, rec := range records {
						if rec.Modified {
							r.DirtyCount++
						}
					}
				}
			}
			rows = append(rows, r)
		}
		return datasetsLoadedMsg{rows: rows}
	}
}

// syncDataset runs one sync session to completion off the UI loop.
func (m Model) syncDataset(name string) tea.Cmd {
	manager := m.manager
	return func() tea.Msg {
		ds, err := manager.OpenDataset(name)
		if err != nil {
			return syncDoneMsg{name: name, err: err}
		}
		cb := &monitorCallback{done: make(chan syncDoneMsg, 1)}
		ds.Synchronize(cb)
		select {
		case msg := <-cb.done:
			msg.name = name
			return msg
		case <-time.After(2 * time.Minute):
			return syncDoneMsg{name: name, err: fmt.Errorf("sync timed out")}
		}
	}
}

// monitorCallback accepts remote decisions and resolves conflicts in favor
// of the server, matching the monitor's read-mostly role.
type monitorCallback struct {
	done chan syncDoneMsg
}

func (c *monitorCallback) OnSuccess(ds *sync.Dataset, applied []models.Record) {
	c.done <- syncDoneMsg{applied: len(applied)}
}

func (c *monitorCallback) OnFailure(err error) {
	c.done <- syncDoneMsg{err: err}
}

func (c *monitorCallback) OnConflict(ds *sync.Dataset, conflicts []sync.Conflict) bool {
	resolved := make([]models.Record, 0, len(conflicts))
	for _, cf := range conflicts {
		resolved = append(resolved, cf.ResolveWithRemote())
	}
	if err := ds.Resolve(resolved); err != nil {
		c.done <- syncDoneMsg{err: err}
		return false
	}
	return true
}

func (c *monitorCallback) OnDatasetDeleted(ds *sync.Dataset, name string) bool { return true }

func (c *monitorCallback) OnDatasetsMerged(ds *sync.Dataset, mergedNames []string) bool {
	return true
}

// Update handles key, tick, and completion messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetColumns(tableColumns(msg.Width - 4))
		m.table.SetHeight(msg.Height - 6)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.status = "refreshing..."
			return m, m.loadDatasets()
		case "s", "enter":
			if name := m.selectedName(); name != "" && !m.syncing[name] {
				m.syncing[name] = true
				m.status = fmt.Sprintf("syncing %s...", name)
				return m, m.syncDataset(name)
			}
			return m, nil
		}

	case datasetsLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = msg.err.Error()
			return m, nil
		}
		m.err = nil
		m.rows = msg.rows
		m.table.SetRows(m.tableRows())
		if m.status == "loading datasets..." || m.status == "refreshing..." {
			m.status = fmt.Sprintf("%d datasets", len(m.rows))
		}
		return m, nil

	case syncDoneMsg:
		delete(m.syncing, msg.name)
		if msg.err != nil {
			m.status = fmt.Sprintf("%s: %v", msg.name, msg.err)
		} else {
			m.status = fmt.Sprintf("%s: synced, %d records applied", msg.name, msg.applied)
		}
		return m, m.loadDatasets()

	case tickMsg:
		return m, tea.Batch(tick(), m.loadDatasets())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) selectedName() string {
	idx := m.table.Cursor()
	if idx < 0 || idx >= len(m.rows) {
		return ""
	}
	return m.rows[idx].Name
}

// Run starts the monitor over the given manager.
func Run(manager *sync.Manager) error {
	_, err := tea.NewProgram(New(manager), tea.WithAltScreen()).Run()
	return err
}
