package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tanq16/vidzo/internal/progress"
	"github.com/tanq16/vidzo/internal/utils"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type entry struct {
	id       int
	label    string
	status   Status
	message  string
	progress string
	started  time.Time
	updated  time.Time
	err      error
}

type ErrorReport struct {
	Label string
	Error error
	Time  time.Time
}

// Manager renders the state of every registered download. On a terminal
// it redraws in place; otherwise it prints one line per finished job.
type Manager struct {
	mu          sync.RWMutex
	out         io.Writer
	interactive bool
	width       int
	height      int
	entries     []*entry
	errors      []ErrorReport
	numLines    int
	displayTick time.Duration
	doneCh      chan struct{}
	displayWg   sync.WaitGroup
	running     bool
}

func NewManager() *Manager {
	m := newManager(os.Stdout)
	if isTerminal(os.Stdout) {
		m.interactive = true
		m.width, m.height = getTerminalSize(os.Stdout)
	}
	return m
}

func newManager(out io.Writer) *Manager {
	return &Manager{
		out:         out,
		width:       80,
		height:      24,
		displayTick: 300 * time.Millisecond,
		doneCh:      make(chan struct{}),
	}
}

func (m *Manager) get(id int) *entry {
	if id < 1 || id > len(m.entries) {
		return nil
	}
	return m.entries[id-1]
}

func (m *Manager) Register(label string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.entries = append(m.entries, &entry{
		id:      len(m.entries) + 1,
		label:   label,
		status:  StatusPending,
		started: now,
		updated: now,
	})
	return len(m.entries)
}

func (m *Manager) SetMessage(id int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.get(id); e != nil && e.status != StatusSuccess && e.status != StatusError {
		e.status = StatusActive
		e.message = message
		e.updated = time.Now()
	}
}

func (m *Manager) UpdateProgress(id int, s progress.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.get(id); e != nil && e.status == StatusActive {
		e.progress = ProgressLine(s)
		e.updated = time.Now()
	}
}

func (m *Manager) Complete(id int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(id)
	if e == nil {
		return
	}
	if message == "" {
		message = fmt.Sprintf("Completed %s", e.label)
	}
	e.status = StatusSuccess
	e.message = message
	e.progress = ""
	e.updated = time.Now()
	if !m.interactive {
		fmt.Fprintln(m.out, m.entryLine(e))
	}
}

func (m *Manager) ReportError(id int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(id)
	if e == nil {
		return
	}
	e.status = StatusError
	e.err = err
	e.message = fmt.Sprintf("Failed %s", e.label)
	e.progress = ""
	e.updated = time.Now()
	m.errors = append(m.errors, ErrorReport{Label: e.label, Error: err, Time: e.updated})
	if !m.interactive {
		fmt.Fprintln(m.out, m.entryLine(e))
	}
}

// Counts returns how many jobs succeeded and failed so far.
func (m *Manager) Counts() (success, failed int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		switch e.status {
		case StatusSuccess:
			success++
		case StatusError:
			failed++
		}
	}
	return success, failed
}

func statusIndicator(status Status) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case StatusError:
		return errorStyle.Render(StyleSymbols["fail"])
	case StatusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["arrow"])
	}
}

func (m *Manager) entryLine(e *entry) string {
	elapsed := e.updated.Sub(e.started).Round(time.Second)
	if e.status == StatusActive {
		elapsed = time.Since(e.started).Round(time.Second)
	}
	message := e.message
	var styled string
	switch e.status {
	case StatusSuccess:
		styled = successStyle.Render(message)
	case StatusError:
		styled = errorStyle.Render(message)
	case StatusPending:
		styled = pendingStyle.Render("Waiting...")
	default:
		styled = pendingStyle.Render(truncate(message, m.width-16))
	}
	return fmt.Sprintf("  %s %s %s", statusIndicator(e.status), debugStyle.Render(elapsed.String()), styled)
}

// render lays out active jobs first, then pending, then the most recent
// finished ones, within the terminal height.
func (m *Manager) render() []string {
	var active, pending, done []*entry
	for _, e := range m.entries {
		switch e.status {
		case StatusActive:
			active = append(active, e)
		case StatusPending:
			pending = append(pending, e)
		default:
			done = append(done, e)
		}
	}
	available := max(m.height-3, 1)
	var lines []string
	for _, e := range active {
		lines = append(lines, m.entryLine(e))
		if e.progress != "" {
			lines = append(lines, "      "+streamStyle.Render(e.progress))
		}
	}
	for _, e := range pending {
		lines = append(lines, m.entryLine(e))
	}
	room := available - len(lines)
	if len(done) > room && room > 0 {
		hidden := len(done) - room + 1
		lines = append(lines, infoStyle.Render(fmt.Sprintf("  %d downloads finished earlier ...", hidden)))
		done = done[hidden:]
	}
	for _, e := range done {
		lines = append(lines, m.entryLine(e))
	}
	if len(lines) > available {
		lines = lines[:available]
	}
	return lines
}

func (m *Manager) updateDisplay() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	lines := m.render()
	for _, line := range lines {
		fmt.Fprintln(m.out, line)
	}
	m.numLines = len(lines)
}

func (m *Manager) StartDisplay() {
	if !m.interactive {
		return
	}
	m.running = true
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

// StopDisplay draws the final state and prints the summary.
func (m *Manager) StopDisplay() {
	if m.running {
		close(m.doneCh)
		m.displayWg.Wait()
		m.running = false
	}
	m.ShowSummary()
}

func (m *Manager) ShowSummary() {
	success, failures := m.Counts()
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := len(m.entries)
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, "  "+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, total)))
	if failures > 0 {
		fmt.Fprintln(m.out, "  "+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, total)))
	}
	if len(m.errors) > 0 {
		fmt.Fprintln(m.out)
		fmt.Fprintln(m.out, "  "+errorStyle.Bold(true).Render("Errors:"))
		for i, report := range m.errors {
			fmt.Fprintf(m.out, "    %s %s %s\n",
				errorStyle.Render(fmt.Sprintf("%d.", i+1)),
				debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
				errorStyle.Render(report.Label))
			fmt.Fprintf(m.out, "      %s\n", errorStyle.Render(errorText(report.Error)))
		}
	}
	fmt.Fprintln(m.out)
}

func errorText(err error) string {
	var de *utils.DownloadError
	if errors.As(err, &de) {
		return de.UserMessage()
	}
	return fmt.Sprintf("Error: %v", err)
}
