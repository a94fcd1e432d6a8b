// Package tui is the interactive terminal view: usage bars, live network
// rates with a trailing sparkline and the host header.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"sysrate-agent/internal/display"
	"sysrate-agent/internal/model"
	"sysrate-agent/internal/rate"
)

const (
	defaultBarWidth = 40
	minBarWidth     = 10
	labelWidth      = 14
)

var (
	colorPrimary = lipgloss.Color("#7D56F4")
	colorMuted   = lipgloss.Color("#7A7A7A")
	colorWarning = lipgloss.Color("#F2C94C")
	colorDanger  = lipgloss.Color("#EB5757")
	colorSuccess = lipgloss.Color("#27AE60")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	labelStyle = lipgloss.NewStyle().Width(labelWidth).Foreground(colorMuted)
	footStyle  = lipgloss.NewStyle().Foreground(colorMuted)
)

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

type snapshotMsg model.Snapshot

type feedClosedMsg struct{}

// waitForSnapshot blocks on the feed outside the update loop.
func waitForSnapshot(feed <-chan model.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-feed
		if !ok {
			return feedClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

// Model is the bubbletea model. Histories are shared between copies; only
// the program goroutine touches them.
type Model struct {
	feed <-chan model.Snapshot
	unit rate.Unit
	host *model.HostInfo

	latest  model.Snapshot
	hasData bool
	sent    *display.History
	recv    *display.History

	barWidth int
	width    int
}

func NewModel(feed <-chan model.Snapshot, unit rate.Unit, host *model.HostInfo, historySize int) Model {
	return Model{
		feed:     feed,
		unit:     unit,
		host:     host,
		sent:     display.NewHistory(historySize),
		recv:     display.NewHistory(historySize),
		barWidth: defaultBarWidth,
	}
}

func (m Model) Init() tea.Cmd {
	return waitForSnapshot(m.feed)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.barWidth = msg.Width - labelWidth - 10
		if m.barWidth > defaultBarWidth {
			m.barWidth = defaultBarWidth
		}
		if m.barWidth < minBarWidth {
			m.barWidth = minBarWidth
		}

	case snapshotMsg:
		snap := model.Snapshot(msg)
		m.latest = snap
		m.hasData = true
		if v, ok := snap.NetSentRate(); ok {
			m.sent.Push(v)
		}
		if v, ok := snap.NetRecvRate(); ok {
			m.recv.Push(v)
		}
		return m, waitForSnapshot(m.feed)

	case feedClosedMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	var sections []string
	sections = append(sections, m.renderHeader())
	if !m.hasData {
		sections = append(sections, "", "Waiting for first sample...")
	} else {
		sections = append(sections, "", m.renderGauges(), "", m.renderRates(), "", m.renderInfo())
	}
	sections = append(sections, "", footStyle.Render(keys.Quit.Help().Key+": "+keys.Quit.Help().Desc))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	if m.host == nil {
		return titleStyle.Render("sysrate")
	}
	h := m.host
	line := titleStyle.Render(h.Hostname)
	detail := strings.TrimSpace(fmt.Sprintf("%s %s %s", h.OS, h.Platform, h.PlatformVersion))
	if h.Processor != "" {
		detail += " | " + h.Processor
	}
	if detail == "" {
		return line
	}
	return line + "\n" + footStyle.Render(detail)
}

func (m Model) renderGauges() string {
	rows := []struct {
		label string
		id    string
	}{
		{"CPU", model.MetricCPUPercent},
		{"Memory", model.MetricMemoryPercent},
		{"Disk", model.MetricDiskPercent},
	}
	var lines []string
	for _, r := range rows {
		v, ok := m.latest.Gauge(r.id)
		if !ok {
			lines = append(lines, labelStyle.Render(r.label)+"n/a")
			continue
		}
		bar := m.newBar(v)
		lines = append(lines, labelStyle.Render(r.label)+bar.ViewAs(v/100)+" "+display.FormatPercent(v))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderRates() string {
	line := func(label string, v float64, ok bool, hist *display.History) string {
		value := "measuring..."
		if ok {
			value = display.FormatRate(v, m.unit)
		}
		return labelStyle.Render(label) + fmt.Sprintf("%-16s", value) + " " + display.Sparkline(hist.Values())
	}
	sent, sentOK := m.latest.NetSentRate()
	recv, recvOK := m.latest.NetRecvRate()
	return line("Upload", sent, sentOK, m.sent) + "\n" + line("Download", recv, recvOK, m.recv)
}

func (m Model) renderInfo() string {
	var parts []string
	if v, ok := m.latest.Value(model.MetricCPULogicalCount); ok {
		cores := fmt.Sprintf("%.0f logical", v)
		if p, ok := m.latest.Value(model.MetricCPUPhysicalCount); ok {
			cores = fmt.Sprintf("%.0f physical / %s", p, cores)
		}
		parts = append(parts, cores)
	}
	if v, ok := m.latest.Value(model.MetricCPUFrequencyMHz); ok {
		parts = append(parts, fmt.Sprintf("%.2f GHz", display.GHz(v)))
	}
	if used, ok := m.latest.Value(model.MetricMemoryUsedBytes); ok {
		if total, ok := m.latest.Value(model.MetricMemoryTotalBytes); ok {
			parts = append(parts, fmt.Sprintf("RAM %.2f / %.2f GB", display.GB(used), display.GB(total)))
		}
	}
	if v, ok := m.latest.Value(model.MetricNetSentSessionBytes); ok {
		parts = append(parts, "sent "+display.FormatBytes(v))
	}
	if v, ok := m.latest.Value(model.MetricNetRecvSessionBytes); ok {
		parts = append(parts, "received "+display.FormatBytes(v))
	}
	return footStyle.Render(strings.Join(parts, "  ·  "))
}

func (m Model) newBar(percent float64) progress.Model {
	color := colorSuccess
	switch {
	case percent >= 90:
		color = colorDanger
	case percent >= 70:
		color = colorWarning
	}
	return progress.New(
		progress.WithWidth(m.barWidth),
		progress.WithoutPercentage(),
		progress.WithSolidFill(string(color)),
	)
}
