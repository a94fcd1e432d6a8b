// Package table renders snapshots as a console table.
package table

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/term"

	"sysrate-agent/internal/collector"
	"sysrate-agent/internal/display"
	"sysrate-agent/internal/model"
	"sysrate-agent/internal/rate"
)

const notAvailable = "n/a"

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0A0A0"))
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

type Renderer struct {
	Unit rate.Unit
	Host *model.HostInfo
}

func (r Renderer) Render(snap model.Snapshot) string {
	var sections []string
	if h := r.hostHeader(); h != "" {
		sections = append(sections, h)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Metric", "Value").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return cellStyle.Bold(true)
			}
			return cellStyle
		}).
		Rows(r.rows(snap)...)
	sections = append(sections, t.String())
	sections = append(sections, labelStyle.Render(fmt.Sprintf("sample #%d at %s", snap.Seq, snap.Timestamp.Format("15:04:05"))))
	return strings.Join(sections, "\n")
}

func (r Renderer) hostHeader() string {
	if r.Host == nil {
		return ""
	}
	h := r.Host
	lines := []string{headerStyle.Render(h.Hostname)}
	if h.OS != "" || h.Platform != "" {
		lines = append(lines, labelStyle.Render("OS: ")+strings.TrimSpace(fmt.Sprintf("%s %s %s", h.OS, h.Platform, h.PlatformVersion)))
	}
	if h.Processor != "" {
		lines = append(lines, labelStyle.Render("Processor: ")+h.Processor)
	}
	return strings.Join(lines, "\n")
}

func (r Renderer) rows(snap model.Snapshot) [][]string {
	info := func(id string, format func(float64) string) string {
		if v, ok := snap.Value(id); ok {
			return format(v)
		}
		return notAvailable
	}
	gauge := func(id string) string {
		if v, ok := snap.Gauge(id); ok {
			return display.FormatPercent(v)
		}
		return notAvailable
	}
	netRate := func(id string) string {
		if v, ok := snap.Rate(id); ok {
			return display.FormatRate(v, r.Unit)
		}
		return notAvailable
	}
	count := func(v float64) string { return fmt.Sprintf("%.0f", v) }
	gb := func(v float64) string { return fmt.Sprintf("%.2f GB", display.GB(v)) }

	return [][]string{
		{"Physical cores", info(model.MetricCPUPhysicalCount, count)},
		{"Logical cores", info(model.MetricCPULogicalCount, count)},
		{"CPU frequency", info(model.MetricCPUFrequencyMHz, func(v float64) string { return fmt.Sprintf("%.2f GHz", display.GHz(v)) })},
		{"CPU usage", gauge(model.MetricCPUPercent)},
		{"RAM total", info(model.MetricMemoryTotalBytes, gb)},
		{"RAM used", info(model.MetricMemoryUsedBytes, gb)},
		{"RAM usage", gauge(model.MetricMemoryPercent)},
		{"Disk usage", gauge(model.MetricDiskPercent)},
		{"Net sent", netRate(model.MetricBytesSent)},
		{"Net received", netRate(model.MetricBytesRecv)},
		{"Session sent", info(model.MetricNetSentSessionBytes, display.FormatBytes)},
		{"Session received", info(model.MetricNetRecvSessionBytes, display.FormatBytes)},
	}
}

// Console redraws the table for every snapshot handed to it. Deliver never
// blocks; Run draws on its own goroutine.
type Console struct {
	out      io.Writer
	renderer Renderer
	box      *collector.Mailbox[model.Snapshot]
	clear    bool
}

func NewConsole(out io.Writer, unit rate.Unit, host *model.HostInfo) *Console {
	c := &Console{
		out:      out,
		renderer: Renderer{Unit: unit, Host: host},
		box:      collector.NewMailbox[model.Snapshot](),
	}
	if f, ok := out.(interface{ Fd() uintptr }); ok {
		c.clear = term.IsTerminal(f.Fd())
	}
	return c
}

func (c *Console) Deliver(snap model.Snapshot) {
	c.box.Put(snap)
}

// Run returns nil when ctx is cancelled and an error if the output fails.
func (c *Console) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-c.box.C():
			frame := c.renderer.Render(snap) + "\n"
			if c.clear {
				frame = "\033[H\033[2J" + frame
			}
			if _, err := io.WriteString(c.out, frame); err != nil {
				return fmt.Errorf("write console table: %w", err)
			}
		}
	}
}
