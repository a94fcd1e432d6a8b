package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"sysrate-agent/internal/collector"
	"sysrate-agent/internal/model"
	"sysrate-agent/internal/rate"
)

// Program hosts the model in a full-screen bubbletea program. Deliver never
// blocks; the model picks the latest snapshot off the mailbox.
type Program struct {
	box         *collector.Mailbox[model.Snapshot]
	unit        rate.Unit
	host        *model.HostInfo
	historySize int
	options     []tea.ProgramOption
}

func NewProgram(unit rate.Unit, host *model.HostInfo, historySize int, opts ...tea.ProgramOption) *Program {
	return &Program{
		box:         collector.NewMailbox[model.Snapshot](),
		unit:        unit,
		host:        host,
		historySize: historySize,
		options:     opts,
	}
}

func (p *Program) Deliver(snap model.Snapshot) {
	p.box.Put(snap)
}

// Run returns nil when the user quits or ctx is cancelled.
func (p *Program) Run(ctx context.Context) error {
	m := NewModel(p.box.C(), p.unit, p.host, p.historySize)
	opts := append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, p.options...)
	if _, err := tea.NewProgram(m, opts...).Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("terminal ui: %w", err)
	}
	return nil
}
