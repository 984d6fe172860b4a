// Package app contains the root application model.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"

	"github.com/zjrosen/reshuffle/internal/config"
	"github.com/zjrosen/reshuffle/internal/dispatch"
	"github.com/zjrosen/reshuffle/internal/keys"
	"github.com/zjrosen/reshuffle/internal/log"
	"github.com/zjrosen/reshuffle/internal/pubsub"
	"github.com/zjrosen/reshuffle/internal/sections"
	"github.com/zjrosen/reshuffle/internal/ui/sectionlist"
	"github.com/zjrosen/reshuffle/internal/ui/styles"
	"github.com/zjrosen/reshuffle/internal/ui/toaster"
	"github.com/zjrosen/reshuffle/internal/watcher"
)

const (
	toastDuration = 3 * time.Second
	// pipelineBuffer must hold every event produced while the update loop is
	// busy; the broker drops rather than blocks.
	pipelineBuffer = 64
)

// ConfigLoader re-reads the configuration file.
type ConfigLoader func() (config.Config, error)

// Options configures a Model.
type Options struct {
	Config     config.Config
	ConfigPath string
	Dispatcher *dispatch.Dispatcher

	// Reload is called when the watched config file changes. Nil disables
	// watching.
	Reload ConfigLoader

	// Debug shows the latest log line in the status bar.
	Debug bool
}

// dispatchDoneMsg reports how a dispatch call returned. Its outputs arrive
// separately through the pipeline broker.
type dispatchDoneMsg struct {
	trigger dispatch.Trigger
	gen     dispatch.Generation
	err     error
}

// Model is the root application state.
type Model struct {
	cfg        config.Config
	configPath string
	reload     ConfigLoader
	keys       keys.KeyMap

	dispatcher *dispatch.Dispatcher
	source     *dispatch.Source

	list    sectionlist.Model
	toaster toaster.Model

	width  int
	height int

	// pending counts dispatches whose completion has not been seen.
	pending  int
	last     dispatch.Generation
	initTick tea.Cmd

	ctx              context.Context
	cancel           context.CancelFunc
	unsubscribe      []pubsub.Unsubscribe
	pipeline         *pubsub.Broker[pipelineEvent]
	pipelineListener *pubsub.ContinuousListener[pipelineEvent]

	watcherHandle   *watcher.Watcher
	watcherListener *pubsub.ContinuousListener[watcher.WatcherEvent]

	debug       bool
	logListener *log.LogListener
	lastLog     string
}

// New creates the root model. The dispatcher subscriptions are registered
// immediately and released by Close.
func New(opts Options) Model {
	ctx, cancel := context.WithCancel(context.Background())

	km := keys.DefaultKeyMap()
	pipeline := pubsub.NewBrokerWithBuffer[pipelineEvent](pipelineBuffer)
	listener := pubsub.NewContinuousListener(ctx, pipeline)

	m := Model{
		cfg:              opts.Config,
		configPath:       opts.ConfigPath,
		reload:           opts.Reload,
		keys:             km,
		dispatcher:       opts.Dispatcher,
		source:           dispatch.NewSource(opts.Dispatcher),
		list:             sectionlist.New(km),
		toaster:          toaster.New(),
		ctx:              ctx,
		cancel:           cancel,
		pipeline:         pipeline,
		pipelineListener: listener,
		debug:            opts.Debug,
	}
	m.unsubscribe = bridge(opts.Dispatcher, pipeline)
	m.list = m.applyUI(m.list, opts.Config.UI)

	if opts.Reload != nil && opts.Config.WatchConfig && opts.ConfigPath != "" {
		m.watcherHandle, m.watcherListener = startWatcher(ctx, opts.ConfigPath)
	}
	if opts.Debug {
		m.logListener = log.NewListener(ctx)
	}

	// The first generation is in flight from the start.
	m.list, m.initTick = m.list.StartRefresh()
	m.pending = 1
	return m
}

func startWatcher(ctx context.Context, path string) (*watcher.Watcher, *pubsub.ContinuousListener[watcher.WatcherEvent]) {
	w, err := watcher.New(watcher.DefaultConfig(path))
	if err != nil {
		log.Warn(log.CatWatcher, "Config watcher unavailable", "path", path, "error", err)
		return nil, nil
	}
	if err := w.Start(); err != nil {
		log.Warn(log.CatWatcher, "Config watcher failed to start", "path", path, "error", err)
		_ = w.Stop()
		return nil, nil
	}
	return w, pubsub.NewContinuousListener(ctx, w.Broker())
}

// Init emits ViewReady and starts the event listeners.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.initTick,
		m.pipelineListener.Listen(),
		m.dispatchCmd(dispatch.ViewReady),
	}
	if m.watcherListener != nil {
		cmds = append(cmds, m.watcherListener.Listen())
	}
	if m.logListener != nil {
		cmds = append(cmds, m.logListener.Listen())
	}
	return tea.Batch(cmds...)
}

func (m Model) dispatchCmd(t dispatch.Trigger) tea.Cmd {
	ctx, source := m.ctx, m.source
	return func() tea.Msg {
		var (
			gen dispatch.Generation
			err error
		)
		switch t {
		case dispatch.ViewReady:
			gen, err = source.ViewReady(ctx)
		default:
			gen, err = source.RefreshRequested(ctx)
		}
		return dispatchDoneMsg{trigger: t, gen: gen, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list = m.list.SetSize(msg.Width, max(msg.Height-1, 1))
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.Close()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			return m.toggleHelp(), nil
		}

	case sectionlist.RefreshMsg:
		return m.requestRefresh()

	case pubsub.Event[pipelineEvent]:
		m = m.handlePipelineEvent(msg)
		return m, m.pipelineListener.Listen()

	case dispatchDoneMsg:
		return m.handleDispatchDone(msg)

	case pubsub.Event[watcher.WatcherEvent]:
		var cmd tea.Cmd
		m, cmd = m.handleConfigChanged()
		return m, tea.Batch(cmd, m.watcherListener.Listen())

	case log.LogEvent:
		m.lastLog = strings.TrimSuffix(msg.Payload, "\n")
		return m, m.logListener.Listen()

	case toaster.DismissMsg:
		m.toaster = m.toaster.Update(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) requestRefresh() (tea.Model, tea.Cmd) {
	if err := m.dispatcher.Halted(); err != nil {
		return m.showToast("pipeline halted", toaster.StyleWarn)
	}
	log.Debug(log.CatUI, "Refresh requested", "pending", m.pending)

	var tick tea.Cmd
	m.list, tick = m.list.StartRefresh()
	m.pending++
	return m, tea.Batch(tick, m.dispatchCmd(dispatch.RefreshRequested))
}

func (m Model) handlePipelineEvent(ev pubsub.Event[pipelineEvent]) Model {
	switch ev.Type {
	case pubsub.SectionsEvent:
		u := ev.Payload.Update
		m.list = m.list.SetSections(u.Sections)
		m.last = u.Generation
		log.Debug(log.CatUI, "Sections received", "seq", u.Seq, "trigger", u.Trigger)

	case pubsub.CompletedEvent:
		m = m.settle()

	case pubsub.FailedEvent:
		c := ev.Payload.Completion
		log.ErrorErr(log.CatUI, "Generation failed", c.Err, "seq", c.Seq)
		m.pending = 0
		m.list = m.list.StopRefresh()
		m.toaster = m.toaster.Show(fmt.Sprintf("generation failed: %v", c.Err), toaster.StyleError)
	}
	return m
}

// settle marks one dispatch as finished and dismisses the refresh indicator
// once nothing is outstanding.
func (m Model) settle() Model {
	m.pending = max(m.pending-1, 0)
	if m.pending == 0 {
		m.list = m.list.StopRefresh()
	}
	return m
}

func (m Model) handleDispatchDone(msg dispatchDoneMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.err == nil, errors.Is(msg.err, sections.ErrGeneration):
		// Already reported through the completion topic.
		return m, nil
	case errors.Is(msg.err, dispatch.ErrHalted):
		m = m.settle()
		return m.showToast("pipeline halted", toaster.StyleWarn)
	default:
		// Cancelled on shutdown; nothing was published.
		log.Debug(log.CatUI, "Dispatch ended without output", "trigger", msg.trigger, "error", msg.err)
		return m.settle(), nil
	}
}

func (m Model) handleConfigChanged() (Model, tea.Cmd) {
	cfg, err := m.reload()
	if err != nil {
		log.Warn(log.CatConfig, "Config reload failed", "error", err)
		mm, cmd := m.showToast("config reload failed", toaster.StyleWarn)
		return mm.(Model), cmd
	}
	if cfg == m.cfg {
		return m, nil
	}
	log.Info(log.CatConfig, "Config reloaded", "path", m.configPath)
	m.cfg = cfg
	m.list = m.applyUI(m.list, cfg.UI)

	mm, cmd := m.requestRefresh()
	return mm.(Model), cmd
}

func (m Model) applyUI(list sectionlist.Model, ui config.UIConfig) sectionlist.Model {
	styles.ApplyHeaderColor(ui.HeaderColor)
	return list.
		SetShowHelp(ui.ShowHelp).
		SetSpinner(ui.Spinner).
		SetMouseRefresh(ui.MouseRefresh)
}

func (m Model) toggleHelp() Model {
	m.cfg.UI.ShowHelp = !m.cfg.UI.ShowHelp
	m.list = m.list.SetShowHelp(m.cfg.UI.ShowHelp)
	if m.configPath != "" {
		if err := config.SaveUI(m.configPath, m.cfg.UI); err != nil {
			log.Warn(log.CatConfig, "Failed to persist help setting", "error", err)
		}
	}
	return m
}

func (m Model) showToast(message string, style toaster.Style) (tea.Model, tea.Cmd) {
	m.toaster = m.toaster.Show(message, style)
	return m, m.toaster.ScheduleDismiss(toastDuration)
}

// View implements tea.Model.
func (m Model) View() string {
	view := m.list.View() + "\n" + m.renderStatusBar()
	view = m.toaster.Overlay(view, m.width, m.height)
	return zone.Scan(view)
}

func (m Model) renderStatusBar() string {
	var left string
	if m.last.Seq > 0 {
		left = fmt.Sprintf(" gen %d · %s", m.last.Seq, m.last.Trigger)
	}
	if err := m.dispatcher.Halted(); err != nil {
		left += styles.ErrorStyle.Render(" · halted")
	}

	if !m.debug || m.lastLog == "" {
		return styles.MutedStyle.Render(left)
	}
	room := m.width - lipgloss.Width(left) - 3
	if room < 8 {
		return styles.MutedStyle.Render(left)
	}
	return styles.MutedStyle.Render(left + " │ " + truncate(m.lastLog, room))
}

// Generation returns the generation currently on screen.
func (m Model) Generation() dispatch.Generation {
	return m.last
}

// Sections returns the list currently on screen.
func (m Model) Sections() sections.SectionList {
	return m.list.Sections()
}

// Refreshing reports whether the refresh indicator is showing.
func (m Model) Refreshing() bool {
	return m.list.Refreshing()
}

// Toast returns the message of the visible toast, if any.
func (m Model) Toast() string {
	return m.toaster.Message()
}

// Close releases the dispatcher subscriptions and stops the listeners and
// the config watcher. Safe to call more than once.
func (m Model) Close() {
	for _, unsub := range m.unsubscribe {
		unsub()
	}
	m.cancel()
	m.pipeline.Close()
	if m.watcherHandle != nil {
		_ = m.watcherHandle.Stop()
	}
}
