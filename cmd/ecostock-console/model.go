package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"ecoStock/internal/app"
	"ecoStock/internal/chart"
	"ecoStock/internal/domain"
	"ecoStock/internal/market"
	"ecoStock/internal/ports"
)

// Styles.
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	priceStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	activeTab    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	dialogStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("11")).Padding(0, 1)
)

const (
	panelHeight   = 9 // rows above and below the chart
	noteLifetime  = 6 * time.Second
	historyLength = 5
)

// Messages.
type stateMsg app.ViewState
type noteMsg app.Notification
type closedMsg struct{}

type symbolsMsg struct {
	symbols []domain.Symbol
	err     error
}

type actionErrMsg struct{ err error }

type sellHistoryMsg struct {
	records []*domain.SellRecord
	err     error
}

type clearNoteMsg struct{ at time.Time }

type model struct {
	view    *app.MarketView
	screen  *chart.TermScreen
	timeout time.Duration

	symbols  []domain.Symbol
	selected int
	state    app.ViewState

	width, height int

	note     *app.Notification
	confirm  bool
	qty      textinput.Model
	qtyErr   string
	history  []*domain.SellRecord
	showHist bool
	quitting bool
}

func newModel(view *app.MarketView, screen *chart.TermScreen, timeout time.Duration) model {
	qty := textinput.New()
	qty.Placeholder = "quantity"
	qty.CharLimit = 12
	qty.Width = 14
	qty.Validate = func(s string) error {
		if s == "" {
			return nil
		}
		_, err := strconv.ParseInt(s, 10, 64)
		return err
	}
	return model{view: view, screen: screen, timeout: timeout, qty: qty, state: view.State()}
}

func waitForState(v *app.MarketView) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-v.Updates()
		if !ok {
			return closedMsg{}
		}
		return stateMsg(st)
	}
}

func waitForNote(v *app.MarketView) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-v.Notifications()
		if !ok {
			return closedMsg{}
		}
		return noteMsg(n)
	}
}

func (m model) loadSymbols() tea.Cmd {
	v, timeout := m.view, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		symbols, err := v.Symbols(ctx)
		return symbolsMsg{symbols: symbols, err: err}
	}
}

func (m model) loadHistory() tea.Cmd {
	v, timeout := m.view, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		records, err := v.SellHistory(ctx)
		return sellHistoryMsg{records: records, err: err}
	}
}

// action runs a blocking view call off the update loop.
func action(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(context.Background()); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForState(m.view), waitForNote(m.view), m.loadSymbols())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.confirm {
			return m.updateDialog(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "left", "h":
			return m.selectSymbol(m.selected - 1)
		case "right", "l", "tab":
			return m.selectSymbol(m.selected + 1)
		case "r":
			return m, action(m.view.Reconnect)
		case "s":
			if err := m.view.BeginSell(); err != nil {
				return m, func() tea.Msg { return actionErrMsg{err: err} }
			}
			m.confirm = true
			m.qtyErr = ""
			m.qty.SetValue(strconv.FormatInt(m.state.Valuation.Quantity, 10))
			m.qty.CursorEnd()
			return m, m.qty.Focus()
		case "o":
			m.showHist = !m.showHist
			if m.showHist {
				return m, m.loadHistory()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		chartHeight := msg.Height - panelHeight
		if chartHeight < 4 {
			chartHeight = 4
		}
		_ = m.view.Resize(msg.Width, chartHeight)
		return m, nil

	case stateMsg:
		prev := m.state.SymbolID
		m.state = app.ViewState(msg)
		cmds := []tea.Cmd{waitForState(m.view)}
		if m.showHist && m.state.SymbolID != prev {
			cmds = append(cmds, m.loadHistory())
		}
		if m.confirm && m.state.SellPhase != market.SellConfirming {
			m.confirm = false
			m.qty.Blur()
		}
		return m, tea.Batch(cmds...)

	case noteMsg:
		n := app.Notification(msg)
		m.note = &n
		cmds := []tea.Cmd{waitForNote(m.view), clearNoteAfter(n.At)}
		if m.showHist && n.Level != app.NotifyInfo {
			cmds = append(cmds, m.loadHistory())
		}
		return m, tea.Batch(cmds...)

	case clearNoteMsg:
		if m.note != nil && m.note.At.Equal(msg.at) {
			m.note = nil
		}
		return m, nil

	case symbolsMsg:
		if msg.err != nil {
			return m.showError(msg.err)
		}
		m.symbols = msg.symbols
		for i, s := range m.symbols {
			if s.ID == m.state.SymbolID {
				m.selected = i
			}
		}
		return m, nil

	case sellHistoryMsg:
		if msg.err != nil {
			return m.showError(msg.err)
		}
		m.history = msg.records
		return m, nil

	case actionErrMsg:
		return m.showError(msg.err)

	case closedMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m model) updateDialog(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.confirm = false
		m.qty.Blur()
		return m, action(func(context.Context) error { return m.view.CancelSell() })
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "enter":
		qty, err := strconv.ParseInt(strings.TrimSpace(m.qty.Value()), 10, 64)
		if err != nil {
			m.qtyErr = "Enter a whole number."
			return m, nil
		}
		if err := m.view.ConfirmSell(context.Background(), qty); err != nil {
			if errors.Is(err, ports.ErrInvalidQuantity) {
				m.qtyErr = fmt.Sprintf("Choose between 1 and %d.", m.state.Valuation.Quantity)
				return m, nil
			}
			m.confirm = false
			m.qty.Blur()
			return m.showError(err)
		}
		m.confirm = false
		m.qty.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.qty, cmd = m.qty.Update(msg)
	return m, cmd
}

func (m model) selectSymbol(idx int) (tea.Model, tea.Cmd) {
	if len(m.symbols) == 0 {
		return m, nil
	}
	idx = (idx + len(m.symbols)) % len(m.symbols)
	if idx == m.selected && m.symbols[idx].ID == m.state.SymbolID {
		return m, nil
	}
	m.selected = idx
	m.history = nil
	id := m.symbols[idx].ID
	return m, action(func(ctx context.Context) error { return m.view.SelectSymbol(ctx, id) })
}

func (m model) showError(err error) (tea.Model, tea.Cmd) {
	msg := err.Error()
	switch {
	case errors.Is(err, ports.ErrEmptyHolding):
		msg = "Nothing to sell for this symbol."
	case errors.Is(err, ports.ErrSellInProgress):
		msg = "A sale is already in progress."
	case errors.Is(err, ports.ErrDisposed):
		return m, nil
	}
	n := app.Notification{Level: app.NotifyError, Message: msg, At: time.Now()}
	m.note = &n
	return m, clearNoteAfter(n.At)
}

func clearNoteAfter(at time.Time) tea.Cmd {
	return tea.Tick(noteLifetime, func(time.Time) tea.Msg { return clearNoteMsg{at: at} })
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.tabs())
	b.WriteString("\n")
	b.WriteString(headerLine(m.symbolLabel(), m.state))
	b.WriteString("\n\n")
	b.WriteString(m.chartArea())
	b.WriteString("\n")
	b.WriteString(valuationLine(m.state))
	b.WriteString("\n")
	if m.note != nil {
		b.WriteString(noteLine(*m.note))
	}
	b.WriteString("\n")
	if m.confirm {
		b.WriteString(m.dialog())
		b.WriteString("\n")
	}
	if m.showHist {
		b.WriteString(historyLines(m.history))
	}
	b.WriteString(dimStyle.Render("←/→ symbol · s sell · o orders · r reconnect · q quit"))
	return b.String()
}

func (m model) tabs() string {
	if len(m.symbols) == 0 {
		return titleStyle.Render("eco-stock")
	}
	parts := make([]string, 0, len(m.symbols))
	for _, s := range m.symbols {
		label := " " + s.Code + " "
		if s.ID == m.state.SymbolID {
			parts = append(parts, activeTab.Render(label))
		} else {
			parts = append(parts, dimStyle.Render(label))
		}
	}
	return strings.Join(parts, " ")
}

func (m model) symbolLabel() string {
	for _, s := range m.symbols {
		if s.ID == m.state.SymbolID {
			return s.Name
		}
	}
	return fmt.Sprintf("#%d", m.state.SymbolID)
}

func (m model) chartArea() string {
	switch {
	case m.state.LoadingHistory:
		return dimStyle.Render("Loading chart...")
	case m.state.NoData() && m.state.HistoryErr != nil:
		return errorStyle.Render("Chart unavailable. Waiting for live data.")
	case m.state.NoData():
		return dimStyle.Render("No trades yet for this symbol.")
	}
	return m.screen.Render()
}

func (m model) dialog() string {
	v := m.state.Valuation
	body := fmt.Sprintf("Sell %s at %s\nHeld: %d\n%s",
		m.symbolLabel(), v.CurrentPrice.StringFixed(2), v.Quantity, m.qty.View())
	if qty, err := strconv.ParseInt(strings.TrimSpace(m.qty.Value()), 10, 64); err == nil && qty > 0 {
		body += "\n" + dimStyle.Render("Proceeds ≈ "+v.CurrentPrice.Mul(decimal.NewFromInt(qty)).StringFixed(2))
	}
	if m.qtyErr != "" {
		body += "\n" + errorStyle.Render(m.qtyErr)
	}
	body += "\n" + dimStyle.Render("enter confirm · esc cancel")
	return dialogStyle.Render(body)
}

func headerLine(label string, st app.ViewState) string {
	parts := []string{titleStyle.Render(label), statusText(st)}
	if st.Current != nil {
		parts = append(parts, priceStyle.Render(st.Current.Price().StringFixed(2)))
	}
	if st.HasChange {
		parts = append(parts, signed(st.Change, fmt.Sprintf("%s (%s%%)", st.Change.StringFixed(2), st.ChangePercent.StringFixed(2))))
	}
	return strings.Join(parts, "  ")
}

func statusText(st app.ViewState) string {
	switch {
	case st.ConnErr != nil || st.Status == domain.StatusFailed:
		return errorStyle.Render("● offline (r to reconnect)")
	case st.Status == domain.StatusConnecting:
		return warnStyle.Render("● connecting")
	case st.Status == domain.StatusConnected:
		return gainStyle.Render("● live")
	default:
		return dimStyle.Render("● disconnected")
	}
}

func valuationLine(st app.ViewState) string {
	v := st.Valuation
	switch {
	case st.LoadingHolding:
		return dimStyle.Render("Loading holding...")
	case st.HoldingErr != nil:
		return errorStyle.Render("Holding unavailable.")
	case v.Empty:
		return dimStyle.Render(fmt.Sprintf("No holding · available %s points", v.AvailablePoints.StringFixed(2)))
	}
	line := fmt.Sprintf("Held %d · avg cost %s", v.Quantity, v.AverageCost.StringFixed(2))
	if !v.Priced {
		return line + dimStyle.Render(" · waiting for price")
	}
	line += fmt.Sprintf(" · value %s · ", v.CurrentValue.StringFixed(2))
	line += signed(v.ProfitLoss, fmt.Sprintf("P/L %s (%s%%)", v.ProfitLoss.StringFixed(2), v.ProfitPercent.StringFixed(2)))
	line += fmt.Sprintf(" · available %s", v.AvailablePoints.StringFixed(2))
	if st.Selling {
		line += warnStyle.Render(" · selling...")
	}
	return line
}

func noteLine(n app.Notification) string {
	switch n.Level {
	case app.NotifyError:
		return errorStyle.Render(n.Message)
	case app.NotifySuccess:
		return successStyle.Render(n.Message)
	default:
		return dimStyle.Render(n.Message)
	}
}

func historyLines(records []*domain.SellRecord) string {
	if len(records) == 0 {
		return dimStyle.Render("No orders yet.") + "\n"
	}
	var b strings.Builder
	for i, r := range records {
		if i == historyLength {
			break
		}
		line := fmt.Sprintf("%s  %-7s  %d @ %s = %s", r.CreatedAt.Local().Format("01-02 15:04"), r.Status, r.Quantity, r.Price.StringFixed(2), r.Proceeds.StringFixed(2))
		if r.Message != "" {
			line += "  " + r.Message
		}
		b.WriteString(dimStyle.Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

func signed(d decimal.Decimal, text string) string {
	switch {
	case d.IsPositive():
		return gainStyle.Render("+" + text)
	case d.IsNegative():
		return lossStyle.Render(text)
	default:
		return text
	}
}
