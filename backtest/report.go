package backtest

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/rustyeddy/tradeagent/market"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7C3AED")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#3B82F6"))

	boxStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#6B7280")).
		Padding(0, 1)

	goodStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	badStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
)

// Print renders a backtest summary.
func Print(w io.Writer, s Snapshot) {
	var b strings.Builder

	fmt.Fprintln(&b, titleStyle.Render("Backtest Result"))
	fmt.Fprintf(&b, "Run ID:        %s\n", s.ID)
	if s.Config.Name != "" {
		fmt.Fprintf(&b, "Name:          %s\n", s.Config.Name)
	}
	fmt.Fprintf(&b, "Status:        %s\n", statusText(s.Status))
	fmt.Fprintf(&b, "Period:        %s to %s\n", s.Config.Start.Format(market.DateLayout), s.Config.End.Format(market.DateLayout))
	fmt.Fprintf(&b, "Days:          %d/%d\n", s.CurrentDay, s.TotalDays)
	if s.CompletedAt != nil {
		fmt.Fprintf(&b, "Elapsed:       %s\n", s.CompletedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}

	fmt.Fprintln(&b)
	fmt.Fprintln(&b, sectionStyle.Render("Account Performance"))
	fmt.Fprintf(&b, "Start Capital: %s\n", s.Config.InitialCapital.StringFixed(2))
	if v, ok := s.FinalValue(); ok {
		fmt.Fprintf(&b, "Final Value:   %.2f\n", v)
	}
	if m := s.Metrics; m != nil {
		fmt.Fprintf(&b, "Return:        %s\n", signed(m.TotalReturnPct, "%"))
		fmt.Fprintf(&b, "Annualized:    %s\n", signed(m.AnnualizedReturnPct, "%"))
		fmt.Fprintf(&b, "Max Drawdown:  %.2f%%\n", m.MaxDrawdownPct)
		fmt.Fprintf(&b, "Sharpe:        %.2f\n", m.SharpeRatio)

		fmt.Fprintln(&b)
		fmt.Fprintln(&b, sectionStyle.Render("Trade Statistics"))
		fmt.Fprintf(&b, "Trades:        %d\n", m.TotalTrades)
		fmt.Fprintf(&b, "Win Rate:      %.2f%%\n", m.WinRate)
	}

	if len(s.Errors) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, sectionStyle.Render("Errors"))
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	fmt.Fprintln(w, boxStyle.Render(strings.TrimRight(b.String(), "\n")))
}

func statusText(s Status) string {
	switch s {
	case StatusCompleted:
		return goodStyle.Render(string(s))
	case StatusFailed:
		return badStyle.Render(string(s))
	}
	return string(s)
}

func signed(v float64, unit string) string {
	text := fmt.Sprintf("%+.2f%s", v, unit)
	if v < 0 {
		return badStyle.Render(text)
	}
	return goodStyle.Render(text)
}
