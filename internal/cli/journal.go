package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeagent/journal"
	"github.com/rustyeddy/tradeagent/market"
	"github.com/rustyeddy/tradeagent/memory"
	"github.com/rustyeddy/tradeagent/portfolio"
)

func newSnapshotCmd(rc *RootConfig) *cobra.Command {
	var dayStr string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Record the end-of-day portfolio valuation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day := market.Day(time.Now().UTC())
			if dayStr != "" {
				d, err := market.ParseDate(dayStr)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				day = d
			}

			store, err := rc.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := portfolio.NewSnapshotter(decimal.NewFromFloat(rc.cfg.Portfolio.InitialCapital)).
				WithLogger(rc.logger).
				Take(cmd.Context(), store, day)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Date:        %s\n", snap.Date.Format(market.DateLayout))
			fmt.Fprintf(w, "Total:       %s\n", snap.TotalValue.StringFixed(2))
			fmt.Fprintf(w, "Cash:        %s\n", snap.Cash.StringFixed(2))
			fmt.Fprintf(w, "Invested:    %s\n", snap.Invested.StringFixed(2))
			fmt.Fprintf(w, "Daily P&L:   %s\n", snap.DailyPnL.StringFixed(2))
			fmt.Fprintf(w, "Cumulative:  %.4f%%\n", snap.CumulativePnLPct)
			return nil
		},
	}

	cmd.Flags().StringVar(&dayStr, "date", "", "Snapshot date (YYYY-MM-DD, default today)")
	return cmd
}

func newAssessCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "assess",
		Short: "Mark outcomes on decisions older than the outcome lookback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rc.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			r := memory.NewRetriever(memoryConfig(rc.cfg.Memory), false).WithLogger(rc.logger)
			n, err := r.AssessOutcomes(cmd.Context(), store, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "assessed %d decisions\n", n)
			return nil
		},
	}
}

func newDecisionsCmd(rc *RootConfig) *cobra.Command {
	var (
		f        journal.DecisionFilter
		sinceStr string
	)

	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "List decision reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sinceStr != "" {
				d, err := market.ParseDate(sinceStr)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				f.Since = d
			}
			store, err := rc.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.ListDecisions(cmd.Context(), f)
			if err != nil {
				return err
			}
			printDecisions(cmd.OutOrStdout(), rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.Ticker, "ticker", "", "Only this ticker")
	cmd.Flags().StringVar(&f.Action, "action", "", "Only BUY, SELL or HOLD")
	cmd.Flags().Float64Var(&f.MinConfidence, "min-confidence", 0, "Minimum confidence")
	cmd.Flags().StringVar(&sinceStr, "since", "", "Created on or after (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&f.IncludeBacktest, "backtest", false, "Include backtest decisions")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "Maximum rows")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "Rows to skip")
	return cmd
}

func printDecisions(w io.Writer, rows []journal.DecisionReport) {
	t := newTable("ID", "DATE", "TICKER", "ACTION", "CONF", "OUTCOME", "REASONING")
	for _, d := range rows {
		outcome := "pending"
		if d.OutcomePnL.Valid {
			outcome = d.OutcomePnL.Decimal.StringFixed(2)
		}
		t.Row(fmt.Sprint(d.ID), d.CreatedAt.Format(market.DateLayout), d.Ticker, d.Action,
			fmt.Sprintf("%.2f", d.Confidence), outcome, oneLine(d.Reasoning, 60))
	}
	fmt.Fprintln(w, t.Render())
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))).
		Headers(headers...)
}

func newTradesCmd(rc *RootConfig) *cobra.Command {
	var f journal.TradeFilter

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List executed and failed trades, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rc.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.ListTrades(cmd.Context(), f)
			if err != nil {
				return err
			}
			t := newTable("ID", "DATE", "TICKER", "SIDE", "QTY", "PRICE", "VALUE", "STATUS")
			for _, r := range rows {
				t.Row(fmt.Sprint(r.ID), r.ExecutedAt.Format(market.DateLayout), r.Ticker, r.Side,
					r.Quantity.String(), r.Price.StringFixed(2), r.TotalValue.StringFixed(2), r.Status)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}

	cmd.Flags().StringVar(&f.Ticker, "ticker", "", "Only this ticker")
	cmd.Flags().StringVar(&f.Status, "status", "", "Only FILLED or FAILED")
	cmd.Flags().BoolVar(&f.IncludeBacktest, "backtest", false, "Include backtest trades")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "Maximum rows")
	return cmd
}

func newInstrumentsCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instruments",
		Short: "Manage the instrument universe",
	}

	var in journal.Instrument
	add := &cobra.Command{
		Use:   "add <ticker>...",
		Short: "Add or reactivate instruments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rc.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			for _, t := range args {
				row := in
				row.Ticker = t
				got, err := store.AddInstrument(cmd.Context(), row)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s (id %d)\n", got.Ticker, got.ID)
			}
			return nil
		},
	}
	add.Flags().StringVar(&in.Name, "name", "", "Display name")
	add.Flags().StringVar(&in.Exchange, "exchange", "", "Listing exchange")
	add.Flags().StringVar(&in.Currency, "currency", "", "Trading currency (default USD)")
	add.Flags().StringVar(&in.Sector, "sector", "", "Sector")

	list := &cobra.Command{
		Use:   "list",
		Short: "List instruments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rc.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.ListInstruments(cmd.Context())
			if err != nil {
				return err
			}
			t := newTable("ID", "TICKER", "NAME", "SECTOR", "CURRENCY", "ACTIVE")
			for _, r := range rows {
				t.Row(fmt.Sprint(r.ID), r.Ticker, r.Name, r.Sector, r.Currency, fmt.Sprint(r.IsActive))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "deactivate <ticker>",
		Short: "Stop analyzing an instrument",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rc.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.SetInstrumentActive(cmd.Context(), args[0], false)
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
