package cli

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeagent/backtest"
	"github.com/rustyeddy/tradeagent/market"
	"github.com/rustyeddy/tradeagent/replay"
)

func newBacktestCmd(rc *RootConfig) *cobra.Command {
	var (
		name     string
		startStr string
		endStr   string
		capital  float64
		llm      string
		withNews bool
		csvPath  string
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay history day by day through the pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			start, err := market.ParseDate(startStr)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			end, err := market.ParseDate(endStr)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}
			if capital <= 0 {
				capital = rc.cfg.Backtest.InitialCapital
			}

			store, err := rc.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			an, err := rc.analyzer(ctx, llm)
			if err != nil {
				return err
			}
			opts := []backtest.Option{
				backtest.WithAnalyzer(an),
				backtest.WithPipelineOptions(pipelineOptions(rc.cfg)),
				backtest.WithLookbackBuffer(rc.cfg.Backtest.BufferDays),
				backtest.WithProgressGauge(backtest.NewProgressGauge(prometheus.DefaultRegisterer)),
				backtest.WithLogger(rc.logger),
			}
			if withNews {
				src, cleanup := rc.newsSource()
				defer cleanup()
				opts = append(opts, backtest.WithNews(src))
			}

			md := rc.marketData()
			if csvPath != "" {
				series, err := replay.LoadCSVFile(csvPath)
				if err != nil {
					return fmt.Errorf("load %s: %w", csvPath, err)
				}
				p := replay.NewProvider()
				p.Load(replay.Bars(series))
				md = p
			}

			eng := backtest.New(store, md, opts...)
			snap := eng.Run(ctx, backtest.Config{
				Name:           name,
				Start:          start,
				End:            end,
				InitialCapital: decimal.NewFromFloat(capital),
			}).Snapshot()

			backtest.Print(cmd.OutOrStdout(), snap)
			if snap.Status == backtest.StatusFailed {
				return fmt.Errorf("backtest %s failed", snap.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Label stored with the run")
	cmd.Flags().StringVar(&startStr, "start", "", "First day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endStr, "end", "", "Last day (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&capital, "capital", 0, "Starting capital (default backtest.initial_capital)")
	cmd.Flags().StringVar(&llm, "llm", "scripted", "Reasoning provider: scripted|claude_cli|openai")
	cmd.Flags().BoolVar(&withNews, "news", false, "Query the configured news provider each day")
	cmd.Flags().StringVar(&csvPath, "prices-csv", "", "Replay daily bars from a CSV file instead of Yahoo Finance")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}
