package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeagent/pipeline"
)

func newScheduleCmd(rc *RootConfig) *cobra.Command {
	var (
		paper       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline every day at the configured time and serve /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := rc.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			reg := prometheus.NewRegistry()
			opts := pipelineOptions(rc.cfg)
			opts.Metrics = pipeline.NewMetrics(reg)
			svc, cleanup, err := rc.newService(ctx, store, paper, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			if metricsAddr == "" {
				metricsAddr = rc.cfg.Env.MetricsAddr
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					rc.logger.Error().Err(err).Msg("metrics_server_failed")
				}
			}()
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(sctx)
			}()
			rc.logger.Info().Str("addr", metricsAddr).Msg("metrics_server_started")

			p := rc.cfg.Pipeline
			err = pipeline.NewScheduler(svc, p.ScheduleHour, p.ScheduleMinute).WithLogger(rc.logger).Start(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&paper, "paper", false, "Fill orders with the simulated broker at the latest close")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for /metrics (default METRICS_ADDR)")
	return cmd
}
