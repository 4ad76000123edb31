package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeagent/pipeline"
)

func newRunCmd(rc *RootConfig) *cobra.Command {
	var paper bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the decision pipeline once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := rc.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			svc, cleanup, err := rc.newService(ctx, store, paper, pipelineOptions(rc.cfg))
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := svc.Run(ctx)
			if err != nil {
				return err
			}
			printRun(cmd.OutOrStdout(), res)
			if res.Status == pipeline.StatusFailed {
				return fmt.Errorf("pipeline run %s failed", res.ID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&paper, "paper", false, "Fill orders with the simulated broker at the latest close")
	return cmd
}

func printRun(w io.Writer, r pipeline.RunResult) {
	fmt.Fprintf(w, "Run ID:      %s\n", r.ID)
	fmt.Fprintf(w, "Status:      %s\n", r.Status)
	fmt.Fprintf(w, "Elapsed:     %s\n", r.CompletedAt.Sub(r.StartedAt))
	fmt.Fprintf(w, "Analyzed:    %d\n", r.InstrumentsAnalyzed)
	fmt.Fprintf(w, "Candidates:  %d\n", r.CandidatesScreened)
	fmt.Fprintf(w, "Approved:    %d\n", r.TradesApproved)
	fmt.Fprintf(w, "Executed:    %d\n", r.TradesExecuted)
	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "Errors:\n  - %s\n", strings.Join(r.Errors, "\n  - "))
	}
}
