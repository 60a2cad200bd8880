package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	runFrom string
	runYes  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: collect, filter, analyze, report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		from, ok := model.ParseStage(runFrom)
		if !ok {
			return eris.Errorf("unknown stage %q (expected collect, filter, analyze, or report)", runFrom)
		}

		e, err := initEnv(ctx, confirmFunc(runYes))
		if err != nil {
			return err
		}
		defer e.Close()

		run, err := e.orchestrator.Run(ctx, from)
		if err != nil {
			return err
		}

		zap.L().Info("run finished",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
			zap.Int("collected", run.ItemsCollected),
			zap.Int("analyzed", run.ItemsAnalyzed),
			zap.Int("reported", run.ItemsReported),
		)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runFrom, "from", "collect", "stage to start from (collect, filter, analyze, report)")
	runCmd.Flags().BoolVar(&runYes, "yes", false, "auto-confirm the analysis cost gate")
	rootCmd.AddCommand(runCmd)
}
