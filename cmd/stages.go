package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Single-stage commands. Each stage commits its own output, so running one
// in isolation leaves the store in the same state a full run would.

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Search Reddit and upsert scored content into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := e.collector.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Collected %d posts and %d comments (%d new, %d refreshed).\n",
			res.Posts, res.Comments, res.Stats.Inserted, res.Stats.Updated)
		return nil
	},
}

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Show the pending set the analyze stage would process",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer e.Close()

		pending, err := e.filter.Pending(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%d items pending analysis.\n", len(pending))
		for _, item := range pending {
			fmt.Fprintf(os.Stdout, "  %-12s %-8s %8.2f  r/%s\n",
				item.ID, item.Kind, item.OpportunityScore, item.Subreddit)
		}
		return nil
	},
}

var analyzeYes bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Classify pending items with Claude and commit the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := initEnv(ctx, confirmFunc(analyzeYes))
		if err != nil {
			return err
		}
		defer e.Close()

		pending, err := e.filter.Pending(ctx)
		if err != nil {
			return err
		}
		res, err := e.coordinator.Run(ctx, pending)
		if err != nil {
			return err
		}
		if res.Declined {
			fmt.Fprintln(os.Stdout, "Analysis declined; nothing committed.")
			return nil
		}
		fmt.Fprintf(os.Stdout, "Analyzed %d items in %d batches; %d batches rejected.\n",
			res.Analyzed, res.Batches, len(res.Rejected))
		for _, rej := range res.Rejected {
			zap.L().Warn("batch left pending", zap.Int("batch", rej.BatchIndex), zap.String("reason", rej.Reason))
		}
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render briefings for new suitable opportunities",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer e.Close()

		out, err := e.assembler.Run(ctx)
		if err != nil {
			return err
		}
		if len(out.Files) == 0 {
			fmt.Fprintln(os.Stdout, "No new opportunities to report.")
			return nil
		}
		fmt.Fprintf(os.Stdout, "Reported %d posts and %d comments:\n", out.ReportedPosts, out.ReportedComments)
		for _, f := range out.Files {
			fmt.Fprintf(os.Stdout, "  %s\n", f)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeYes, "yes", false, "auto-confirm the analysis cost gate")
	rootCmd.AddCommand(collectCmd, filterCmd, analyzeCmd, reportCmd)
}
