package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store contents and the latest pipeline run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Items\t%d\n", stats.TotalItems)
		fmt.Fprintf(w, "  Posts\t%d\n", stats.Posts)
		fmt.Fprintf(w, "  Comments\t%d\n", stats.Comments)
		fmt.Fprintf(w, "Analyzed\t%d\n", stats.Analyzed)
		fmt.Fprintf(w, "  Suitable\t%d\n", stats.Suitable)
		fmt.Fprintf(w, "Reported posts\t%d\n", stats.ReportedPosts)
		fmt.Fprintf(w, "Reported comments\t%d\n", stats.ReportedComments)
		w.Flush() //nolint:errcheck

		run, err := st.LatestRun(ctx)
		if err != nil {
			return err
		}
		if run == nil {
			fmt.Fprintln(os.Stdout, "\nNo pipeline runs yet.")
			return nil
		}

		fmt.Fprintf(os.Stdout, "\nLatest run %s\n", run.ID)
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "  Status\t%s\n", run.Status)
		fmt.Fprintf(w, "  Started\t%s\n", run.StartedAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Fprintf(w, "  From stage\t%s\n", run.StartStage)
		if run.LastCompleted != "" {
			fmt.Fprintf(w, "  Last completed\t%s\n", run.LastCompleted)
		}
		if run.FailedStage != "" {
			fmt.Fprintf(w, "  Failed stage\t%s\n", run.FailedStage)
			fmt.Fprintf(w, "  Error\t%s\n", run.Error)
		}
		fmt.Fprintf(w, "  Collected\t%d\n", run.ItemsCollected)
		fmt.Fprintf(w, "  Analyzed\t%d\n", run.ItemsAnalyzed)
		fmt.Fprintf(w, "  Reported\t%d\n", run.ItemsReported)
		w.Flush() //nolint:errcheck
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
