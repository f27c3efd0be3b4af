package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/muni-map/internal/matcher"
	"github.com/rcliao/muni-map/internal/repository"
)

func init() {
	cmd := &cobra.Command{
		Use:   "match [name...]",
		Short: "Resolve municipality names to BFS codes",
		Long:  "Match each name against the snapshot valid on --date. Names below the threshold stay unmatched.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runMatch,
	}

	cmd.Flags().String("date", "", "Snapshot date (default: today)")
	cmd.Flags().Float64("threshold", 0, "Override the configured confidence threshold")

	RootCmd.AddCommand(cmd)
}

func runMatch(cmd *cobra.Command, args []string) {
	date := dateFlag(cmd, "date")
	if date.IsZero() {
		date = time.Now().UTC()
	}
	if t, _ := cmd.Flags().GetFloat64("threshold"); t > 0 {
		cfg.Threshold = t
	}

	sess, err := openSession()
	if err != nil {
		exitErr("open", err)
	}
	defer sess.close()

	snap, err := sess.repo.Fetch(cmd.Context(), date, repository.FetchOptions{})
	if err != nil {
		exitErr("fetch snapshot", err)
	}
	ix := sess.matcher.Index(snap)

	results := make([]matcher.Match, 0, len(args))
	for _, name := range args {
		results = append(results, ix.Match(name))
	}
	printJSON(results)
}
