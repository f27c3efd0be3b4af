package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/muni-map/internal/model"
	"github.com/rcliao/muni-map/internal/repository"
)

func init() {
	cmd := &cobra.Command{
		Use:   "fetch [date...]",
		Short: "Warm the cache with snapshots and mutation events",
		Long:  "Fetch the given snapshot dates (or the whole catalogue with --all) plus the mutation events into the local cache.",
		Run:   runFetch,
	}

	cmd.Flags().Bool("all", false, "Fetch every date in the registry catalogue")
	cmd.Flags().Bool("exact", false, "Fail dates that are not snapshot dates instead of falling back")

	RootCmd.AddCommand(cmd)
}

type fetchItem struct {
	Requested string `json:"requested"`
	Date      string `json:"date,omitempty"`
	Records   int    `json:"records"`
	Error     string `json:"error,omitempty"`
}

func runFetch(cmd *cobra.Command, args []string) {
	all, _ := cmd.Flags().GetBool("all")
	exact, _ := cmd.Flags().GetBool("exact")

	sess, err := openSession()
	if err != nil {
		exitErr("open", err)
	}
	defer sess.close()
	ctx := cmd.Context()

	var dates []time.Time
	if all {
		if dates, err = sess.repo.Dates(ctx); err != nil {
			exitErr("catalogue", err)
		}
	}
	for _, a := range args {
		d, err := model.ParseDate(a)
		if err != nil {
			exitErr("date", err)
		}
		dates = append(dates, d)
	}

	events, err := sess.repo.Events(ctx)
	if err != nil {
		exitErr("events", err)
	}

	items := make([]fetchItem, 0, len(dates))
	failed := 0
	for _, r := range sess.repo.FetchMany(ctx, dates, repository.FetchOptions{Exact: exact}) {
		item := fetchItem{Requested: model.FormatDate(r.Date)}
		if r.Err != nil {
			item.Error = r.Err.Error()
			failed++
		} else {
			item.Date = model.FormatDate(r.Snapshot.Date)
			item.Records = len(r.Snapshot.Records)
		}
		items = append(items, item)
	}
	logger.Info("fetch complete", "snapshots", len(items)-failed, "failed", failed, "events", len(events))

	printJSON(map[string]any{
		"events":    len(events),
		"snapshots": items,
	})
}
