package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rcliao/muni-map/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "history <code>",
		Short: "Show the mutation events of a BFS code and where it leads",
		Long: "List the mutation events a code takes part in. With --from and --to or --between, " +
			"also resolve the code valid on --from against each target date.",
		Args: cobra.ExactArgs(1),
		Run:  runHistory,
	}

	cmd.Flags().String("from", "", "Date on which the code is valid")
	addTargetFlags(cmd)

	RootCmd.AddCommand(cmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	code, err := strconv.Atoi(args[0])
	if err != nil {
		exitErr("history", fmt.Errorf("invalid code %q", args[0]))
	}
	from := dateFlag(cmd, "from")

	sess, err := openSession()
	if err != nil {
		exitErr("open", err)
	}
	defer sess.close()
	ctx := cmd.Context()

	if _, err := sess.repo.Events(ctx); err != nil {
		exitErr("events", err)
	}
	events, err := sess.store.EventsForCode(ctx, code)
	if err != nil {
		exitErr("events", err)
	}
	out := map[string]any{"code": code, "events": events}

	if !from.IsZero() {
		results, err := sess.mapper.Trace(ctx, code, from, targetFlags(cmd))
		if results == nil {
			exitErr("history", err)
		}
		if err != nil {
			logger.Warn("history incomplete", "error", err)
		}
		out["mappings"] = results
	}
	if events == nil {
		out["events"] = []model.MutationEvent{}
	}
	printJSON(out)
}
