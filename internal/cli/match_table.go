package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/muni-map/internal/table"
)

func init() {
	cmd := &cobra.Command{
		Use:   "match-table [file]",
		Short: "Match a name column of a CSV or JSON table",
		Args:  cobra.ExactArgs(1),
		Run:   runMatchTable,
	}

	cmd.Flags().String("column", "", "Column holding municipality names (required)")
	cmd.Flags().String("date", "", "Snapshot date (default: today)")
	cmd.MarkFlagRequired("column")

	RootCmd.AddCommand(cmd)
}

func runMatchTable(cmd *cobra.Command, args []string) {
	column, _ := cmd.Flags().GetString("column")
	date := dateFlag(cmd, "date")
	if date.IsZero() {
		date = time.Now().UTC()
	}

	in, err := table.ReadFile(args[0])
	if err != nil {
		exitErr("read input", err)
	}

	sess, err := openSession()
	if err != nil {
		exitErr("open", err)
	}
	defer sess.close()

	out, err := sess.matcher.MatchTable(cmd.Context(), in, column, date)
	if err != nil {
		exitErr("match table", err)
	}
	writeTable(out)
}
