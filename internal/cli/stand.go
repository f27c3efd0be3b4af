package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/muni-map/internal/table"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stand [code...]",
		Short: "Infer the snapshot date a set of BFS codes belongs to",
		Long:  "Infer the Gemeindestand of the given codes, or of a code column read with --file and --column.",
		Run:   runStand,
	}

	cmd.Flags().String("file", "", "Table to read codes from (- for stdin)")
	cmd.Flags().String("column", "", "Code column of --file")

	RootCmd.AddCommand(cmd)
}

func runStand(cmd *cobra.Command, args []string) {
	file, _ := cmd.Flags().GetString("file")
	column, _ := cmd.Flags().GetString("column")

	raw := args
	if file != "" {
		if column == "" {
			exitErr("stand", fmt.Errorf("--column is required with --file"))
		}
		t, err := table.ReadFile(file)
		if err != nil {
			exitErr("read input", err)
		}
		idx, err := t.Require(column)
		if err != nil {
			exitErr("read input", err)
		}
		for i := range t.Rows {
			raw = append(raw, t.Value(i, idx[0]))
		}
	}

	var codes []int
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		c, err := strconv.Atoi(s)
		if err != nil {
			exitErr("stand", fmt.Errorf("invalid code %q", s))
		}
		codes = append(codes, c)
	}

	sess, err := openSession()
	if err != nil {
		exitErr("open", err)
	}
	defer sess.close()

	stand, err := sess.mapper.FindStand(cmd.Context(), codes)
	if err != nil {
		exitErr("stand", err)
	}
	printJSON(stand)
}
