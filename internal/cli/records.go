package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/muni-map/internal/mapper"
	"github.com/rcliao/muni-map/internal/table"
)

func init() {
	cmd := &cobra.Command{
		Use:   "map-records [file]",
		Short: "Map the rows of a CSV or JSON table to target dates",
		Long: "Read a table (file or - for stdin) and map each row by its code, falling back to its name. " +
			"Rows are dated by --date-col, else --origin, else the inferred stand of their codes.",
		Args: cobra.ExactArgs(1),
		Run:  runMapRecords,
	}

	cmd.Flags().String("code-col", "", "Column holding BFS codes")
	cmd.Flags().String("name-col", "", "Column holding municipality names")
	cmd.Flags().String("date-col", "", "Column holding each row's source date")
	cmd.Flags().String("origin", "", "Source date for rows without their own")
	addTargetFlags(cmd)

	RootCmd.AddCommand(cmd)
}

func runMapRecords(cmd *cobra.Command, args []string) {
	codeCol, _ := cmd.Flags().GetString("code-col")
	nameCol, _ := cmd.Flags().GetString("name-col")
	dateCol, _ := cmd.Flags().GetString("date-col")
	origin := dateFlag(cmd, "origin")
	targets := targetFlags(cmd)

	in, err := table.ReadFile(args[0])
	if err != nil {
		exitErr("read input", err)
	}

	sess, err := openSession()
	if err != nil {
		exitErr("open", err)
	}
	defer sess.close()

	out, err := sess.mapper.MapTable(cmd.Context(), in, mapper.TableParams{
		CodeColumn:    codeCol,
		NameColumn:    nameCol,
		DateColumn:    dateCol,
		RecordOptions: mapper.RecordOptions{Origin: origin, Targets: targets},
	})
	if out == nil {
		exitErr("map records", err)
	}
	writeTable(out)
	if err != nil {
		exitErr("map records", err)
	}
}
