package cli

import (
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rcliao/muni-map/internal/model"
	"github.com/rcliao/muni-map/internal/table"
)

func init() {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Map every code of a snapshot to one or more target dates",
		Long: "Map every municipality of the snapshot valid on --from to the target dates. " +
			"JSON output holds one result per (code, target date); CSV output one row per target code.",
		Run: runMapping,
	}

	cmd.Flags().String("from", "", "Source date (required)")
	addTargetFlags(cmd)
	cmd.MarkFlagRequired("from")

	RootCmd.AddCommand(cmd)
}

func runMapping(cmd *cobra.Command, args []string) {
	from := dateFlag(cmd, "from")
	targets := targetFlags(cmd)

	sess, err := openSession()
	if err != nil {
		exitErr("open", err)
	}
	defer sess.close()

	var tbl *model.MappingTable
	if targets.Range == nil && len(targets.Dates) == 1 {
		tbl, err = sess.mapper.CreateMapping(cmd.Context(), from, targets.Dates[0])
	} else {
		tbl, err = sess.mapper.CreateMultiMapping(cmd.Context(), from, targets)
	}
	if tbl == nil {
		exitErr("mapping", err)
	}
	if err != nil {
		logger.Warn("mapping incomplete", "error", err)
	}

	if formatFlag == string(table.JSON) {
		printJSON(tbl)
	} else {
		writeTable(mappingTable(tbl))
	}
	if err != nil && errors.Is(err, model.ErrCancelled) {
		exitErr("mapping", err)
	}
}

// mappingTable flattens results to one row per target code; failed results
// keep a single row carrying the error.
func mappingTable(m *model.MappingTable) *table.Table {
	t := table.New("source_date", "source_code", "source_name", "target_date",
		"target_code", "target_name", "relationship", "exact", "warning", "error")
	for _, r := range m.Results {
		warning := ""
		if r.Warning != nil {
			warning = r.Warning.Error()
		}
		head := []string{model.FormatDate(r.SourceDate), strconv.Itoa(r.SourceCode), r.SourceName, model.FormatDate(r.TargetDate)}
		if len(r.Entries) == 0 {
			t.Append(append(head, "", "", "", "", warning, r.Error)...)
			continue
		}
		for _, e := range r.Entries {
			t.Append(append(append([]string(nil), head...),
				strconv.Itoa(e.TargetCode), e.TargetName, e.Relationship.String(),
				strconv.FormatBool(e.Exact), warning, r.Error)...)
		}
	}
	return t
}
