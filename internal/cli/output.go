package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/muni-map/internal/model"
	"github.com/rcliao/muni-map/internal/table"
)

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func writeTable(t *table.Table) {
	f, err := table.ParseFormat(formatFlag)
	if err != nil {
		exitErr("format", err)
	}
	if err := table.Write(os.Stdout, t, f); err != nil {
		exitErr("write output", err)
	}
}

// dateFlag parses a date flag; an empty value returns the zero time.
func dateFlag(cmd *cobra.Command, name string) time.Time {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return time.Time{}
	}
	d, err := model.ParseDate(s)
	if err != nil {
		exitErr("--"+name, err)
	}
	return d
}

// addTargetFlags registers --to (repeatable) and --between START,END.
func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("to", nil, "Target date(s), repeatable or comma-separated")
	cmd.Flags().StringSlice("between", nil, "Inclusive target range START,END; expands to the known snapshot dates")
}

func targetFlags(cmd *cobra.Command) model.Targets {
	to, _ := cmd.Flags().GetStringSlice("to")
	between, _ := cmd.Flags().GetStringSlice("between")
	switch {
	case len(between) > 0 && len(to) > 0:
		exitErr("targets", fmt.Errorf("--to and --between are mutually exclusive"))
	case len(between) > 0:
		if len(between) != 2 {
			exitErr("--between", fmt.Errorf("expected START,END, got %d values", len(between)))
		}
		start, err := model.ParseDate(between[0])
		if err != nil {
			exitErr("--between", err)
		}
		end, err := model.ParseDate(between[1])
		if err != nil {
			exitErr("--between", err)
		}
		if end.Before(start) {
			exitErr("--between", fmt.Errorf("end %s is before start %s", model.FormatDate(end), model.FormatDate(start)))
		}
		return model.TargetRange(start, end)
	case len(to) == 0:
		exitErr("targets", fmt.Errorf("--to or --between is required"))
	}
	dates := make([]time.Time, 0, len(to))
	for _, s := range to {
		d, err := model.ParseDate(s)
		if err != nil {
			exitErr("--to", err)
		}
		dates = append(dates, d)
	}
	return model.TargetDates(dates...)
}
