package cli

import (
	"errors"
	"testing"

	"github.com/rcliao/muni-map/internal/model"
)

func TestMappingTableFlattensEntries(t *testing.T) {
	d1, d2 := model.Date(1980, 1, 1), model.Date(2000, 1, 1)
	failed := model.MappingResult{SourceCode: 3, SourceDate: d1, TargetDate: d2}
	failed.SetErr(errors.New("boom"))

	tbl := mappingTable(&model.MappingTable{
		Results: []model.MappingResult{
			{
				SourceCode: 7, SourceName: "Grossberg", SourceDate: d1, TargetDate: d2,
				Entries: []model.MappingEntry{
					{TargetCode: 8, TargetName: "Oberberg", Relationship: model.RelSplitResult},
					{TargetCode: 9, TargetName: "Unterberg", Relationship: model.RelSplitResult},
				},
			},
			failed,
		},
	})

	if tbl.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", tbl.Len())
	}
	want := []string{"1980-01-01", "7", "Grossberg", "2000-01-01", "8", "Oberberg", "split-result", "false", "", ""}
	for i, v := range want {
		if tbl.Rows[0][i] != v {
			t.Errorf("row 0 col %d = %q, want %q", i, tbl.Rows[0][i], v)
		}
	}
	if tbl.Rows[1][4] != "9" {
		t.Errorf("second split row code = %q", tbl.Rows[1][4])
	}
	if tbl.Rows[2][4] != "" || tbl.Rows[2][9] != "boom" {
		t.Errorf("failed row = %v", tbl.Rows[2])
	}
}
