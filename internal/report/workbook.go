package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/abhisek/apgen/internal/course"
	"github.com/abhisek/apgen/internal/problemgen"
)

const coverageSheet = "Coverage"

// WorkbookPath is where the coverage workbook of a unit and kind goes:
// {out}/{course}/coverage/unit{u}-{kind}.xlsx.
func WorkbookPath(outDir string, unit course.Unit, kind problemgen.Kind) string {
	return filepath.Join(outDir, unit.CourseID, "coverage", fmt.Sprintf("unit%d-%s.xlsx", unit.Number(), kind))
}

// WriteCoverageWorkbook writes one row per learning objective of the unit
// with the number of accepted items aligned to it.
func WriteCoverageWorkbook(path string, unit course.Unit, kind problemgen.Kind, counts map[string]int) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", coverageSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	header := []any{"Topic", "LO ID", "Description", "Accepted items"}
	if err := f.SetSheetRow(coverageSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	if err := f.SetCellStyle(coverageSheet, "A1", "D1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	row := 2
	for _, t := range unit.Topics {
		for _, lo := range t.LearningObjectives {
			id := lo.ID.String()
			if id == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return err
			}
			values := []any{t.Name, id, lo.Description, counts[id]}
			if err := f.SetSheetRow(coverageSheet, cell, &values); err != nil {
				return fmt.Errorf("write row %d: %w", row, err)
			}
			row++
		}
	}

	_ = f.SetColWidth(coverageSheet, "A", "A", 36)
	_ = f.SetColWidth(coverageSheet, "B", "B", 14)
	_ = f.SetColWidth(coverageSheet, "C", "C", 80)
	_ = f.SetColWidth(coverageSheet, "D", "D", 16)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create workbook dir: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}
