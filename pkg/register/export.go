package register

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "QA Register"

var exportHeader = []string{
	"Call ID", "Agent", "Agent ID", "Call Date", "Duration (s)",
	"QA Score", "Compliance Score", "Overall Score", "Key Moments",
	"Reviewer", "Review Notes", "Disposition",
}

// ExportXLSX writes the current register rows to an xlsx workbook at path
func (r *Register) ExportXLSX(path string) (int, error) {
	entries, err := r.store.ListRegisterEntries()
	if err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return 0, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return 0, fmt.Errorf("drop default sheet: %w", err)
	}

	for col, title := range exportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return 0, fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(exportSheet, cell, title); err != nil {
			return 0, fmt.Errorf("write header: %w", err)
		}
	}

	for i, entry := range entries {
		values := []interface{}{
			entry.ExternalCallID,
			entry.AgentName,
			entry.AgentID,
			entry.CallDate.Format("2006-01-02 15:04:05"),
			entry.Duration,
			entry.QAScore,
			entry.ComplianceScore,
			entry.OverallScore,
			entry.KeyMomentCount,
			entry.Reviewer,
			entry.ReviewNotes,
			entry.Disposition,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return 0, fmt.Errorf("data cell: %w", err)
			}
			if err := f.SetCellValue(exportSheet, cell, value); err != nil {
				return 0, fmt.Errorf("write row %d: %w", i+2, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return 0, fmt.Errorf("save workbook: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"path": path,
		"rows": len(entries),
	}).Info("QA register exported")

	return len(entries), nil
}
