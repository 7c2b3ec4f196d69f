// Package export renders grading reports as spreadsheet downloads.
package export

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/studykit/papergrader/internal/model"
)

const sheetName = "Grading Results"

// Excel renders a grading report as an xlsx workbook.
//
// Assignment layout: S.No | Name | Roll Number | A1 | A2 | ... | Total.
// Quiz layout collapses the per-answer columns into one Obtained/Total
// column. Failed students keep their identity row with an error cell.
// Columns align across rows because evaluations arrive in answer-key order.
func Excel(report model.GradingReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	if len(report.Results) == 0 {
		if err := f.SetCellValue(sheetName, "A1", "No results to display"); err != nil {
			return nil, err
		}
		return workbookBytes(f)
	}

	numQuestions := report.AnswerKeyInfo.TotalQuestions
	if numQuestions == 0 {
		for _, r := range report.Results {
			if r.Success {
				numQuestions = len(r.Evaluations)
				break
			}
		}
	}

	headers := []string{"S.No", "Name", "Roll Number"}
	if report.AssessmentType == model.AssessmentQuiz {
		headers = append(headers, "Obtained / Total")
	} else {
		for i := 1; i <= numQuestions; i++ {
			headers = append(headers, fmt.Sprintf("A%d", i))
		}
		headers = append(headers, "Total Obtained / Total")
	}

	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return nil, err
		}
	}

	for i, res := range report.Results {
		row := i + 2
		if err := setRow(f, row, res, report.AssessmentType, numQuestions); err != nil {
			return nil, err
		}
	}

	// Widen the identity columns; marks columns stay at the default.
	if err := f.SetColWidth(sheetName, "B", "C", 24); err != nil {
		return nil, err
	}

	return workbookBytes(f)
}

func setRow(f *excelize.File, row int, res model.StudentResult, at model.AssessmentType, numQuestions int) error {
	values := []any{row - 1, res.StudentName, res.RollNumber}

	switch {
	case !res.Success:
		values = append(values, "Error: "+res.Error)
	case at == model.AssessmentQuiz:
		values = append(values, formatMarks(res.TotalObtained)+" / "+formatMarks(res.TotalMax))
	default:
		for j := 0; j < numQuestions; j++ {
			if j < len(res.Evaluations) {
				e := res.Evaluations[j]
				values = append(values, formatMarks(e.ObtainedMarks)+"/"+formatMarks(e.MaxMarks))
			} else {
				values = append(values, "")
			}
		}
		values = append(values, formatMarks(res.TotalObtained)+" / "+formatMarks(res.TotalMax))
	}

	start, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheetName, start, &values)
}

func formatMarks(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func workbookBytes(f *excelize.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
