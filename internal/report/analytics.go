package report

import (
	"fmt"
	"io"
	"time"

	"github.com/expenseflow/approval-engine/internal/models"
	"github.com/expenseflow/approval-engine/internal/repository"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Exporter renders approval analytics into Excel workbooks.
type Exporter struct {
	history *repository.HistoryRepository
	logger  *zap.Logger
}

// NewExporter creates an Exporter over the approval history.
func NewExporter(history *repository.HistoryRepository, logger *zap.Logger) *Exporter {
	return &Exporter{history: history, logger: logger}
}

// WriteAnalytics aggregates a company's approval activity since the given
// time and writes it as a one-sheet workbook: action, day, count, average
// amount.
func (e *Exporter) WriteAnalytics(w io.Writer, companyID int64, since time.Time) error {
	rows, err := e.history.Analytics(companyID, since)
	if err != nil {
		return fmt.Errorf("failed to load analytics: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Approval Activity"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	headers := []string{"Action", "Date", "Count", "Avg Amount"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		e.setCell(f, sheet, cell, h)
	}

	for i, row := range rows {
		e.setRow(f, sheet, i+2, row)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Analytics report written",
		zap.Int64("company_id", companyID),
		zap.Int("rows", len(rows)))
	return nil
}

func (e *Exporter) setRow(f *excelize.File, sheet string, rowNum int, row *models.AnalyticsRow) {
	values := []interface{}{row.Action, row.Date, row.Count, row.AvgAmount}
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, rowNum)
		e.setCell(f, sheet, cell, v)
	}
}

func (e *Exporter) setCell(f *excelize.File, sheet, cell string, value interface{}) {
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		e.logger.Warn("Failed to set cell",
			zap.String("cell", cell),
			zap.Error(err))
	}
}
