// Package export writes audit history to spreadsheets
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/domain/entity"
)

const (
	HistorySheet = "History"
	SummarySheet = "Summary"
)

var historyHeader = []string{
	"Entry ID", "Instance ID", "Kind", "From State", "To State",
	"Transition", "Actor", "Reason", "Timestamp (UTC)", "Details",
}

// HistoryExporter renders history entries as an xlsx workbook
type HistoryExporter struct {
	logger *zap.Logger
}

// NewHistoryExporter creates a HistoryExporter
func NewHistoryExporter(logger *zap.Logger) *HistoryExporter {
	return &HistoryExporter{logger: logger}
}

// Write renders entries, in the order given, to w. A second sheet counts
// entries per kind.
func (e *HistoryExporter) Write(w io.Writer, entries []*entity.HistoryEntry) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			e.logger.Warn("Failed to close workbook", zap.Error(err))
		}
	}()

	if err := f.SetSheetName("Sheet1", HistorySheet); err != nil {
		return fmt.Errorf("failed to name history sheet: %w", err)
	}

	if err := f.SetSheetRow(HistorySheet, "A1", &historyHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetRowStyle(HistorySheet, 1, 1, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	counts := make(map[string]int)
	for i, h := range entries {
		counts[h.Kind]++

		details := ""
		if len(h.Details) > 0 {
			b, err := json.Marshal(h.Details)
			if err != nil {
				return fmt.Errorf("failed to marshal details of entry %d: %w", h.ID, err)
			}
			details = string(b)
		}

		row := []interface{}{
			h.ID, h.InstanceID, h.Kind, h.FromState, h.ToState,
			h.Transition, h.Actor, h.Reason, h.Timestamp.UTC().Format("2006-01-02 15:04:05"), details,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(HistorySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write entry %d: %w", h.ID, err)
		}
	}

	if err := f.SetColWidth(HistorySheet, "A", "H", 16); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	if err := f.SetColWidth(HistorySheet, "I", "I", 20); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	if err := f.SetColWidth(HistorySheet, "J", "J", 60); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	if err := f.SetPanes(HistorySheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if err := e.writeSummary(f, counts, len(entries), bold); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("History exported", zap.Int("entries", len(entries)))
	return nil
}

func (e *HistoryExporter) writeSummary(f *excelize.File, counts map[string]int, total, style int) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	if err := f.SetSheetRow(SummarySheet, "A1", &[]interface{}{"Kind", "Entries"}); err != nil {
		return err
	}
	if err := f.SetRowStyle(SummarySheet, 1, 1, style); err != nil {
		return err
	}
	for i, k := range kinds {
		if err := f.SetSheetRow(SummarySheet, fmt.Sprintf("A%d", i+2), &[]interface{}{k, counts[k]}); err != nil {
			return err
		}
	}
	return f.SetSheetRow(SummarySheet, fmt.Sprintf("A%d", len(kinds)+2), &[]interface{}{"total", total})
}
