package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/domain/entity"
)

func TestHistoryExporter_Write(t *testing.T) {
	at := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	entries := []*entity.HistoryEntry{
		{ID: 1, InstanceID: 7, Kind: entity.HistoryKindStart, ToState: "draft", Actor: "riley", Timestamp: at},
		{ID: 2, InstanceID: 7, Kind: entity.HistoryKindTransition, FromState: "draft", ToState: "pending_supervisor",
			Transition: "submit", Actor: "system:auto", Timestamp: at},
		{ID: 3, InstanceID: 7, Kind: entity.HistoryKindEscalation, Actor: "system:escalation",
			Reason: "escalation level 1", Details: map[string]interface{}{"level": 1}, Timestamp: at.Add(48 * time.Hour)},
	}

	var buf bytes.Buffer
	require.NoError(t, NewHistoryExporter(zap.NewNop()).Write(&buf, entries))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(HistorySheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, historyHeader, rows[0])
	assert.Equal(t, "submit", rows[2][5])
	assert.Equal(t, "2025-06-04 10:00:00", rows[3][8])
	assert.Equal(t, `{"level":1}`, rows[3][9])

	summary, err := f.GetRows(SummarySheet)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Kind", "Entries"},
		{"escalation", "1"},
		{"start", "1"},
		{"transition", "1"},
		{"total", "3"},
	}, summary)
}

func TestHistoryExporter_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewHistoryExporter(zap.NewNop()).Write(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(HistorySheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
