// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package dashboard

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExportHistoryXLSX(t *testing.T) {
	history := sampleHistory(t)
	rows := HistoryRows(history, OrderNewest)

	data, err := ExportHistoryXLSX(rows)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{ExportSheet}, f.GetSheetList())

	header, err := f.GetRows(ExportSheet)
	require.NoError(t, err)
	require.Len(t, header, len(rows)+1)
	assert.Equal(t, HistoryColumns, header[0])

	cell := func(ref string) string {
		t.Helper()
		v, err := f.GetCellValue(ExportSheet, ref)
		require.NoError(t, err)
		return v
	}

	// Newest row: id 4, no temperature, alarm set.
	assert.Equal(t, "4", cell("A2"))
	assert.Equal(t, "15/01/2025 10:20:00", cell("B2"))
	assert.Equal(t, "ECO", cell("C2"))
	assert.Equal(t, "", cell("D2"))
	assert.Equal(t, "47", cell("E2"))
	assert.Equal(t, "1", cell("H2"))

	// Row 3 is id 3.
	assert.Equal(t, "3", cell("A3"))
	assert.Equal(t, "22.5", cell("D3"))
	assert.Equal(t, "900", cell("F3"))
}

func TestExportHistoryXLSXEmpty(t *testing.T) {
	data, err := ExportHistoryXLSX(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(ExportSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
