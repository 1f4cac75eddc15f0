package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExcelRendererWorkbook(t *testing.T) {
	now := time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)
	rep, err := Build(sampleReadings(), now)
	require.NoError(t, err)

	r := NewExcelRenderer()
	ctx := context.Background()

	charts, err := r.RenderCharts(ctx, rep)
	require.NoError(t, err)
	require.Len(t, charts, 2)
	assert.NotEmpty(t, charts[0].Categories)
	assert.Len(t, charts[0].Values, len(charts[0].Categories))

	doc, err := r.RenderWorkbook(ctx, rep, charts)
	require.NoError(t, err)
	require.NotEmpty(t, doc)

	f, err := excelize.OpenReader(bytes.NewReader(doc))
	require.NoError(t, err)
	defer f.Close()

	sheets := f.GetSheetList()
	assert.ElementsMatch(t, []string{
		"Day over Day", "Week over Week", "Store Details",
		"Country Summary", "State Summary", "Charts",
	}, sheets)

	// First data row of Day over Day is the alphabetically first store.
	name, err := f.GetCellValue("Day over Day", "A2")
	require.NoError(t, err)
	assert.Equal(t, "Store A", name)

	header, err := f.GetCellValue("Day over Day", "D1")
	require.NoError(t, err)
	assert.Contains(t, header, "2025-06-09")

	rows, err := f.GetRows("Store Details")
	require.NoError(t, err)
	require.Len(t, rows, 4) // header + three stores
	assert.Equal(t, "Store Name", rows[0][0])

	country, err := f.GetCellValue("Country Summary", "A2")
	require.NoError(t, err)
	assert.Equal(t, "KSA", country)
}

func TestRenderChartsSkipsEmptySeries(t *testing.T) {
	now := time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)
	rep, err := Build(sampleReadings(), now)
	require.NoError(t, err)

	r := NewExcelRenderer()
	// A chart with no categories must not break workbook rendering.
	doc, err := r.RenderWorkbook(context.Background(), rep, []Chart{{Title: "empty"}})
	require.NoError(t, err)
	assert.NotEmpty(t, doc)
}
