package report

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Chart is a rendered chart specification: a category axis and one value
// series, embedded into the workbook's Charts sheet.
type Chart struct {
	Title      string
	SeriesName string
	Categories []string
	Values     []float64
}

// Sheet names of the generated workbook.
const (
	sheetDayOverDay   = "Day over Day"
	sheetWeekOverWeek = "Week over Week"
	sheetStoreDetails = "Store Details"
	sheetCountry      = "Country Summary"
	sheetState        = "State Summary"
	sheetCharts       = "Charts"
)

// topMoverCount bounds the chart series so the category axis stays legible.
const topMoverCount = 10

// ExcelRenderer renders a structured report into a multi-sheet xlsx
// workbook with embedded charts.
type ExcelRenderer struct{}

// NewExcelRenderer creates an ExcelRenderer.
func NewExcelRenderer() *ExcelRenderer {
	return &ExcelRenderer{}
}

// RenderCharts computes the chart specifications for the report: the top
// day-over-day movers and the per-country consumption split.
func (r *ExcelRenderer) RenderCharts(_ context.Context, rep *Report) ([]Chart, error) {
	movers := rep.TopMovers(topMoverCount)
	moverChart := Chart{
		Title:      "Top day-over-day movers (%)",
		SeriesName: "Day change %",
	}
	for _, m := range movers {
		moverChart.Categories = append(moverChart.Categories, m.MeterName)
		moverChart.Values = append(moverChart.Values, m.DayChange)
	}

	countryChart := Chart{
		Title:      fmt.Sprintf("Consumption by country (%s)", rep.YesterdayDate),
		SeriesName: "Consumption kWh",
	}
	for _, c := range rep.Countries {
		countryChart.Categories = append(countryChart.Categories, c.Name)
		countryChart.Values = append(countryChart.Values, c.Yesterday)
	}

	return []Chart{moverChart, countryChart}, nil
}

// RenderWorkbook builds the xlsx document from the report and chart specs
// and returns the file bytes.
func (r *ExcelRenderer) RenderWorkbook(_ context.Context, rep *Report, charts []Chart) ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	if err := r.writeDayOverDay(f, rep, headerStyle); err != nil {
		return nil, err
	}
	if err := r.writeWeekOverWeek(f, rep, headerStyle); err != nil {
		return nil, err
	}
	if err := r.writeStoreDetails(f, rep, headerStyle); err != nil {
		return nil, err
	}
	if err := r.writeConsolidation(f, sheetCountry, "Country", rep.Countries, rep, headerStyle); err != nil {
		return nil, err
	}
	if err := r.writeConsolidation(f, sheetState, "State", rep.States, rep, headerStyle); err != nil {
		return nil, err
	}
	if err := r.writeCharts(f, charts); err != nil {
		return nil, err
	}

	// The default sheet is replaced by Day over Day as the landing sheet.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	idx, err := f.GetSheetIndex(sheetDayOverDay)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *ExcelRenderer) writeDayOverDay(f *excelize.File, rep *Report, headerStyle int) error {
	header := []any{
		"Store Name", "Country", "State",
		fmt.Sprintf("Consumption %s (kWh)", rep.YesterdayDate),
		fmt.Sprintf("Consumption %s (kWh)", rep.DayBeforeDate),
		"Day Change %",
	}
	rows := make([][]any, 0, len(rep.Stores))
	for _, s := range rep.Stores {
		rows = append(rows, []any{
			s.MeterName, s.Country, s.State,
			s.Yesterday, s.DayBefore, round2(s.DayChange),
		})
	}
	return writeSheet(f, sheetDayOverDay, header, rows, headerStyle)
}

func (r *ExcelRenderer) writeWeekOverWeek(f *excelize.File, rep *Report, headerStyle int) error {
	header := []any{
		"Store Name", "Country", "State",
		fmt.Sprintf("Consumption %s (kWh)", rep.YesterdayDate),
		fmt.Sprintf("Consumption %s (kWh)", rep.LastWeekDate),
		"Week Change %",
	}
	rows := make([][]any, 0, len(rep.Stores))
	for _, s := range rep.Stores {
		rows = append(rows, []any{
			s.MeterName, s.Country, s.State,
			s.Yesterday, s.LastWeek, round2(s.WeekChange),
		})
	}
	return writeSheet(f, sheetWeekOverWeek, header, rows, headerStyle)
}

func (r *ExcelRenderer) writeStoreDetails(f *excelize.File, rep *Report, headerStyle int) error {
	header := []any{
		"Store Name", "Country", "State", "Area (sqm)",
		"Yesterday Consumption", "Day Before Consumption", "Day Change %",
		"Last Week Consumption", "Week Change %", "Energy Intensity (kWh/sqm)",
	}
	rows := make([][]any, 0, len(rep.Stores))
	for _, s := range rep.Stores {
		rows = append(rows, []any{
			s.MeterName, s.Country, s.State, s.AreaSqm,
			s.Yesterday, s.DayBefore, round2(s.DayChange),
			s.LastWeek, round2(s.WeekChange), round2(s.Intensity),
		})
	}
	return writeSheet(f, sheetStoreDetails, header, rows, headerStyle)
}

func (r *ExcelRenderer) writeConsolidation(f *excelize.File, sheet, label string, cons []Consolidation, rep *Report, headerStyle int) error {
	header := []any{
		label,
		fmt.Sprintf("Consumption %s (kWh)", rep.YesterdayDate),
		fmt.Sprintf("Consumption %s (kWh)", rep.DayBeforeDate),
		"Day Change %",
		fmt.Sprintf("Consumption %s (kWh)", rep.LastWeekDate),
		"Week Change %",
	}
	rows := make([][]any, 0, len(cons))
	for _, c := range cons {
		rows = append(rows, []any{
			c.Name, c.Yesterday, c.DayBefore, round2(c.DayChange),
			c.LastWeek, round2(c.WeekChange),
		})
	}
	return writeSheet(f, sheet, header, rows, headerStyle)
}

// writeCharts lays each chart's data block down the Charts sheet and embeds
// a column chart next to it.
func (r *ExcelRenderer) writeCharts(f *excelize.File, charts []Chart) error {
	if _, err := f.NewSheet(sheetCharts); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheetCharts, err)
	}

	row := 1
	for _, ch := range charts {
		if len(ch.Categories) == 0 {
			continue
		}
		first := row
		for i, cat := range ch.Categories {
			cell, err := excelize.CoordinatesToCellName(1, row+i)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(sheetCharts, cell, &[]any{cat, ch.Values[i]}); err != nil {
				return err
			}
		}
		last := row + len(ch.Categories) - 1

		anchor, err := excelize.CoordinatesToCellName(4, first)
		if err != nil {
			return err
		}
		err = f.AddChart(sheetCharts, anchor, &excelize.Chart{
			Type:  excelize.Col,
			Title: []excelize.RichTextRun{{Text: ch.Title}},
			Series: []excelize.ChartSeries{{
				Name:       ch.SeriesName,
				Categories: fmt.Sprintf("'%s'!$A$%d:$A$%d", sheetCharts, first, last),
				Values:     fmt.Sprintf("'%s'!$B$%d:$B$%d", sheetCharts, first, last),
			}},
			Legend: excelize.ChartLegend{Position: "bottom"},
		})
		if err != nil {
			return fmt.Errorf("add chart %q: %w", ch.Title, err)
		}

		// Leave room below the embedded chart before the next data block.
		row = last + 18
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []any, rows [][]any, headerStyle int) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	lastCol, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", lastCol, headerStyle); err != nil {
		return err
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return err
		}
	}
	return nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+sign(v)*0.5)) / 100
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
