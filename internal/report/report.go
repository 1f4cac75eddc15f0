// Package report holds the structured energy report model and the
// transforms that produce it: merging per-meter consumption windows,
// day-over-day and week-over-week deltas, and country/state consolidation.
package report

import (
	"errors"
	"math"
	"sort"
	"time"

	"emsreport/internal/shared"
)

// ErrNoData is returned when none of the consumption windows produced any
// readings. The scheduler treats it as a tick failure, not a fatal job
// error.
var ErrNoData = shared.MarkKind(errors.New("no data found for the specified date range"), shared.KindNotFound)

// MeterReading is one meter's merged consumption across the three
// comparison windows, enriched with site metadata.
type MeterReading struct {
	MeterID   string
	MeterName string
	Domain    string
	OwnerName string
	SiteID    string
	SiteName  string
	Country   string
	State     string
	AreaSqm   float64
	Yesterday float64
	DayBefore float64
	LastWeek  float64
}

// StoreRow is a fully computed report line for one store meter.
type StoreRow struct {
	MeterReading
	DayChange  float64 // percent vs day before
	WeekChange float64 // percent vs same day last week
	Intensity  float64 // kWh per sqm, 0 when area is unknown
}

// Consolidation aggregates consumption for a grouping key (country or
// state).
type Consolidation struct {
	Name       string
	Yesterday  float64
	DayBefore  float64
	LastWeek   float64
	DayChange  float64
	WeekChange float64
}

// Report is the structured result handed to the renderer.
type Report struct {
	GeneratedAt   time.Time
	YesterdayDate string
	DayBeforeDate string
	LastWeekDate  string
	Stores        []StoreRow
	Countries     []Consolidation
	States        []Consolidation
}

// PercentChange returns the percentage change from oldVal to newVal.
// Zero when oldVal is zero, so meters that just came online do not report
// infinite growth.
func PercentChange(newVal, oldVal float64) float64 {
	if oldVal == 0 {
		return 0
	}
	return (newVal - oldVal) / oldVal * 100
}

// Build computes the full report from merged meter readings. The dates
// label the comparison windows relative to now.
func Build(readings []MeterReading, now time.Time) (*Report, error) {
	if len(readings) == 0 {
		return nil, ErrNoData
	}

	stores := make([]StoreRow, 0, len(readings))
	for _, m := range readings {
		row := StoreRow{
			MeterReading: m,
			DayChange:    PercentChange(m.Yesterday, m.DayBefore),
			WeekChange:   PercentChange(m.Yesterday, m.LastWeek),
		}
		if m.AreaSqm > 0 {
			row.Intensity = m.Yesterday / m.AreaSqm
		}
		stores = append(stores, row)
	}
	sort.Slice(stores, func(i, j int) bool { return stores[i].MeterName < stores[j].MeterName })

	return &Report{
		GeneratedAt:   now,
		YesterdayDate: now.AddDate(0, 0, -1).Format("2006-01-02"),
		DayBeforeDate: now.AddDate(0, 0, -2).Format("2006-01-02"),
		LastWeekDate:  now.AddDate(0, 0, -8).Format("2006-01-02"),
		Stores:        stores,
		Countries:     consolidate(stores, func(s StoreRow) string { return s.Country }),
		States:        consolidate(stores, func(s StoreRow) string { return s.State }),
	}, nil
}

// consolidate aggregates store rows by a grouping key, sorted by name.
func consolidate(stores []StoreRow, key func(StoreRow) string) []Consolidation {
	byKey := make(map[string]*Consolidation)
	for _, s := range stores {
		k := key(s)
		if k == "" {
			k = "Unknown"
		}
		c, ok := byKey[k]
		if !ok {
			c = &Consolidation{Name: k}
			byKey[k] = c
		}
		c.Yesterday += s.Yesterday
		c.DayBefore += s.DayBefore
		c.LastWeek += s.LastWeek
	}

	out := make([]Consolidation, 0, len(byKey))
	for _, c := range byKey {
		c.DayChange = PercentChange(c.Yesterday, c.DayBefore)
		c.WeekChange = PercentChange(c.Yesterday, c.LastWeek)
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TopMovers returns up to n stores with the largest absolute day-over-day
// change, ordered by magnitude. Used for the chart series.
func (r *Report) TopMovers(n int) []StoreRow {
	rows := make([]StoreRow, len(r.Stores))
	copy(rows, r.Stores)
	sort.Slice(rows, func(i, j int) bool {
		return math.Abs(rows[i].DayChange) > math.Abs(rows[j].DayChange)
	})
	if n > len(rows) {
		n = len(rows)
	}
	return rows[:n]
}
