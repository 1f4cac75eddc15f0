package ems

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emsreport/internal/report"
	"emsreport/internal/schedule"
	"emsreport/internal/shared"
)

const towerPath = `"[{\"type\":\"CommercialTower\",\"parentType\":\"City\",\"name\":\"Mall Branch\",\"topic\":\"site-1\"},{\"parentType\":\"Community\",\"name\":\"KSA\",\"type\":\"Region\"},{\"parentType\":\"SiteGroup\",\"name\":\"Riyadh\",\"type\":\"City\"}]"`

func consumptionBody(value float64) string {
	return fmt.Sprintf(`[{
		"entity":{"identifier":"m1","domain":"acme","data":{
			"displayName":"Main Meter","ownerName":"Acme",
			"sourceTagPath":%s}},
		"consumptions":[{"consumption":%g}]
	}]`, towerPath, value)
}

func TestPipelineFetch(t *testing.T) {
	now := time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)

	yStart, _ := DayWindow(now, offsetYesterday)
	dbStart, _ := DayWindow(now, offsetDayBefore)
	lwStart, _ := DayWindow(now, offsetLastWeek)

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"accessToken": "tok", "expireIn": "3600"})
	})
	mux.HandleFunc("/ems-report-pro/1.0.0/consumption/filter/data", func(w http.ResponseWriter, r *http.Request) {
		var q ConsumptionQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))

		switch q.Start {
		case yStart:
			_, _ = w.Write([]byte(consumptionBody(120)))
		case dbStart:
			_, _ = w.Write([]byte(consumptionBody(100)))
		case lwStart:
			_, _ = w.Write([]byte(consumptionBody(150)))
		default:
			t.Errorf("unexpected window start %d", q.Start)
			_, _ = w.Write([]byte(`[]`))
		}
	})
	mux.HandleFunc("/ems-site-manager/1.0.0/sites/search/pagination", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"identifier":"site-1","data":{"name":"Mall Branch","area":400}}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewPipeline(newTestClient(t, srv.URL+"/login", srv.URL), nil)
	p.now = func() time.Time { return now }

	rep, err := p.Fetch(context.Background(), schedule.ReportFilter{
		Period: "DAILY", Domain: "acme", GroupBy: "meter", Type: "LVPMeter",
	})
	require.NoError(t, err)

	require.Len(t, rep.Stores, 1)
	s := rep.Stores[0]
	assert.Equal(t, "Main Meter", s.MeterName)
	assert.Equal(t, "Mall Branch", s.SiteName)
	assert.Equal(t, "KSA", s.Country)
	assert.Equal(t, "Riyadh", s.State)
	assert.Equal(t, 400.0, s.AreaSqm)
	assert.Equal(t, 120.0, s.Yesterday)
	assert.Equal(t, 100.0, s.DayBefore)
	assert.Equal(t, 150.0, s.LastWeek)
	assert.InDelta(t, 20.0, s.DayChange, 1e-9)
	assert.InDelta(t, -20.0, s.WeekChange, 1e-9)
	assert.InDelta(t, 0.3, s.Intensity, 1e-9)

	assert.Equal(t, "2025-06-09", rep.YesterdayDate)
}

func TestPipelineFetchMissingFilter(t *testing.T) {
	p := NewPipeline(newTestClient(t, "http://unused", "http://unused"), nil)

	_, err := p.Fetch(context.Background(), schedule.ReportFilter{Period: "DAILY"})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}

func TestPipelineFetchNoData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"accessToken": "tok", "expireIn": "3600"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ems-site-manager/1.0.0/sites/search/pagination" {
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewPipeline(newTestClient(t, srv.URL+"/login", srv.URL), nil)

	_, err := p.Fetch(context.Background(), schedule.ReportFilter{
		Period: "DAILY", Domain: "acme", GroupBy: "meter", Type: "LVPMeter",
	})
	require.ErrorIs(t, err, report.ErrNoData)
}

func TestMergeMeterMissingFromWindow(t *testing.T) {
	entry := func(id string, v float64) ConsumptionEntry {
		var e ConsumptionEntry
		e.Entity.Identifier = id
		e.Entity.Data.DisplayName = "Meter " + id
		e.Consumptions = []struct {
			Consumption float64 `json:"consumption"`
		}{{Consumption: v}}
		return e
	}

	readings := merge(
		[]ConsumptionEntry{entry("a", 10), entry("b", 20)},
		[]ConsumptionEntry{entry("a", 8)},
		nil,
		nil,
	)

	require.Len(t, readings, 2)
	assert.Equal(t, "a", readings[0].MeterID)
	assert.Equal(t, 10.0, readings[0].Yesterday)
	assert.Equal(t, 8.0, readings[0].DayBefore)
	assert.Equal(t, 0.0, readings[0].LastWeek)

	// Meter b never appeared in the older windows: zeros, not a gap.
	assert.Equal(t, "b", readings[1].MeterID)
	assert.Equal(t, 20.0, readings[1].Yesterday)
	assert.Equal(t, 0.0, readings[1].DayBefore)
	assert.Equal(t, "Unknown", readings[1].Country)
}
