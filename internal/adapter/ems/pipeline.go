package ems

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"emsreport/internal/report"
	"emsreport/internal/schedule"
	"emsreport/internal/shared"
)

// Comparison window offsets, in days before the run date.
const (
	offsetYesterday = 1
	offsetDayBefore = 2
	offsetLastWeek  = 8
)

// Pipeline fetches the three consumption windows plus site metadata,
// merges them per meter and builds the structured report. Implements the
// scheduler's data collaborator.
type Pipeline struct {
	client *Client
	log    *slog.Logger
	now    func() time.Time
}

// NewPipeline creates a Pipeline over an ems Client.
func NewPipeline(client *Client, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		client: client,
		log:    log.With("component", "ems-pipeline"),
		now:    time.Now,
	}
}

// Fetch runs the window queries concurrently and merges the results into
// a report. A meter appearing in any window produces a row; windows that
// missed it contribute zero consumption.
func (p *Pipeline) Fetch(ctx context.Context, filter schedule.ReportFilter) (*report.Report, error) {
	if filter.Period == "" || filter.Domain == "" || filter.GroupBy == "" || filter.Type == "" {
		return nil, shared.MarkKind(fmt.Errorf("missing required report parameters"), shared.KindValidation)
	}

	now := p.now()
	started := time.Now()

	var (
		yesterday, dayBefore, lastWeek []ConsumptionEntry
		sites                          []Site
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		yesterday, err = p.window(gctx, filter, now, offsetYesterday)
		return err
	})
	g.Go(func() (err error) {
		dayBefore, err = p.window(gctx, filter, now, offsetDayBefore)
		return err
	})
	g.Go(func() (err error) {
		lastWeek, err = p.window(gctx, filter, now, offsetLastWeek)
		return err
	})
	g.Go(func() (err error) {
		sites, err = p.client.Sites(gctx, filter.Domain)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	readings := merge(yesterday, dayBefore, lastWeek, sites)
	p.log.InfoContext(ctx, "consumption windows fetched",
		"meters", len(readings),
		"sites", len(sites),
		"domain", filter.Domain,
		"took", time.Since(started))

	return report.Build(readings, now)
}

func (p *Pipeline) window(ctx context.Context, filter schedule.ReportFilter, now time.Time, offset int) ([]ConsumptionEntry, error) {
	start, end := DayWindow(now, offset)
	return p.client.Consumption(ctx, ConsumptionQuery{
		Period:  filter.Period,
		Domain:  filter.Domain,
		Start:   start,
		End:     end,
		GroupBy: filter.GroupBy,
		Type:    filter.Type,
	})
}

// merge joins the three windows on meter identifier and enriches each
// meter with site metadata resolved through its tag path.
func merge(yesterday, dayBefore, lastWeek []ConsumptionEntry, sites []Site) []report.MeterReading {
	yMap := indexByMeter(yesterday)
	dbMap := indexByMeter(dayBefore)
	lwMap := indexByMeter(lastWeek)

	siteMap := make(map[string]SiteData, len(sites))
	for _, s := range sites {
		siteMap[s.Identifier] = s.Data
	}

	ids := make([]string, 0, len(yMap))
	seen := make(map[string]bool, len(yMap))
	for _, m := range []map[string]ConsumptionEntry{yMap, dbMap, lwMap} {
		for id := range m {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)

	readings := make([]report.MeterReading, 0, len(ids))
	for _, id := range ids {
		yEntry, yOK := yMap[id]
		dbEntry, dbOK := dbMap[id]
		lwEntry := lwMap[id]

		base := yEntry
		if !yOK {
			if dbOK {
				base = dbEntry
			} else {
				base = lwEntry
			}
		}

		info := ParseTagPath(base.Entity.Data.SourceTagPath)
		meta := siteMap[info.SiteID]

		siteName := info.SiteName
		if siteName == "" {
			siteName = meta.Name
		}
		if siteName == "" {
			siteName = meta.DisplayName
		}
		if siteName == "" {
			siteName = "Unknown"
		}
		meterName := base.Entity.Data.DisplayName
		if meterName == "" {
			meterName = "Unknown"
		}

		readings = append(readings, report.MeterReading{
			MeterID:   id,
			MeterName: meterName,
			Domain:    base.Entity.Domain,
			OwnerName: base.Entity.Data.OwnerName,
			SiteID:    info.SiteID,
			SiteName:  siteName,
			Country:   orUnknown(info.Country),
			State:     orUnknown(info.State),
			AreaSqm:   meta.Area,
			Yesterday: yEntry.Value(),
			DayBefore: dbEntry.Value(),
			LastWeek:  lwEntry.Value(),
		})
	}
	return readings
}

func indexByMeter(entries []ConsumptionEntry) map[string]ConsumptionEntry {
	m := make(map[string]ConsumptionEntry, len(entries))
	for _, e := range entries {
		m[e.Entity.Identifier] = e
	}
	return m
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
