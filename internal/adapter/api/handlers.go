// Package api exposes the HTTP surface: schedule management and on-demand
// report download.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"emsreport/internal/schedule"
	"emsreport/internal/shared"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Core is the scheduler surface the handlers drive.
type Core interface {
	Schedule(job schedule.Job) (schedule.Summary, error)
	Cancel(id string) bool
	List() []schedule.Summary
}

// Server holds the handler dependencies.
type Server struct {
	core     Core
	store    schedule.Store
	pipeline schedule.Pipeline
	renderer schedule.Renderer
	log      *slog.Logger

	// DefaultFilter backs the on-demand report endpoint when the request
	// body omits filter fields.
	DefaultFilter schedule.ReportFilter
}

// NewServer creates a Server.
func NewServer(core Core, store schedule.Store, pipeline schedule.Pipeline, renderer schedule.Renderer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		core:     core,
		store:    store,
		pipeline: pipeline,
		renderer: renderer,
		log:      log.With("component", "api"),
		DefaultFilter: schedule.ReportFilter{
			Period:  "DAILY",
			GroupBy: "meter",
			Type:    "LVPMeter",
		},
	}
}

// Routes registers all endpoints on the router.
func (s *Server) Routes(r *gin.Engine) {
	r.POST("/schedule", s.createSchedule)
	r.GET("/schedule", s.listSchedules)
	r.DELETE("/schedule/:id", s.cancelSchedule)
	r.POST("/report", s.downloadReport)
}

// scheduleRequest is the create-schedule body. Days is any because it
// accepts both a keyword string and an array of weekday names.
type scheduleRequest struct {
	Emails   []string `json:"emails"`
	Time     string   `json:"time"`
	TimeZone string   `json:"timeZone"`
	Days     any      `json:"days"`
	Period   string   `json:"period"`
	Domain   string   `json:"domain"`
	GroupBy  string   `json:"groupBy"`
	Type     string   `json:"type"`
}

func (s *Server) createSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}

	if req.Period == "" || req.Domain == "" || req.GroupBy == "" || req.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing required parameters: period, domain, groupBy, type",
		})
		return
	}
	if len(req.Emails) == 0 || req.Time == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Both email and time are required."})
		return
	}

	timezone := req.TimeZone
	if timezone == "" {
		timezone = "UTC"
	}
	days := req.Days
	if days == nil {
		days = "daily"
	}

	rule, err := schedule.Translate(req.Time, timezone, days)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
		return
	}

	job := schedule.Job{
		Recipients: req.Emails,
		Rule:       rule,
		Filter: schedule.ReportFilter{
			Period:  req.Period,
			Domain:  req.Domain,
			GroupBy: req.GroupBy,
			Type:    req.Type,
		},
	}

	summary, err := s.core.Schedule(job)
	if err != nil {
		s.log.ErrorContext(c.Request.Context(), "schedule job", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule report job"})
		return
	}

	job.ID = summary.ID
	if err := s.store.Insert(c.Request.Context(), schedule.NewRecord(job)); err != nil {
		// The registry entry must not outlive a failed persist, or a
		// restart would silently drop the job.
		s.core.Cancel(summary.ID)
		s.log.ErrorContext(c.Request.Context(), "persist job", "job_id", summary.ID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule report job"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     fmt.Sprintf("Report scheduled at %s (%s)", req.Time, timezone),
		"jobId":       summary.ID,
		"utcCronTime": summary.CronExpr,
		"utcTime":     summary.UTCTime,
		"nextRun":     summary.NextRunAtUTC.Format(time.RFC3339),
	})
}

func (s *Server) listSchedules(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.List())
}

func (s *Server) cancelSchedule(c *gin.Context) {
	id := c.Param("id")
	if !s.core.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Unknown job id."})
		return
	}

	if err := s.store.Deactivate(c.Request.Context(), id); err != nil && !shared.IsNotFound(err) {
		s.log.ErrorContext(c.Request.Context(), "deactivate job", "job_id", id, "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// reportRequest is the on-demand report body; all fields optional, gaps
// fall back to the server defaults.
type reportRequest struct {
	Period  string `json:"period"`
	Domain  string `json:"domain"`
	GroupBy string `json:"groupBy"`
	Type    string `json:"type"`
}

func (s *Server) downloadReport(c *gin.Context) {
	var req reportRequest
	// Body is optional; ignore bind errors from an empty body.
	_ = c.ShouldBindJSON(&req)

	filter := s.DefaultFilter
	if req.Period != "" {
		filter.Period = req.Period
	}
	if req.Domain != "" {
		filter.Domain = req.Domain
	}
	if req.GroupBy != "" {
		filter.GroupBy = req.GroupBy
	}
	if req.Type != "" {
		filter.Type = req.Type
	}

	ctx := c.Request.Context()
	rep, err := s.pipeline.Fetch(ctx, filter)
	if err != nil {
		status := http.StatusInternalServerError
		if shared.IsNotFound(err) {
			status = http.StatusNotFound
		}
		if shared.IsValidation(err) {
			status = http.StatusBadRequest
		}
		s.log.ErrorContext(ctx, "on-demand report", "err", err)
		c.JSON(status, gin.H{"error": "Failed to generate report"})
		return
	}

	charts, err := s.renderer.RenderCharts(ctx, rep)
	if err != nil {
		s.log.ErrorContext(ctx, "render charts", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate report"})
		return
	}
	doc, err := s.renderer.RenderWorkbook(ctx, rep, charts)
	if err != nil {
		s.log.ErrorContext(ctx, "render workbook", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate report"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="energy-report.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, doc)
}

// validationMessage maps translator sentinels to the field-specific
// messages clients rely on.
func validationMessage(err error) string {
	switch {
	case errors.Is(err, schedule.ErrInvalidTimeFormat):
		return "Invalid time format. Please use HH:mm (24-hour format)"
	case errors.Is(err, schedule.ErrInvalidDaysValue):
		return `Invalid "days" value. Use "daily", "weekdays", or an array of weekdays like ["Mon", "Wed"].`
	case errors.Is(err, schedule.ErrInvalidDaysArray):
		return `Invalid "days" array. Use days like ["Mon", "Wed", "Fri"].`
	case errors.Is(err, schedule.ErrInvalidDaysType):
		return `Invalid "days" field. Must be string or array.`
	case errors.Is(err, schedule.ErrUnknownTimezone):
		return "Unknown timezone. Use an IANA zone name like Asia/Riyadh."
	default:
		return err.Error()
	}
}
