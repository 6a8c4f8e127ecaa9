// Package server provides embeddable HTTP handlers for the recording
// orchestrator.
package server

import (
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/airband/radiorec/internal/metrics"
	"github.com/airband/radiorec/internal/recorder"
	"github.com/airband/radiorec/internal/schedule"
)

// Router provides embeddable HTTP handlers for recordings and schedules.
// Endpoints:
//
//	GET    {basePath}/recordings            list active recordings
//	POST   {basePath}/recordings/stop       query: station=...
//	POST   {basePath}/recordings/stop-all
//	GET    {basePath}/schedules             list schedules
//	POST   {basePath}/schedules             body: schedule JSON
//	POST   {basePath}/schedules/:id/cancel
//	DELETE {basePath}/schedules/:id
//	GET    {basePath}/metrics               Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	recorders *recorder.Manager
	schedules *schedule.Manager
	layout    recorder.OutputLayout
	format    string
	basePath  string
}

// NewRouter constructs a Router. format is the default recording format for
// schedules created over HTTP.
func NewRouter(rec *recorder.Manager, sch *schedule.Manager, layout recorder.OutputLayout, format, basePath string) *Router {
	return &Router{
		recorders: rec,
		schedules: sch,
		layout:    layout,
		format:    format,
		basePath:  sanitizeBase(basePath),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/recordings", r.handleRecordings)
	group.POST("/recordings/stop", r.handleStopStation)
	group.POST("/recordings/stop-all", r.handleStopAll)
	group.GET("/schedules", r.handleListSchedules)
	group.POST("/schedules", r.handleAddSchedule)
	group.POST("/schedules/:id/cancel", r.handleCancelSchedule)
	group.DELETE("/schedules/:id", r.handleRemoveSchedule)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// A non-nil tlsConf switches the listener to HTTPS; the certificates come
// from tlsConf.GetCertificate.
func NewServer(addr, basePath string, rec *recorder.Manager, sch *schedule.Manager, layout recorder.OutputLayout, format string, tlsConf *tls.Config) *http.Server {
	r := NewRouter(rec, sch, layout, format, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if tlsConf != nil {
		go func() { _ = server.ListenAndServeTLS("", "") }()
	} else {
		go func() { _ = server.ListenAndServe() }()
	}
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type recordingResp struct {
	StationID    string    `json:"station_id"`
	StationName  string    `json:"station_name"`
	ProgramTitle string    `json:"program_title"`
	Description  string    `json:"description"`
	PID          int       `json:"pid"`
	Output       string    `json:"output"`
	StartedAt    time.Time `json:"started_at"`
	EndTime      time.Time `json:"end_time"`
}

func (r *Router) handleRecordings(c *gin.Context) {
	active := r.recorders.ActiveRecorders()
	out := make([]recordingResp, 0, len(active))
	for _, a := range active {
		spec := a.Recorder.Spec()
		out = append(out, recordingResp{
			StationID:    a.StationID,
			StationName:  a.StationName,
			ProgramTitle: a.ProgramTitle,
			Description:  a.Description,
			PID:          a.Recorder.PID(),
			Output:       spec.File(),
			StartedAt:    a.StartedAt,
			EndTime:      a.EndTime,
		})
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleStopStation(c *gin.Context) {
	station := c.Query("station")
	if station == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "station query param required"})
		return
	}
	n := r.recorders.StopStation(station)
	writeJSON(c, http.StatusOK, gin.H{"stopped": n})
}

func (r *Router) handleStopAll(c *gin.Context) {
	r.recorders.StopAll()
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleListSchedules(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.schedules.Schedules())
}

type scheduleRequest struct {
	StationID    string    `json:"station_id"`
	StationName  string    `json:"station_name"`
	ProgramTitle string    `json:"program_title"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Format       string    `json:"format"`
	RepeatType   string    `json:"repeat_type"`
	RepeatDays   []int     `json:"repeat_days"`
}

func (r *Router) handleAddSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeStationID(req.StationID) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid station_id: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() || !req.EndTime.After(req.StartTime) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "start_time must precede end_time"})
		return
	}
	repeat := schedule.RepeatType(req.RepeatType)
	switch repeat {
	case "", schedule.RepeatNone, schedule.RepeatDaily, schedule.RepeatWeekly:
	default:
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "repeat_type must be none, daily or weekly"})
		return
	}
	format := strings.ToLower(req.Format)
	if format == "" {
		format = r.format
	}
	if format != "mp3" && format != "wav" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "format must be mp3 or wav"})
		return
	}

	outputPath, err := r.layout.Path(req.StationID, req.ProgramTitle, req.StartTime)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	s := &schedule.RecordingSchedule{
		ID:           schedule.NewID(req.StationID, req.StartTime),
		StationID:    req.StationID,
		StationName:  req.StationName,
		ProgramTitle: req.ProgramTitle,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		OutputPath:   outputPath,
		Filetype:     format,
		RepeatType:   repeat,
		RepeatDays:   req.RepeatDays,
		Enabled:      true,
		Status:       schedule.StatusScheduled,
	}
	if err := r.schedules.Add(s); err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusCreated, s)
}

func (r *Router) handleCancelSchedule(c *gin.Context) {
	if err := r.schedules.Cancel(c.Param("id")); err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRemoveSchedule(c *gin.Context) {
	if err := r.schedules.Remove(c.Param("id")); err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
