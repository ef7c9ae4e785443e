package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskdav/taskdav/internal/caldav"
	"github.com/taskdav/taskdav/internal/store"
	"github.com/taskdav/taskdav/internal/types"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// statusFor maps a failure to an HTTP status: missing remote objects are
// 404, anything that went wrong on or en route to the CalDAV server is
// 502, the rest is on us.
func statusFor(err error) int {
	switch {
	case caldav.IsNotFound(err):
		return http.StatusNotFound
	case caldav.IsFatal(err), caldav.IsRetryable(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func failErr(c *gin.Context, err error) {
	fail(c, statusFor(err), err.Error())
}

func (s *Server) handleHealth(c *gin.Context) {
	health := "ok"
	database := "ok"
	status := http.StatusOK
	if err := s.store.Ping(c.Request.Context()); err != nil {
		health = "degraded"
		database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"success":  status == http.StatusOK,
		"status":   health,
		"version":  s.version,
		"database": database,
	})
}

func (s *Server) handleSync(c *gin.Context) {
	ctx := c.Request.Context()

	if calendarURL := c.Query("calendar"); calendarURL != "" {
		stats, err := s.engine.Pull(ctx, calendarURL)
		if err != nil {
			failErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "calendar": calendarURL, "pull": stats})
		return
	}

	report, err := s.engine.SyncAll(ctx)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

func (s *Server) handlePush(c *gin.Context) {
	ctx := c.Request.Context()

	if calendarURL := c.Query("calendar"); calendarURL != "" {
		stats, err := s.engine.Push(ctx, calendarURL)
		if err != nil {
			failErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "calendar": calendarURL, "push": stats})
		return
	}

	// No calendar given: push every calendar that has pending work.
	pending, err := s.store.ListTasks(ctx, store.Filter{Unsynced: true})
	if err != nil {
		failErr(c, err)
		return
	}
	seen := make(map[string]bool)
	var calendars []string
	for _, task := range pending {
		if task.CalendarURL != "" && !seen[task.CalendarURL] {
			seen[task.CalendarURL] = true
			calendars = append(calendars, task.CalendarURL)
		}
	}

	var total types.PushStats
	for _, calendarURL := range calendars {
		stats, err := s.engine.Push(ctx, calendarURL)
		total.Add(stats)
		if err != nil {
			total.Errors = append(total.Errors, fmt.Sprintf("%s: %v", calendarURL, err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "calendars": len(calendars), "push": total})
}

func (s *Server) handlePushPending(c *gin.Context) {
	pending, err := s.store.ListTasks(c.Request.Context(), store.Filter{Unsynced: true, SortBy: "updated"})
	if err != nil {
		failErr(c, err)
		return
	}
	uids := make([]string, 0, len(pending))
	byOperation := make(map[string]int)
	for _, task := range pending {
		uids = append(uids, task.UID)
		byOperation[string(task.Operation)]++
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"count":        len(pending),
		"uids":         uids,
		"by_operation": byOperation,
	})
}

// filterFromQuery translates list query parameters into a store filter.
// Unknown sort keys are left to the store's allowlist, which falls back
// to creation order.
func filterFromQuery(c *gin.Context) (store.Filter, error) {
	var filter store.Filter

	filter.CalendarURL = c.Query("calendar")
	filter.ParentUID = c.Query("parent")
	filter.Tag = c.Query("tag")
	filter.Query = c.Query("q")
	filter.SortBy = c.Query("sort")
	filter.SortDesc = strings.EqualFold(c.Query("order"), "desc")

	if v := c.Query("completed"); v != "" {
		completed, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("completed must be true or false, got %q", v)
		}
		filter.Completed = &completed
	}
	if v := c.Query("roots"); v == "1" || strings.EqualFold(v, "true") {
		filter.RootsOnly = true
	}
	if v := c.Query("overdue"); v == "1" || strings.EqualFold(v, "true") {
		filter.OverdueOnly = true
	}
	if v := c.Query("unsynced"); v == "1" || strings.EqualFold(v, "true") {
		filter.Unsynced = true
	}
	if v := c.Query("priority_min"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, fmt.Errorf("priority_min must be a number, got %q", v)
		}
		filter.PriorityMin = n
	}
	if v := c.Query("priority_max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, fmt.Errorf("priority_max must be a number, got %q", v)
		}
		filter.PriorityMax = n
	}
	if v := c.Query("due_before"); v != "" {
		at, err := parseTimeParam(v)
		if err != nil {
			return filter, fmt.Errorf("due_before: %v", err)
		}
		filter.DueBefore = at
	}
	if v := c.Query("due_after"); v != "" {
		at, err := parseTimeParam(v)
		if err != nil {
			return filter, fmt.Errorf("due_after: %v", err)
		}
		filter.DueAfter = at
	}

	return filter, nil
}

// pageFromQuery reads page/per_page with the documented bounds.
func pageFromQuery(c *gin.Context) (page, perPage int) {
	page = 1
	if n, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && n > 0 {
		page = n
	}
	perPage = defaultPageSize
	if n, err := strconv.Atoi(c.DefaultQuery("per_page", "")); err == nil && n > 0 {
		perPage = n
	}
	if perPage > maxPageSize {
		perPage = maxPageSize
	}
	return page, perPage
}

func (s *Server) handleListTasks(c *gin.Context) {
	ctx := c.Request.Context()

	filter, err := filterFromQuery(c)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	total, err := s.store.CountTasks(ctx, filter)
	if err != nil {
		failErr(c, err)
		return
	}

	page, perPage := pageFromQuery(c)
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	tasks, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		failErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"tasks":    tasks,
		"count":    len(tasks),
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func (s *Server) handleSearchTasks(c *gin.Context) {
	if c.Query("q") == "" && c.Query("tag") == "" {
		fail(c, http.StatusBadRequest, "q or tag parameter required")
		return
	}
	s.handleListTasks(c)
}

// taskRequest is the JSON body for task create and update. Pointer
// fields distinguish "not sent" from zero values on update.
type taskRequest struct {
	Summary           *string  `json:"summary"`
	Description       *string  `json:"description"`
	CalendarURL       string   `json:"calendar_url"`
	ParentUID         *string  `json:"parent_uid"`
	Priority          *int     `json:"priority"`
	Due               *string  `json:"due"`
	Tags              []string `json:"tags"`
	EstimatedDuration *int     `json:"estimated_duration"`
	Completed         *bool    `json:"completed"`
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req taskRequest
	if err := c.BindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Summary == nil || strings.TrimSpace(*req.Summary) == "" {
		fail(c, http.StatusBadRequest, "summary is required")
		return
	}
	if req.CalendarURL == "" {
		fail(c, http.StatusBadRequest, "calendar_url is required")
		return
	}

	task := types.NewTask(*req.Summary)
	task.CalendarURL = req.CalendarURL
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.ParentUID != nil {
		task.ParentUID = *req.ParentUID
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if req.Due != nil && *req.Due != "" {
		due, err := parseTimeParam(*req.Due)
		if err != nil {
			fail(c, http.StatusBadRequest, fmt.Sprintf("due: %v", err))
			return
		}
		task.Due = due
	}
	task.Tags = req.Tags
	if req.EstimatedDuration != nil {
		task.EstimatedDuration = *req.EstimatedDuration
	}

	if err := task.Validate(); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpsertTask(c.Request.Context(), task); err != nil {
		failErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "task": task})
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.store.FindTask(c.Request.Context(), c.Param("uid"))
	if err != nil {
		failErr(c, err)
		return
	}
	if task == nil {
		fail(c, http.StatusNotFound, "task not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task": task})
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	ctx := c.Request.Context()

	task, err := s.store.FindTask(ctx, c.Param("uid"))
	if err != nil {
		failErr(c, err)
		return
	}
	if task == nil {
		fail(c, http.StatusNotFound, "task not found")
		return
	}

	var req taskRequest
	if err := c.BindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	if req.Summary != nil {
		if strings.TrimSpace(*req.Summary) == "" {
			fail(c, http.StatusBadRequest, "summary cannot be empty")
			return
		}
		task.Summary = strings.TrimSpace(*req.Summary)
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.ParentUID != nil {
		task.ParentUID = *req.ParentUID
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if req.Due != nil {
		if *req.Due == "" {
			task.Due = nil
		} else {
			due, err := parseTimeParam(*req.Due)
			if err != nil {
				fail(c, http.StatusBadRequest, fmt.Sprintf("due: %v", err))
				return
			}
			task.Due = due
		}
	}
	if req.Tags != nil {
		task.Tags = req.Tags
	}
	if req.EstimatedDuration != nil {
		task.EstimatedDuration = *req.EstimatedDuration
	}
	if req.Completed != nil {
		task.SetCompleted(*req.Completed)
	}

	if err := task.Validate(); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	task.MarkLocalUpdate()
	task.Touch()
	if err := s.store.UpsertTask(ctx, task); err != nil {
		failErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "task": task})
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	ctx := c.Request.Context()

	task, err := s.store.FindTask(ctx, c.Param("uid"))
	if err != nil {
		failErr(c, err)
		return
	}
	if task == nil {
		fail(c, http.StatusNotFound, "task not found")
		return
	}

	task.MarkLocalDelete()
	task.Touch()
	if err := s.store.UpsertTask(ctx, task); err != nil {
		failErr(c, err)
		return
	}

	response := gin.H{"success": true, "uid": task.UID, "pending_delete": true}
	if v := c.Query("push"); v == "1" || strings.EqualFold(v, "true") {
		stats, err := s.engine.Push(ctx, task.CalendarURL)
		if err != nil {
			response["pushed"] = false
			response["push_error"] = err.Error()
		} else {
			response["pushed"] = true
			response["push"] = stats
		}
	}
	c.JSON(http.StatusOK, response)
}

// bulkRequest applies one action to many tasks.
type bulkRequest struct {
	Action   string   `json:"action"`
	UIDs     []string `json:"uids"`
	Priority int      `json:"priority"`
}

type bulkResult struct {
	UID   string `json:"uid"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleBulkTasks(c *gin.Context) {
	ctx := c.Request.Context()

	var req bulkRequest
	if err := c.BindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Action {
	case "complete", "incomplete", "delete", "set_priority":
	default:
		fail(c, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
		return
	}
	if len(req.UIDs) == 0 {
		fail(c, http.StatusBadRequest, "uids is required")
		return
	}

	results := make([]bulkResult, 0, len(req.UIDs))
	applied := 0
	for _, uid := range req.UIDs {
		task, err := s.store.FindTask(ctx, uid)
		if err != nil {
			results = append(results, bulkResult{UID: uid, Error: err.Error()})
			continue
		}
		if task == nil {
			results = append(results, bulkResult{UID: uid, Error: "task not found"})
			continue
		}

		switch req.Action {
		case "complete":
			task.SetCompleted(true)
			task.MarkLocalUpdate()
		case "incomplete":
			task.SetCompleted(false)
			task.MarkLocalUpdate()
		case "delete":
			task.MarkLocalDelete()
			task.Touch()
		case "set_priority":
			task.Priority = req.Priority
			if err := task.Validate(); err != nil {
				results = append(results, bulkResult{UID: uid, Error: err.Error()})
				continue
			}
			task.MarkLocalUpdate()
			task.Touch()
		}

		if err := s.store.UpsertTask(ctx, task); err != nil {
			results = append(results, bulkResult{UID: uid, Error: err.Error()})
			continue
		}
		applied++
		results = append(results, bulkResult{UID: uid, OK: true})
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"action":  req.Action,
		"applied": applied,
		"results": results,
	})
}

func (s *Server) handleCalendars(c *gin.Context) {
	calendars, offline, err := s.engine.Calendars(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"calendars": calendars,
		"count":     len(calendars),
		"offline":   offline,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	report, err := s.store.Stats(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": report})
}

func (s *Server) handleSyncLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	status := c.Query("status")

	entries, err := s.store.ListSyncLogs(c.Request.Context(), limit, offset, status)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"logs":    entries,
		"count":   len(entries),
	})
}

// parseTimeParam accepts RFC3339 instants and bare dates, which are read
// as midnight UTC.
func parseTimeParam(v string) (*time.Time, error) {
	if at, err := time.Parse(time.RFC3339, v); err == nil {
		utc := at.UTC()
		return &utc, nil
	}
	if at, err := time.Parse("2006-01-02", v); err == nil {
		utc := at.UTC()
		return &utc, nil
	}
	return nil, fmt.Errorf("invalid time %q, want RFC3339 or YYYY-MM-DD", v)
}
