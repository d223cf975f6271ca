package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"choch-scanner/internal/database"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"clients": s.hub.ClientCount(),
	}

	if s.repo != nil {
		if err := s.repo.HealthCheck(c.Request.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	} else {
		status["database"] = "disabled"
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) handleRecentAlerts(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}

	limit := clampLimit(c.Query("limit"))
	offset := parseOffset(c.Query("offset"))

	alerts, err := s.repo.RecentAlerts(c.Request.Context(), limit, offset)
	if err != nil {
		s.logger.Error("Failed to fetch alerts", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleFilterAlerts(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}

	filter := database.AlertFilter{
		Symbols:     splitParam(c.Query("symbols")),
		Timeframes:  splitParam(c.Query("timeframes")),
		Directions:  splitParam(c.Query("directions")),
		SignalTypes: splitParam(c.Query("signal_types")),
		Limit:       clampLimit(c.Query("limit")),
		Offset:      parseOffset(c.Query("offset")),
	}

	if v := c.Query("start_date"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date"})
			return
		}
		filter.StartDate = &t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date"})
			return
		}
		filter.EndDate = &t
	}

	alerts, err := s.repo.FilterAlerts(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to filter alerts", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleStats(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}

	stats, err := s.repo.Stats(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to compute alert stats", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleFilterValues(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}

	values, err := s.repo.UniqueValues(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to fetch filter values", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch filter values"})
		return
	}

	c.JSON(http.StatusOK, values)
}

func (s *Server) handleArchive(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}

	limit := clampLimit(c.Query("limit"))
	offset := parseOffset(c.Query("offset"))

	alerts, err := s.repo.RecentArchived(c.Request.Context(), limit, offset)
	if err != nil {
		s.logger.Error("Failed to fetch archived alerts", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch archived alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// clampLimit parses a limit query value, defaulting and capping it.
func clampLimit(raw string) int {
	limit := defaultAlertLimit
	if raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}
	return limit
}

func parseOffset(raw string) int {
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// splitParam turns a comma-separated query value into a trimmed slice.
func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDate accepts a date or an RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
