package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	errGetLatest   = "failed to load snapshot"
	errGetHistory  = "failed to load history"
	errUPSNotFound = "ups not found"

	defaultHistoryLimit  = 120
	maxHistoryLimit      = 500
	defaultEventLimit    = 100
	minuteSeriesPerDay   = 1440
	recentAlertsInHealth = 20
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// parseLimit reads ?limit= with a default and cap.
func parseLimit(c *gin.Context, def, max int) int {
	limit := def
	if s := c.Query("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      List configured UPS devices
// @Tags         ups
// @Produce      json
// @Success      200  {array}   map[string]interface{}
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/ups [get]
func (h *Handler) listUPS(c *gin.Context) {
	list, err := h.services.ConfigManager.List(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to list ups", "ups_list_failed", err)
		return
	}
	out := make([]gin.H, 0, len(list))
	for _, u := range list {
		out = append(out, gin.H{"name": u.Name, "host": u.Host, "port": u.Port})
	}
	c.JSON(http.StatusOK, out)
}

// @Summary      Latest snapshot for a UPS
// @Tags         ups
// @Produce      json
// @Param        name  path  string  true  "UPS name"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/ups/{name} [get]
func (h *Handler) getLatest(c *gin.Context) {
	name := c.Param("name")
	snap, ok, err := h.services.Store.Latest(c.Request.Context(), name)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errGetLatest, "ups_latest_failed", err, "ups", name)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errUPSNotFound})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// @Summary      Snapshot history for a UPS
// @Description  Entries in chronological order; most recent `limit` when bounded.
// @Tags         ups
// @Produce      json
// @Param        name   path   string  true   "UPS name"
// @Param        limit  query  int     false  "Max entries (default 120, cap 500)"
// @Success      200  {object}  map[string]interface{}  "count, entries"
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/ups/{name}/history [get]
func (h *Handler) getHistory(c *gin.Context) {
	name := c.Param("name")
	limit := parseLimit(c, defaultHistoryLimit, maxHistoryLimit)

	entries, err := h.services.Store.History(c.Request.Context(), name, limit)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errGetHistory, "ups_history_failed", err, "ups", name)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "entries": entries})
}

// @Summary      Today's accumulated energy
// @Tags         ups
// @Produce      json
// @Param        name  path  string  true  "UPS name"
// @Success      200  {object}  map[string]interface{}  "kwh_today (null when nothing recorded)"
// @Router       /api/v1/ups/{name}/energy [get]
func (h *Handler) getEnergy(c *gin.Context) {
	name := c.Param("name")
	kwh, err := h.services.Store.EnergyTodayKWh(c.Request.Context(), name, time.Now().UTC())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load energy", "ups_energy_failed", err, "ups", name)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kwh_today": kwh})
}

// @Summary      Per-minute average wattage
// @Tags         ups
// @Produce      json
// @Param        name   path   string  true   "UPS name"
// @Param        limit  query  int     false  "Max buckets (default 1440)"
// @Success      200  {array}  models.MinuteAverage
// @Router       /api/v1/ups/{name}/watts_per_minute [get]
func (h *Handler) getMinuteWatts(c *gin.Context) {
	name := c.Param("name")
	limit := parseLimit(c, minuteSeriesPerDay, minuteSeriesPerDay)

	avgs, err := h.services.Store.MinuteAverages(c.Request.Context(), name, limit)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load minute averages", "ups_minutes_failed", err, "ups", name)
		return
	}
	c.JSON(http.StatusOK, avgs)
}

// @Summary      Recent status/transfer transitions
// @Tags         ups
// @Produce      json
// @Param        name  path  string  true  "UPS name"
// @Success      200  {array}  models.Transition
// @Router       /api/v1/ups/{name}/events [get]
func (h *Handler) getEvents(c *gin.Context) {
	name := c.Param("name")
	limit := parseLimit(c, defaultEventLimit, defaultEventLimit)

	trs, err := h.services.Store.Transitions(c.Request.Context(), name, limit)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load events", "ups_events_failed", err, "ups", name)
		return
	}
	c.JSON(http.StatusOK, trs)
}

// @Summary      Aggregated health indicators
// @Description  Recent alerts, voltage deviation stats and on-battery count for the last hour.
// @Tags         ups
// @Produce      json
// @Param        name  path  string  true  "UPS name"
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/ups/{name}/health [get]
func (h *Handler) getUPSHealth(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	alerts, err := h.services.Store.RecentAlerts(ctx, name, recentAlertsInHealth)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load health", "ups_health_failed", err, "ups", name)
		return
	}
	volts, err := h.services.Store.VoltageStats(ctx, name)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load health", "ups_health_failed", err, "ups", name)
		return
	}

	onBatt := 0
	trs, err := h.services.Store.Transitions(ctx, name, defaultEventLimit)
	if err == nil {
		cutoff := time.Now().UTC().Add(-time.Hour)
		for _, tr := range trs {
			if tr.Kind == "STATUS" && tr.OccurredAt.After(cutoff) && strings.Contains(tr.Detail, "ONBATT") {
				onBatt++
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts":            alerts,
		"voltage_deviation": volts,
		"onbatt_last_hour":  onBatt,
	})
}

// @Summary      Live protocol dump for a UPS
// @Description  Runs the protocol client once against the configured host/port.
// @Tags         ups
// @Produce      json
// @Param        name  path  string  true  "UPS name"
// @Success      200  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/v1/ups/{name}/debug [get]
func (h *Handler) debugStatus(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	cfg, ok, err := h.services.ConfigManager.Get(ctx, name)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load config", "ups_debug_failed", err, "ups", name)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errUPSNotFound})
		return
	}

	res := h.services.Poller.TestConnection(ctx, cfg.Host, cfg.Port, probeTimeout)
	if !res.Success {
		c.JSON(http.StatusBadGateway, gin.H{"error": res.Message})
		return
	}
	c.JSON(http.StatusOK, res.Fields)
}
