package handlers

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/michalprusek/spheroseg-sub008/internal/metrics"
	"github.com/michalprusek/spheroseg-sub008/internal/store"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
)

type MetricsHandler struct {
	svc *metrics.Service
}

func NewMetricsHandler(svc *metrics.Service) *MetricsHandler {
	return &MetricsHandler{svc: svc}
}

// List godoc
// @Summary List metric definitions
// @Description Get all registered metric definitions
// @Tags Metrics
// @Produce json
// @Success 200 {object} map[string]interface{} "List of definitions"
// @Router /api/v1/metrics [get]
func (h *MetricsHandler) List(c *gin.Context) {
	defs := h.svc.Definitions()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	c.JSON(http.StatusOK, gin.H{
		"data":  defs,
		"count": len(defs),
	})
}

// Get godoc
// @Summary Get metric
// @Description Get a metric's definition, latest value and rolling statistics
// @Tags Metrics
// @Produce json
// @Param name path string true "Metric name"
// @Success 200 {object} map[string]interface{} "Metric snapshot"
// @Failure 404 {object} map[string]string "Metric not registered"
// @Router /api/v1/metrics/{name} [get]
func (h *MetricsHandler) Get(c *gin.Context) {
	name := c.Param("name")
	ctx := c.Request.Context()

	def, err := h.svc.Definition(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metric not registered"})
		return
	}

	// A registered metric may not have been collected yet; current and
	// stats are null in that case rather than an error.
	var current *models.MetricValue
	if v, err := h.svc.Value(ctx, name); err == nil {
		current = v
	} else if !errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch value"})
		return
	}

	var stats *models.MetricStats
	if s, err := h.svc.Stats(ctx, name); err == nil {
		stats = s
	} else if !errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"definition": def,
		"current":    current,
		"stats":      stats,
	})
}

// History godoc
// @Summary Metric history
// @Description Get collected values in a time window, oldest first
// @Tags Metrics
// @Produce json
// @Param name path string true "Metric name"
// @Param from query string false "Window start (RFC3339)"
// @Param to query string false "Window end (RFC3339)"
// @Param range query string false "Relative window, e.g. 24h"
// @Success 200 {object} map[string]interface{} "Values in window"
// @Failure 404 {object} map[string]string "Metric not registered"
// @Router /api/v1/metrics/{name}/history [get]
func (h *MetricsHandler) History(c *gin.Context) {
	name := c.Param("name")

	if _, err := h.svc.Definition(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metric not registered"})
		return
	}

	from, to := parseTimeRange(c)

	values, err := h.svc.History(c.Request.Context(), name, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"metric": name,
		"from":   from,
		"to":     to,
		"data":   values,
		"count":  len(values),
	})
}

// Collect godoc
// @Summary Collect now
// @Description Run one collection cycle for a metric outside its schedule
// @Tags Metrics
// @Produce json
// @Param name path string true "Metric name"
// @Success 200 {object} models.MetricValue "Collected value"
// @Failure 404 {object} map[string]string "Metric not registered"
// @Failure 502 {object} map[string]string "Source unavailable"
// @Router /api/v1/metrics/{name}/collect [post]
func (h *MetricsHandler) Collect(c *gin.Context) {
	name := c.Param("name")

	value, err := h.svc.CollectMetric(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, metrics.ErrUnregisteredMetric) {
			c.JSON(http.StatusNotFound, gin.H{"error": "metric not registered"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, value)
}
