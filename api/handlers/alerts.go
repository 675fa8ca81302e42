package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/michalprusek/spheroseg-sub008/internal/metrics"
	"github.com/michalprusek/spheroseg-sub008/pkg/models"
	"github.com/michalprusek/spheroseg-sub008/pkg/validation"
)

type AlertsHandler struct {
	svc *metrics.Service
}

func NewAlertsHandler(svc *metrics.Service) *AlertsHandler {
	return &AlertsHandler{svc: svc}
}

type acknowledgeRequest struct {
	User string `json:"user" binding:"required"`
}

// List godoc
// @Summary List active alerts
// @Description Get unacknowledged alerts, optionally filtered by metric and severity
// @Tags Alerts
// @Produce json
// @Param metric query string false "Filter by metric name"
// @Param severity query string false "Filter by severity (warning|critical)"
// @Success 200 {object} map[string]interface{} "Active alerts"
// @Failure 400 {object} map[string]string "Unknown severity"
// @Router /api/v1/alerts [get]
func (h *AlertsHandler) List(c *gin.Context) {
	metric := c.Query("metric")

	var severity models.AlertSeverity
	switch s := c.Query("severity"); s {
	case "":
	case string(models.SeverityWarning):
		severity = models.SeverityWarning
	case string(models.SeverityCritical):
		severity = models.SeverityCritical
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "severity must be warning or critical"})
		return
	}

	alerts, err := h.svc.ActiveAlerts(c.Request.Context(), metric, severity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  alerts,
		"count": len(alerts),
	})
}

// Acknowledge godoc
// @Summary Acknowledge alert
// @Description Mark an alert as acknowledged by an operator
// @Tags Alerts
// @Accept json
// @Produce json
// @Param id path string true "Alert ID"
// @Success 200 {object} models.Alert "Acknowledged alert"
// @Failure 400 {object} map[string]string "Missing user"
// @Failure 404 {object} map[string]string "Alert not found"
// @Router /api/v1/alerts/{id}/ack [post]
func (h *AlertsHandler) Acknowledge(c *gin.Context) {
	id := c.Param("id")

	var req acknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is required"})
		return
	}
	if err := validation.ValidateOperator(req.User); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alert, err := h.svc.AcknowledgeAlert(c.Request.Context(), id, validation.SanitizeString(req.User))
	if err != nil {
		if errors.Is(err, metrics.ErrAlertNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to acknowledge alert"})
		return
	}

	c.JSON(http.StatusOK, alert)
}
