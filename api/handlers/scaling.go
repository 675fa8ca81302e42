package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/michalprusek/spheroseg-sub008/internal/autoscaler"
	"github.com/michalprusek/spheroseg-sub008/pkg/config"
	"github.com/michalprusek/spheroseg-sub008/pkg/validation"
)

type ScalingHandler struct {
	scaler *autoscaler.AutoScaler
	config *config.APIConfig
}

func NewScalingHandler(scaler *autoscaler.AutoScaler, cfg *config.APIConfig) *ScalingHandler {
	return &ScalingHandler{scaler: scaler, config: cfg}
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *ScalingHandler) getDefaultLimit() int {
	if h.config != nil && h.config.DefaultLimit > 0 {
		return h.config.DefaultLimit
	}
	return 100
}

func (h *ScalingHandler) getMaxLimit() int {
	if h.config != nil && h.config.MaxLimit > 0 {
		return h.config.MaxLimit
	}
	return 1000
}

// ListPolicies godoc
// @Summary List scaling policies
// @Description Get all registered scaling policies
// @Tags Scaling
// @Produce json
// @Success 200 {object} map[string]interface{} "Policies"
// @Router /api/v1/scaling/policies [get]
func (h *ScalingHandler) ListPolicies(c *gin.Context) {
	policies := h.scaler.Policies()

	c.JSON(http.StatusOK, gin.H{
		"data":  policies,
		"count": len(policies),
	})
}

// GetPolicy godoc
// @Summary Get scaling policy
// @Description Get a single scaling policy by name
// @Tags Scaling
// @Produce json
// @Param name path string true "Policy name"
// @Success 200 {object} models.ScalingPolicy "Policy"
// @Failure 404 {object} map[string]string "Policy not registered"
// @Router /api/v1/scaling/policies/{name} [get]
func (h *ScalingHandler) GetPolicy(c *gin.Context) {
	policy, err := h.scaler.Policy(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "policy not registered"})
		return
	}

	c.JSON(http.StatusOK, policy)
}

// SetPolicyEnabled godoc
// @Summary Enable or disable a policy
// @Description Toggle evaluation of a single scaling policy
// @Tags Scaling
// @Accept json
// @Produce json
// @Param name path string true "Policy name"
// @Success 200 {object} map[string]interface{} "New state"
// @Failure 400 {object} map[string]string "Missing enabled flag"
// @Failure 404 {object} map[string]string "Policy not registered"
// @Router /api/v1/scaling/policies/{name}/enabled [put]
func (h *ScalingHandler) SetPolicyEnabled(c *gin.Context) {
	name := c.Param("name")

	var req enabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}

	if err := h.scaler.SetPolicyEnabled(name, *req.Enabled); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "policy not registered"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"policy":  name,
		"enabled": *req.Enabled,
	})
}

// Status godoc
// @Summary Scaler status
// @Description Report whether scaling execution is globally enabled
// @Tags Scaling
// @Produce json
// @Success 200 {object} map[string]interface{} "Status"
// @Router /api/v1/scaling/enabled [get]
func (h *ScalingHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled": h.scaler.Enabled()})
}

// SetEnabled godoc
// @Summary Scaler kill switch
// @Description Globally enable or disable scaling evaluation and execution
// @Tags Scaling
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "New state"
// @Failure 400 {object} map[string]string "Missing enabled flag"
// @Router /api/v1/scaling/enabled [put]
func (h *ScalingHandler) SetEnabled(c *gin.Context) {
	var req enabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}

	h.scaler.SetEnabled(*req.Enabled)

	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

// Events godoc
// @Summary Scaling events
// @Description Get executed scaling actions for a service, newest first
// @Tags Scaling
// @Produce json
// @Param service path string true "Service name"
// @Param limit query int false "Max events"
// @Success 200 {object} map[string]interface{} "Events"
// @Router /api/v1/scaling/{service}/events [get]
func (h *ScalingHandler) Events(c *gin.Context) {
	service := c.Param("service")
	if err := validation.ValidateName(service); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := parseLimit(c, h.getDefaultLimit(), h.getMaxLimit())

	events, err := h.scaler.ScalingHistory(c.Request.Context(), service, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"service": service,
		"data":    events,
		"count":   len(events),
	})
}

// Decisions godoc
// @Summary Scaling decisions
// @Description Get the decision audit trail for a service, newest first
// @Tags Scaling
// @Produce json
// @Param service path string true "Service name"
// @Param limit query int false "Max decisions"
// @Success 200 {object} map[string]interface{} "Decisions"
// @Router /api/v1/scaling/{service}/decisions [get]
func (h *ScalingHandler) Decisions(c *gin.Context) {
	service := c.Param("service")
	if err := validation.ValidateName(service); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := parseLimit(c, h.getDefaultLimit(), h.getMaxLimit())

	decisions, err := h.scaler.Decisions(c.Request.Context(), service, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch decisions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"service": service,
		"data":    decisions,
		"count":   len(decisions),
	})
}

// Evaluate godoc
// @Summary Evaluate policy now
// @Description Run one evaluation cycle for a policy outside its schedule
// @Tags Scaling
// @Produce json
// @Param name path string true "Policy name"
// @Success 200 {object} map[string]interface{} "Decision, or skipped"
// @Failure 404 {object} map[string]string "Policy not registered"
// @Failure 502 {object} map[string]interface{} "Execution failed"
// @Router /api/v1/scaling/policies/{name}/evaluate [post]
func (h *ScalingHandler) Evaluate(c *gin.Context) {
	name := c.Param("name")

	decision, err := h.scaler.EvaluatePolicy(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, autoscaler.ErrUnregisteredPolicy) {
			c.JSON(http.StatusNotFound, gin.H{"error": "policy not registered"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    err.Error(),
			"decision": decision,
		})
		return
	}

	// A nil decision means the cycle was skipped: the policy is disabled
	// or its service is cooling down.
	if decision == nil {
		c.JSON(http.StatusOK, gin.H{"skipped": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{"decision": decision})
}
