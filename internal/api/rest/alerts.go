package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roof-guardian/monitoring-api/internal/alerting"
	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

func (h *Handlers) listAlertsHandler(c *gin.Context) {
	filter := telemetry.AlertFilter{
		Type:          telemetry.AlertType(c.Query("type")),
		Severity:      telemetry.Severity(c.Query("severity")),
		ComponentName: c.Query("component"),
		Acknowledged:  queryBool(c, "acknowledged"),
		Resolved:      queryBool(c, "resolved"),
		Limit:         queryInt(c, "limit"),
	}
	c.JSON(http.StatusOK, h.store.Alerts(filter))
}

func (h *Handlers) acknowledgeAlertHandler(c *gin.Context) {
	alert, err := h.store.AcknowledgeAlert(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Alert not found",
			Code:  "NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handlers) resolveAlertHandler(c *gin.Context) {
	alert, err := h.store.ResolveAlert(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Alert not found",
			Code:  "NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handlers) listRulesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Rules())
}

func (h *Handlers) addRuleHandler(c *gin.Context) {
	var rule alerting.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid alert rule",
			Code:  "BAD_REQUEST",
		})
		return
	}
	if err := h.engine.AddRule(rule); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_RULE",
		})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *Handlers) enableRuleHandler(c *gin.Context) {
	h.setRuleEnabled(c, true)
}

func (h *Handlers) disableRuleHandler(c *gin.Context) {
	h.setRuleEnabled(c, false)
}

func (h *Handlers) setRuleEnabled(c *gin.Context, enabled bool) {
	if err := h.engine.SetRuleEnabled(c.Param("id"), enabled); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Alert rule not found",
			Code:  "NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "enabled": enabled})
}

func (h *Handlers) removeRuleHandler(c *gin.Context) {
	if err := h.engine.RemoveRule(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Alert rule not found",
			Code:  "NOT_FOUND",
		})
		return
	}
	c.Status(http.StatusNoContent)
}
