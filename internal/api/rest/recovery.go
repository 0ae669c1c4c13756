package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roof-guardian/monitoring-api/internal/recovery"
)

func (h *Handlers) listComponentsHandler(c *gin.Context) {
	out := make([]ComponentActions, 0)
	for _, name := range h.controller.Components() {
		actions, ok := h.controller.Actions(name)
		if !ok {
			continue
		}
		out = append(out, ComponentActions{Name: name, Actions: actions})
	}
	c.JSON(http.StatusOK, out)
}

// registerComponentHandler registers a component with the recovery
// controller and starts its periodic health assessment.
func (h *Handlers) registerComponentHandler(c *gin.Context) {
	var req RegisterComponentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid component registration",
			Code:  "BAD_REQUEST",
		})
		return
	}

	if err := h.controller.RegisterComponent(req.Name, req.Actions); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_ACTION",
		})
		return
	}
	h.assessor.RegisterComponent(req.Name)

	actions, _ := h.controller.Actions(req.Name)
	c.JSON(http.StatusCreated, ComponentActions{Name: req.Name, Actions: actions})
}

func (h *Handlers) unregisterComponentHandler(c *gin.Context) {
	name := c.Param("name")
	h.controller.UnregisterComponent(name)
	h.assessor.UnregisterComponent(name)
	c.Status(http.StatusNoContent)
}

// triggerRecoveryHandler is the manual override. An empty action query
// picks the highest-priority enabled action; cooldowns still apply.
func (h *Handlers) triggerRecoveryHandler(c *gin.Context) {
	name := c.Param("name")
	triggered := h.controller.TriggerRecovery(name, c.Query("action"))
	status := http.StatusAccepted
	if !triggered {
		status = http.StatusOK // no-op, nothing eligible
	}
	c.JSON(status, TriggerResponse{Component: name, Triggered: triggered})
}

func (h *Handlers) listAttemptsHandler(c *gin.Context) {
	filter := recovery.AttemptFilter{
		ComponentName: c.Query("component"),
		Limit:         queryInt(c, "limit"),
	}
	c.JSON(http.StatusOK, h.controller.Attempts(filter))
}
