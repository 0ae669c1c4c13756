package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) listHealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.HealthAll())
}

func (h *Handlers) getHealthHandler(c *gin.Context) {
	check, ok := h.store.Health(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "No health record for component",
			Code:  "NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, check)
}

// checkComponentHandler runs an on-demand assessment between timer ticks.
func (h *Handlers) checkComponentHandler(c *gin.Context) {
	check := h.assessor.CheckComponent(c.Param("name"))
	c.JSON(http.StatusOK, check)
}
