package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

// reportErrorHandler ingests one error report. The store fills id and
// timestamp when the reporter leaves them empty.
func (h *Handlers) reportErrorHandler(c *gin.Context) {
	var report telemetry.ErrorReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid error report",
			Code:  "BAD_REQUEST",
		})
		return
	}
	if report.ComponentName == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "componentName is required",
			Code:  "BAD_REQUEST",
		})
		return
	}

	h.store.ReportError(report)
	c.JSON(http.StatusAccepted, AcceptedResponse{})
}

// reportMetricHandler ingests one performance metric.
func (h *Handlers) reportMetricHandler(c *gin.Context) {
	var metric telemetry.PerformanceMetric
	if err := c.ShouldBindJSON(&metric); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid performance metric",
			Code:  "BAD_REQUEST",
		})
		return
	}
	if metric.ComponentName == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "componentName is required",
			Code:  "BAD_REQUEST",
		})
		return
	}

	h.store.ReportMetric(metric)
	c.JSON(http.StatusAccepted, AcceptedResponse{})
}

func (h *Handlers) listErrorsHandler(c *gin.Context) {
	filter := telemetry.ErrorFilter{
		ComponentName: c.Query("component"),
		Level:         telemetry.ErrorLevel(c.Query("level")),
		Limit:         queryInt(c, "limit"),
	}
	c.JSON(http.StatusOK, h.store.Errors(filter))
}

func (h *Handlers) listMetricsHandler(c *gin.Context) {
	filter := telemetry.MetricFilter{
		ComponentName: c.Query("component"),
		MetricType:    telemetry.MetricType(c.Query("type")),
		Limit:         queryInt(c, "limit"),
	}
	c.JSON(http.StatusOK, h.store.Metrics(filter))
}

func queryInt(c *gin.Context, key string) int {
	if v := c.Query(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return 0
}

func queryBool(c *gin.Context, key string) *bool {
	if v := c.Query(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return &b
		}
	}
	return nil
}
