package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
	"github.com/akylbek/payment-system/fraud-engine/internal/service"
)

const maxAlertHours = 24 * 30

type AlertHandler struct {
	alerts *service.AlertEmitter
	now    func() time.Time
}

func NewAlertHandler(alerts *service.AlertEmitter) *AlertHandler {
	return &AlertHandler{alerts: alerts, now: time.Now}
}

func (h *AlertHandler) ListAlerts(c *gin.Context) {
	filter := models.AlertFilter{
		Type:     models.AlertType(c.Query("type")),
		Severity: models.Severity(c.Query("severity")),
	}

	limit, ok := intQuery(c, "limit", service.DefaultAlertLimit, 1, service.MaxAlertLimit)
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset", 0, 0, 1<<31-1)
	if !ok {
		return
	}
	filter.Limit, filter.Offset = limit, offset

	if c.Query("hours") != "" {
		hours, ok := intQuery(c, "hours", 0, 1, maxAlertHours)
		if !ok {
			return
		}
		filter.Since = h.now().UTC().Add(-time.Duration(hours) * time.Hour)
	}

	alerts, err := h.alerts.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(alerts),
		"limit":  limit,
		"offset": offset,
		"alerts": alerts,
	})
}

func (h *AlertHandler) ResolveAlert(c *gin.Context) {
	alert, err := h.alerts.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}
