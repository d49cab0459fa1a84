package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
	"github.com/akylbek/payment-system/fraud-engine/internal/service"
	"github.com/akylbek/payment-system/fraud-engine/internal/telemetry"
)

const (
	defaultSuspiciousHours = 24
	maxSuspiciousHours     = 168
)

type TransactionHandler struct {
	orchestrator *service.Orchestrator
	now          func() time.Time
}

func NewTransactionHandler(orchestrator *service.Orchestrator) *TransactionHandler {
	return &TransactionHandler{orchestrator: orchestrator, now: time.Now}
}

func (h *TransactionHandler) CreateTransaction(c *gin.Context) {
	var req models.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		telemetry.Logger.Debug("Error decoding transaction request", zap.Error(err))
		validationError(c, "invalid request body: "+err.Error())
		return
	}

	tx, err := h.orchestrator.CreateTransaction(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	tx, err := h.orchestrator.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *TransactionHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, "invalid request body: "+err.Error())
		return
	}
	status, err := models.ParseTransactionStatus(req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	tx, err := h.orchestrator.UpdateStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// ListSuspicious accepts either an RFC3339 from/to range or an hours
// lookback ending now.
func (h *TransactionHandler) ListSuspicious(c *gin.Context) {
	to := h.now().UTC()
	var from time.Time

	if fromParam, toParam := c.Query("from"), c.Query("to"); fromParam != "" || toParam != "" {
		var err error
		if fromParam == "" {
			validationError(c, "'from' is required when 'to' is set")
			return
		}
		if from, err = time.Parse(time.RFC3339, fromParam); err != nil {
			validationError(c, "'from' must be an RFC3339 timestamp")
			return
		}
		if toParam != "" {
			if to, err = time.Parse(time.RFC3339, toParam); err != nil {
				validationError(c, "'to' must be an RFC3339 timestamp")
				return
			}
		}
	} else {
		hours, ok := intQuery(c, "hours", defaultSuspiciousHours, 1, maxSuspiciousHours)
		if !ok {
			return
		}
		from = to.Add(-time.Duration(hours) * time.Hour)
	}

	txs, err := h.orchestrator.ListSuspicious(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	if txs == nil {
		txs = []*models.Transaction{}
	}
	limit := h.orchestrator.SuspiciousLimit()
	c.JSON(http.StatusOK, gin.H{
		"from":         from,
		"to":           to,
		"count":        len(txs),
		"limit":        limit,
		"truncated":    len(txs) >= limit,
		"transactions": txs,
	})
}

// intQuery parses an optional integer query parameter within [lo, hi]. It
// writes the validation error itself and reports false on failure.
func intQuery(c *gin.Context, name string, def, lo, hi int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		validationError(c, "'"+name+"' must be an integer between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
		return 0, false
	}
	return v, true
}
