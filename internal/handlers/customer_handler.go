package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/payment-system/fraud-engine/internal/service"
)

type CustomerHandler struct {
	orchestrator *service.Orchestrator
}

func NewCustomerHandler(orchestrator *service.Orchestrator) *CustomerHandler {
	return &CustomerHandler{orchestrator: orchestrator}
}

type createCustomerRequest struct {
	CustomerID string `json:"customer_id"`
	Email      string `json:"email"`
}

func (h *CustomerHandler) CreateCustomer(c *gin.Context) {
	var req createCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, "invalid request body: "+err.Error())
		return
	}
	view, err := h.orchestrator.RegisterCustomer(c.Request.Context(), req.CustomerID, req.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *CustomerHandler) GetRisk(c *gin.Context) {
	view, err := h.orchestrator.GetProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *CustomerHandler) Recalculate(c *gin.Context) {
	view, err := h.orchestrator.RecalculateProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
