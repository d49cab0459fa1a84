package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
	"github.com/akylbek/payment-system/fraud-engine/internal/telemetry"
)

const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeNotFound      = "RESOURCE_NOT_FOUND"
	CodeBusinessLogic = "BUSINESS_LOGIC_ERROR"
	CodeDatabase      = "DATABASE_ERROR"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorBody{
		Code:    code,
		Message: message,
		Path:    c.Request.URL.Path,
	}})
}

func validationError(c *gin.Context, message string) {
	abortWithError(c, http.StatusUnprocessableEntity, CodeValidation, message)
}

// respondError maps a service error onto the error envelope.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		validationError(c, err.Error())
	case errors.Is(err, models.ErrCustomerNotFound),
		errors.Is(err, models.ErrTransactionNotFound),
		errors.Is(err, models.ErrAlertNotFound):
		abortWithError(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidTransition):
		abortWithError(c, http.StatusConflict, CodeBusinessLogic, err.Error())
	case errors.Is(err, models.ErrLockTimeout):
		abortWithError(c, http.StatusConflict, CodeBusinessLogic, "customer is busy, retry the request")
	case errors.Is(err, models.ErrStorageUnavailable):
		telemetry.Logger.Error("Storage unavailable", zap.String("path", c.Request.URL.Path), zap.Error(err))
		abortWithError(c, http.StatusServiceUnavailable, CodeDatabase, "storage is temporarily unavailable")
	default:
		telemetry.Logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, CodeDatabase, "internal error")
	}
}
