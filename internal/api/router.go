package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/payment-system/fraud-engine/internal/handlers"
	"github.com/akylbek/payment-system/fraud-engine/internal/metrics"
	"github.com/akylbek/payment-system/fraud-engine/internal/service"
	"github.com/akylbek/payment-system/fraud-engine/internal/telemetry"
)

const ServiceName = "fraud-engine"

func NewRouter(orchestrator *service.Orchestrator, alerts *service.AlertEmitter) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())
	r.Use(metrics.Middleware())

	// Prometheus metrics
	r.GET("/metrics", metrics.Handler())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": ServiceName})
	})

	v1 := r.Group("/api/v1")

	transactionHandler := handlers.NewTransactionHandler(orchestrator)
	v1.POST("/transactions", transactionHandler.CreateTransaction)
	v1.GET("/transactions/suspicious", transactionHandler.ListSuspicious)
	v1.GET("/transactions/:id", transactionHandler.GetTransaction)
	v1.PATCH("/transactions/:id/status", transactionHandler.UpdateStatus)

	customerHandler := handlers.NewCustomerHandler(orchestrator)
	v1.POST("/customers", customerHandler.CreateCustomer)
	v1.GET("/customers/:id/risk", customerHandler.GetRisk)
	v1.POST("/customers/:id/recalculate", customerHandler.Recalculate)

	alertHandler := handlers.NewAlertHandler(alerts)
	v1.GET("/alerts", alertHandler.ListAlerts)
	v1.POST("/alerts/:id/resolve", alertHandler.ResolveAlert)

	return r
}
