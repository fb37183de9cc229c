package controller

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ledger-api/internal/config"
	"ledger-api/internal/middleware"
)

// SetupRouter wires the HTTP surface: ledger and dispute endpoints plus the
// operational probes. health reports backing-store health for the probe.
func SetupRouter(ledgerCtrl *LedgerController, disputeCtrl *DisputeController, health func() error, cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())

	if cfg.Monitoring.EnableHealthCheck {
		router.GET(cfg.Monitoring.HealthCheckPath, func(c *gin.Context) {
			status := "healthy"
			code := http.StatusOK
			if err := health(); err != nil {
				status = "unhealthy"
				code = http.StatusServiceUnavailable
			}
			c.JSON(code, gin.H{
				"status":    status,
				"service":   "ledger-api",
				"timestamp": time.Now().UTC(),
			})
		})
	}

	if cfg.Monitoring.EnableMetrics {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api")
	{
		api.POST("/accounts", ledgerCtrl.CreateAccount)
		api.GET("/accounts/:userId", ledgerCtrl.GetAccount)
		api.POST("/accounts/:userId/mutations", ledgerCtrl.ApplyMutation)
		api.GET("/accounts/:userId/ledger", ledgerCtrl.GetHistory)

		api.POST("/disputes", disputeCtrl.Report)
		api.GET("/disputes", disputeCtrl.ListOpen)
		api.POST("/disputes/:disputeId/investigate", disputeCtrl.Investigate)
		api.POST("/disputes/:disputeId/resolve", disputeCtrl.Resolve)

		api.POST("/ledger/:entryId/verify", disputeCtrl.VerifyEntry)
	}

	return router
}
