package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig 路由配置
type RouterConfig struct {
	ServiceName string
}

// NewRouter 组装 HTTP 路由
func NewRouter(
	cfg RouterConfig,
	webhookHandler *WebhookHandler,
	paymentHandler *PaymentHandler,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": cfg.ServiceName,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/payments", webhookHandler.HandlePaymentWebhook)

	v1 := router.Group("/v1")
	{
		v1.GET("/payments/:external_id", paymentHandler.GetPayment)
		v1.POST("/payments/:external_id/retry", paymentHandler.RetryPayment)
		v1.GET("/loans/:loan_id/payments", paymentHandler.ListLoanPayments)
		v1.GET("/loans/:loan_id/settlement", paymentHandler.GetLoanSettlement)
	}

	return router
}
