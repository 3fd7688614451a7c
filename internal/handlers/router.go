package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the engine with every route registered. Coupon routes are
// skipped when cfg.Coupons is nil.
func NewRouter(cfg HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	RegisterIssuanceRoutes(r, cfg)
	RegisterAdminRoutes(r, cfg)
	if cfg.Coupons != nil {
		RegisterCouponRoutes(r, cfg)
	}
	return r
}
