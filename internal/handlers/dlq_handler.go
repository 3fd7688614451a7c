package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-coupon-issuance/internal/dlq"
	"github.com/imrishuroy/go-coupon-issuance/internal/logger"
	"github.com/imrishuroy/go-coupon-issuance/internal/state"
)

// RegisterAdminRoutes registers the dead letter and health routes.
func RegisterAdminRoutes(r *gin.Engine, cfg HandlerConfig) {
	log := logger.Component(cfg.Logger, "http")
	admin := r.Group("/admin")

	admin.GET("/dlq", func(c *gin.Context) {
		entries, err := cfg.DLQ.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "dlq_list_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
	})

	admin.POST("/dlq/:requestId/requeue", func(c *gin.Context) {
		id := c.Param("requestId")
		if err := cfg.DLQ.Requeue(c.Request.Context(), id); err != nil {
			writeDLQError(c, err)
			return
		}
		log.Info().Str("request_id", id).Msg("dlq entry requeued by operator")
		c.JSON(http.StatusOK, gin.H{"request_id": id, "status": state.StatusRetry})
	})

	admin.DELETE("/dlq/:requestId", func(c *gin.Context) {
		id := c.Param("requestId")
		if err := cfg.DLQ.Remove(c.Request.Context(), id); err != nil {
			writeDLQError(c, err)
			return
		}
		log.Info().Str("request_id", id).Msg("dlq entry removed by operator")
		c.Status(http.StatusNoContent)
	})

	admin.GET("/health", func(c *gin.Context) {
		h, err := cfg.DLQ.Health(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "health_check_failed", "detail": err.Error()})
			return
		}
		code := http.StatusOK
		if !h.IsHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, h)
	})
}

func writeDLQError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dlq.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "dlq_entry_not_found"})
	case errors.Is(err, dlq.ErrUnrecoverable):
		c.JSON(http.StatusConflict, gin.H{"error": "dlq_entry_unrecoverable", "detail": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dlq_operation_failed", "detail": err.Error()})
	}
}
