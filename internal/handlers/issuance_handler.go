package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-coupon-issuance/internal/logger"
	"github.com/imrishuroy/go-coupon-issuance/internal/queue"
	"github.com/imrishuroy/go-coupon-issuance/internal/state"
	"github.com/imrishuroy/go-coupon-issuance/internal/validation"
)

// RegisterIssuanceRoutes registers the intake and status polling routes.
func RegisterIssuanceRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	log := logger.Component(cfg.Logger, "http")

	r.POST("/issuances", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.IssueCouponRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		idempKey := c.GetHeader("Idempotency-Key")
		requestID, created, err := cfg.Intake.EnqueueWithKey(ctx, idempKey, req.UserID, req.CouponID)
		if errors.Is(err, queue.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
			return
		}
		if err != nil {
			log.Error().Err(err).Str("user_id", req.UserID).Str("coupon_id", req.CouponID).Msg("enqueue failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "enqueue_failed", "detail": err.Error()})
			return
		}

		c.Header("Location", fmt.Sprintf("/issuances/%s", requestID))
		if !created {
			// repeated Idempotency-Key: report where the original request is now
			status := state.StatusPending
			if st, err := cfg.States.Get(ctx, requestID); err == nil {
				status = st.Status
			}
			c.JSON(http.StatusOK, gin.H{"request_id": requestID, "status": status})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"request_id": requestID, "status": state.StatusPending})
	})

	r.GET("/issuances/:requestId", func(c *gin.Context) {
		st, err := cfg.States.Get(c.Request.Context(), c.Param("requestId"))
		if err != nil {
			log.Error().Err(err).Str("request_id", c.Param("requestId")).Msg("read state failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "state_read_failed", "detail": err.Error()})
			return
		}
		if st.Status == state.StatusNotFound {
			c.JSON(http.StatusNotFound, st)
			return
		}
		c.JSON(http.StatusOK, st)
	})
}
