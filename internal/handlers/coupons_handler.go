package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-coupon-issuance/internal/coupons"
	"github.com/imrishuroy/go-coupon-issuance/internal/issuance"
	"github.com/imrishuroy/go-coupon-issuance/internal/validation"
)

// RegisterCouponRoutes registers coupon administration routes.
func RegisterCouponRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	r.POST("/coupons", func(c *gin.Context) {
		var req validation.CreateCouponRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		in := coupons.CreateInput{
			Name:          req.Name,
			DiscountType:  req.DiscountType,
			DiscountValue: req.DiscountValue,
			Quantity:      req.Quantity,
		}
		if req.ValidFrom != nil {
			in.ValidFrom = *req.ValidFrom
		}
		if req.ValidUntil != nil {
			in.ValidUntil = *req.ValidUntil
		}

		coupon, err := cfg.Coupons.Create(c.Request.Context(), in)
		switch {
		case errors.Is(err, coupons.ErrInvalidCoupon):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_coupon", "detail": err.Error()})
			return
		case errors.Is(err, coupons.ErrCouponExists):
			c.JSON(http.StatusConflict, gin.H{"error": "coupon_exists"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "coupon_create_failed", "detail": err.Error()})
			return
		}
		c.Header("Location", "/coupons/"+coupon.ID)
		c.JSON(http.StatusCreated, coupon)
	})

	r.GET("/coupons/:couponId", func(c *gin.Context) {
		coupon, err := cfg.Coupons.Get(c.Request.Context(), c.Param("couponId"))
		if errors.Is(err, issuance.ErrCouponNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "coupon_not_found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "coupon_read_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, coupon)
	})
}
