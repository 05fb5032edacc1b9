package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/voucher-seckill/internal/cache"
	"github.com/rl1809/voucher-seckill/internal/core/domain"
	"github.com/rl1809/voucher-seckill/internal/core/service"
)

// Seckiller admits purchase attempts.
type Seckiller interface {
	Seckill(ctx context.Context, voucherID int64) (int64, error)
	Submit(ctx context.Context, voucherID, userID int64) (int64, error)
}

type ShopReader interface {
	GetShop(ctx context.Context, id int64) (*domain.Shop, error)
	UpdateShop(ctx context.Context, shop domain.Shop) error
	WarmShop(ctx context.Context, id int64) error
	ListShopTypes(ctx context.Context) ([]domain.ShopType, error)
}

type VoucherCreator interface {
	AddSeckillVoucher(ctx context.Context, v domain.SeckillVoucher) (int64, error)
}

// Result is the response envelope of every API route.
type Result struct {
	Success  bool        `json:"success"`
	ErrorMsg string      `json:"errorMsg,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

type HTTPHandler struct {
	seckill  Seckiller
	shops    ShopReader
	vouchers VoucherCreator
	log      *logrus.Logger
}

func NewHTTPHandler(seckill Seckiller, shops ShopReader, vouchers VoucherCreator, log *logrus.Logger) *HTTPHandler {
	return &HTTPHandler{seckill: seckill, shops: shops, vouchers: vouchers, log: log}
}

// Register mounts the API routes. The seckill route runs behind requireUser and limit.
func (h *HTTPHandler) Register(r *gin.Engine, requireUser, limit gin.HandlerFunc) {
	r.GET("/health", h.HealthCheck)

	api := r.Group("/api")
	api.POST("/voucher-order/seckill/:id", requireUser, limit, h.Seckill)
	api.POST("/voucher/seckill", h.AddSeckillVoucher)
	api.GET("/shop/:id", h.GetShop)
	api.PUT("/shop", h.UpdateShop)
	api.POST("/shop/:id/warm", h.WarmShop)
	api.GET("/shop-type/list", h.ListShopTypes)
}

func (h *HTTPHandler) Seckill(c *gin.Context) {
	voucherID, ok := pathID(c)
	if !ok {
		return
	}

	orderID, err := h.seckill.Seckill(c.Request.Context(), voucherID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Result{Success: true, Data: orderID})
}

func (h *HTTPHandler) AddSeckillVoucher(c *gin.Context) {
	var v domain.SeckillVoucher
	if err := c.ShouldBindJSON(&v); err != nil {
		c.JSON(http.StatusBadRequest, Result{ErrorMsg: "invalid request body"})
		return
	}

	id, err := h.vouchers.AddSeckillVoucher(c.Request.Context(), v)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Result{Success: true, Data: id})
}

func (h *HTTPHandler) GetShop(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	shop, err := h.shops.GetShop(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Result{Success: true, Data: shop})
}

func (h *HTTPHandler) UpdateShop(c *gin.Context) {
	var shop domain.Shop
	if err := c.ShouldBindJSON(&shop); err != nil {
		c.JSON(http.StatusBadRequest, Result{ErrorMsg: "invalid request body"})
		return
	}

	if err := h.shops.UpdateShop(c.Request.Context(), shop); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Result{Success: true})
}

func (h *HTTPHandler) WarmShop(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.shops.WarmShop(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Result{Success: true})
}

func (h *HTTPHandler) ListShopTypes(c *gin.Context) {
	types, err := h.shops.ListShopTypes(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Result{Success: true, Data: types})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) fail(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).Errorf("[HTTP] %s %s failed", c.Request.Method, c.FullPath())
	}
	c.JSON(status, Result{ErrorMsg: msg})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, Result{ErrorMsg: "invalid id"})
		return 0, false
	}
	return id, true
}

// statusFor maps an error to its HTTP status and client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrSoldOut):
		return http.StatusGone, "sold out"
	case errors.Is(err, domain.ErrDuplicateOrder):
		return http.StatusConflict, "duplicate order"
	case errors.Is(err, domain.ErrSeckillNotStarted):
		return http.StatusForbidden, "seckill has not started"
	case errors.Is(err, domain.ErrSeckillEnded):
		return http.StatusForbidden, "seckill has ended"
	case errors.Is(err, domain.ErrVoucherNotFound):
		return http.StatusNotFound, "voucher not found"
	case errors.Is(err, domain.ErrShopNotFound):
		return http.StatusNotFound, "shop not found"
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "not logged in"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid argument"
	case errors.Is(err, cache.ErrUnavailable), errors.Is(err, cache.ErrLockBusy):
		return http.StatusServiceUnavailable, "service busy, try again later"
	}
	return http.StatusInternalServerError, "internal error"
}
