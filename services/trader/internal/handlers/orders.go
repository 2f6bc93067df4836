package handlers

import (
	"net/http"
	"time"

	"github.com/K-crypto-trader/crpypto-trader/libs/httpmiddleware"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/service"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/validation"
	"github.com/gin-gonic/gin"
)

type createOrderRequest struct {
	Market string `json:"market"`
	Side   string `json:"side"`
	Volume string `json:"volume"`
	Price  string `json:"price"`
}

type orderItem struct {
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
	Market     string `json:"market"`
	Side       string `json:"side"`
	Volume     string `json:"volume"`
	Price      string `json:"price"`
	TotalPrice string `json:"total_price"`
	State      string `json:"state"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type listOrdersResponse struct {
	Orders []orderItem `json:"orders"`
}

func (h *Handler) CreateOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	parsed, errs := validation.ValidateOrderRequest(req.Market, req.Side, req.Volume, req.Price)
	if len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return
	}

	order, err := h.Service.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		UserID:        userID,
		Market:        parsed.Market,
		Side:          parsed.Side,
		Volume:        parsed.Volume,
		Price:         parsed.Price,
		CorrelationID: httpmiddleware.RequestIDFromContext(c),
	})
	if err != nil {
		h.writeDomainError(c, "create order", err, "NOT_FOUND")
		return
	}
	c.JSON(http.StatusCreated, orderToItem(order))
}

func (h *Handler) ListOrders(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	orders, err := h.Service.ListOrders(c.Request.Context(), userID)
	if err != nil {
		h.writeDomainError(c, "list orders", err, "NOT_FOUND")
		return
	}
	items := make([]orderItem, 0, len(orders))
	for _, order := range orders {
		items = append(items, orderToItem(order))
	}
	c.JSON(http.StatusOK, listOrdersResponse{Orders: items})
}

func (h *Handler) GetOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order id", nil)
		return
	}

	order, err := h.Service.GetOrder(c.Request.Context(), userID, orderID)
	if err != nil {
		h.writeDomainError(c, "get order", err, "ORDER_NOT_FOUND")
		return
	}
	c.JSON(http.StatusOK, orderToItem(order))
}

func (h *Handler) CancelOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order id", nil)
		return
	}

	order, err := h.Service.CancelOrder(c.Request.Context(), service.CancelOrderInput{
		UserID:        userID,
		OrderID:       orderID,
		CorrelationID: httpmiddleware.RequestIDFromContext(c),
	})
	if err != nil {
		h.writeDomainError(c, "cancel order", err, "ORDER_NOT_FOUND")
		return
	}
	c.JSON(http.StatusOK, orderToItem(order))
}

func orderToItem(order *domain.Order) orderItem {
	return orderItem{
		OrderID:    order.ID.String(),
		UserID:     order.UserID.String(),
		Market:     order.Market,
		Side:       string(order.Side),
		Volume:     order.Volume.String(),
		Price:      order.Price.String(),
		TotalPrice: order.TotalPrice().String(),
		State:      string(order.State),
		CreatedAt:  order.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:  order.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
