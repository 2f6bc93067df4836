package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/K-crypto-trader/crpypto-trader/libs/auth"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/service"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/ticker"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/validation"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type OrderService interface {
	CreateOrder(ctx context.Context, input service.CreateOrderInput) (*domain.Order, error)
	CancelOrder(ctx context.Context, input service.CancelOrderInput) (*domain.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error)
	GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*domain.Order, error)
	GetAccount(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

type TickerReader interface {
	Get(market string) (ticker.Ticker, bool)
	All() []ticker.Ticker
}

type Handler struct {
	Service OrderService
	Tickers TickerReader
	Logger  *slog.Logger
}

type errorResponse struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

func New(service OrderService, tickers TickerReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: service, Tickers: tickers, Logger: logger}
}

// Register mounts the API behind JWT auth. placement, when set, runs before
// order creation only.
func (h *Handler) Register(r *gin.Engine, jwtSecret []byte, placement ...gin.HandlerFunc) {
	group := r.Group("/", auth.Middleware(jwtSecret))

	write := group.Group("/", auth.RequireScope(auth.ScopeOrdersWrite))
	write.POST("/orders", append(placement, h.CreateOrder)...)
	write.DELETE("/orders/:id", h.CancelOrder)

	read := group.Group("/", auth.RequireScope(auth.ScopeOrdersRead))
	read.GET("/orders", h.ListOrders)
	read.GET("/orders/:id", h.GetOrder)
	read.GET("/account", h.GetAccount)
	read.GET("/tickers", h.ListTickers)
	read.GET("/tickers/:market", h.GetTicker)
}

// writeDomainError maps service errors onto API codes. notFoundCode names
// what was missing.
func (h *Handler) writeDomainError(c *gin.Context, op string, err error, notFoundCode string) {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeError(c, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE", "insufficient balance", nil)
	case errors.Is(err, domain.ErrInsufficientAsset):
		writeError(c, http.StatusUnprocessableEntity, "INSUFFICIENT_ASSET", "insufficient asset", nil)
	case errors.Is(err, domain.ErrNotFound):
		writeError(c, http.StatusNotFound, notFoundCode, strings.ToLower(strings.ReplaceAll(notFoundCode, "_", " ")), nil)
	case domain.IsLostRace(err):
		writeError(c, http.StatusConflict, "INVALID_ORDER_STATE", "order is no longer open", nil)
	case errors.Is(err, domain.ErrNotOwner):
		writeError(c, http.StatusForbidden, "FORBIDDEN", "order belongs to another user", nil)
	default:
		h.Logger.Error(op+" failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func userIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	parsed, err := uuid.Parse(c.GetString(auth.ContextUserIDKey))
	if err != nil {
		return uuid.Nil, false
	}
	return parsed, true
}

func parseUUIDParam(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, errors.New("missing id")
	}
	return uuid.Parse(trimmed)
}

func writeError(c *gin.Context, status int, code, message string, fields []validation.FieldError) {
	c.JSON(status, errorResponse{Code: code, Message: message, Fields: fields})
}
