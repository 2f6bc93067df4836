package handlers

import (
	"net/http"

	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/ticker"
	"github.com/gin-gonic/gin"
)

func (h *Handler) ListTickers(c *gin.Context) {
	tickers := h.Tickers.All()
	if tickers == nil {
		tickers = []ticker.Ticker{}
	}
	c.JSON(http.StatusOK, gin.H{"tickers": tickers})
}

func (h *Handler) GetTicker(c *gin.Context) {
	t, ok := h.Tickers.Get(c.Param("market"))
	if !ok {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "unknown market", nil)
		return
	}
	c.JSON(http.StatusOK, t)
}
