package handlers

import (
	"net/http"
	"sort"

	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/gin-gonic/gin"
)

type holdingItem struct {
	Market      string `json:"market"`
	Amount      string `json:"amount"`
	Locked      string `json:"locked"`
	Available   string `json:"available"`
	AvgBuyPrice string `json:"avg_buy_price"`
}

type accountResponse struct {
	UserID        string        `json:"user_id"`
	Name          string        `json:"name"`
	AccountNumber string        `json:"account_number"`
	Currency      string        `json:"currency"`
	Balance       string        `json:"balance"`
	Locked        string        `json:"locked"`
	Holdings      []holdingItem `json:"holdings"`
}

func (h *Handler) GetAccount(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	user, err := h.Service.GetAccount(c.Request.Context(), userID)
	if err != nil {
		h.writeDomainError(c, "get account", err, "NOT_FOUND")
		return
	}
	c.JSON(http.StatusOK, accountToResponse(user))
}

func accountToResponse(user *domain.User) accountResponse {
	holdings := make([]holdingItem, 0, len(user.Assets))
	for _, holding := range user.Assets {
		holdings = append(holdings, holdingItem{
			Market:      holding.Market,
			Amount:      holding.Amount.String(),
			Locked:      holding.Locked.String(),
			Available:   holding.Available().String(),
			AvgBuyPrice: holding.AvgBuyPrice.String(),
		})
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Market < holdings[j].Market })

	return accountResponse{
		UserID:        user.ID.String(),
		Name:          user.Name,
		AccountNumber: user.Account.Number,
		Currency:      user.Account.Currency,
		Balance:       user.Account.Balance.String(),
		Locked:        user.Account.Locked.String(),
		Holdings:      holdings,
	}
}
