package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	return "invalid request"
}

// Market codes are QUOTE-BASE, e.g. KRW-BTC.
var marketPattern = regexp.MustCompile(`^[A-Z0-9]+-[A-Z0-9]+$`)

// OrderRequest is a validated order placement.
type OrderRequest struct {
	Market string
	Side   string
	Volume decimal.Decimal
	Price  decimal.Decimal
}

func ValidateOrderRequest(market, side, volume, price string) (OrderRequest, ValidationErrors) {
	var errs ValidationErrors
	req := OrderRequest{
		Market: NormalizeMarket(market),
		Side:   strings.ToUpper(strings.TrimSpace(side)),
	}

	if req.Market == "" {
		errs = append(errs, FieldError{Field: "market", Message: "market is required"})
	} else if !marketPattern.MatchString(req.Market) {
		errs = append(errs, FieldError{Field: "market", Message: "market must match QUOTE-BASE"})
	}

	if req.Side != "BID" && req.Side != "ASK" {
		errs = append(errs, FieldError{Field: "side", Message: "side must be BID or ASK"})
	}

	var err error
	if req.Volume, err = parsePositive("volume", volume); err != nil {
		errs = append(errs, FieldError{Field: "volume", Message: err.Error()})
	}
	if req.Price, err = parsePositive("price", price); err != nil {
		errs = append(errs, FieldError{Field: "price", Message: err.Error()})
	}

	return req, errs
}

func parsePositive(field, raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%s is required", field)
	}
	val, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal", field)
	}
	if !val.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s must be positive", field)
	}
	return val, nil
}

func NormalizeMarket(market string) string {
	return strings.ToUpper(strings.TrimSpace(market))
}
