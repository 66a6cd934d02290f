package currency

import (
	"fmt"
	"strings"

	"github.com/expenseflow/approval-engine/internal/directory"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Converter normalizes an expense amount into its company's currency.
// Conversion failure must never block submission; the caller falls back to
// the original amount with a logged warning.
type Converter interface {
	// Normalize returns the amount in the company's currency and the
	// exchange rate applied.
	Normalize(amount decimal.Decimal, fromCurrency string, companyID int64) (decimal.Decimal, decimal.Decimal, error)
}

// RateTable converts through a static table of rates quoted against USD.
type RateTable struct {
	rates     map[string]decimal.Decimal
	directory directory.Service
	logger    *zap.Logger
}

// NewRateTable creates a converter from a currency->rate map (rate = units
// of USD per one unit of the currency).
func NewRateTable(rates map[string]float64, dir directory.Service, logger *zap.Logger) *RateTable {
	table := make(map[string]decimal.Decimal, len(rates))
	for ccy, rate := range rates {
		table[strings.ToUpper(ccy)] = decimal.NewFromFloat(rate)
	}

	return &RateTable{
		rates:     table,
		directory: dir,
		logger:    logger,
	}
}

// Normalize converts amount from fromCurrency into the company's currency
func (t *RateTable) Normalize(amount decimal.Decimal, fromCurrency string, companyID int64) (decimal.Decimal, decimal.Decimal, error) {
	one := decimal.NewFromInt(1)

	company, err := t.directory.GetCompany(companyID)
	if err != nil {
		return amount, one, fmt.Errorf("failed to resolve company currency: %w", err)
	}
	if company == nil {
		return amount, one, fmt.Errorf("company %d not found", companyID)
	}

	from := strings.ToUpper(fromCurrency)
	to := strings.ToUpper(company.Currency)
	if from == to {
		return amount, one, nil
	}

	fromRate, ok := t.rates[from]
	if !ok {
		return amount, one, fmt.Errorf("no rate for currency %s", from)
	}
	toRate, ok := t.rates[to]
	if !ok {
		return amount, one, fmt.Errorf("no rate for currency %s", to)
	}
	if toRate.IsZero() {
		return amount, one, fmt.Errorf("zero rate for currency %s", to)
	}

	rate := fromRate.Div(toRate)
	converted := amount.Mul(rate).Round(2)

	t.logger.Debug("Converted amount",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("rate", rate.String()))

	return converted, rate, nil
}
