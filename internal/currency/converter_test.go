package currency

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/expenseflow/approval-engine/internal/models"
)

type staticDirectory struct {
	companies map[int64]*models.Company
}

func (d *staticDirectory) GetUser(int64) (*models.User, error)    { return nil, nil }
func (d *staticDirectory) GetManager(int64) (*models.User, error) { return nil, nil }
func (d *staticDirectory) GetUsersByRole(int64, string) ([]*models.User, error) {
	return nil, nil
}
func (d *staticDirectory) GetDepartmentHead(int64, string) (*models.User, error) { return nil, nil }
func (d *staticDirectory) GetActiveAdmin(int64) (*models.User, error)            { return nil, nil }
func (d *staticDirectory) GetCompany(id int64) (*models.Company, error) {
	return d.companies[id], nil
}

func newTestTable() *RateTable {
	dir := &staticDirectory{companies: map[int64]*models.Company{
		1: {ID: 1, Currency: "USD"},
		2: {ID: 2, Currency: "EUR"},
	}}
	return NewRateTable(map[string]float64{
		"USD": 1.0,
		"EUR": 1.08,
		"GBP": 1.25,
	}, dir, zap.NewNop())
}

func TestNormalizeSameCurrency(t *testing.T) {
	table := newTestTable()

	amount := decimal.NewFromInt(100)
	converted, rate, err := table.Normalize(amount, "usd", 1)
	require.NoError(t, err)
	assert.True(t, converted.Equal(amount))
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))
}

func TestNormalizeToUSD(t *testing.T) {
	table := newTestTable()

	converted, rate, err := table.Normalize(decimal.NewFromInt(100), "EUR", 1)
	require.NoError(t, err)
	assert.Equal(t, "108", converted.String())
	assert.Equal(t, "1.08", rate.String())
}

func TestNormalizeCrossRate(t *testing.T) {
	table := newTestTable()

	// GBP -> EUR goes through the USD quotes: 1.25 / 1.08.
	converted, _, err := table.Normalize(decimal.NewFromInt(108), "GBP", 2)
	require.NoError(t, err)
	assert.Equal(t, "125", converted.String())
}

func TestNormalizeUnknownCurrencyFails(t *testing.T) {
	table := newTestTable()

	amount := decimal.NewFromInt(100)
	converted, rate, err := table.Normalize(amount, "XAU", 1)
	require.Error(t, err)
	// The original amount and a unit rate come back so callers can degrade.
	assert.True(t, converted.Equal(amount))
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))
}

func TestNormalizeUnknownCompanyFails(t *testing.T) {
	table := newTestTable()

	_, _, err := table.Normalize(decimal.NewFromInt(100), "EUR", 99)
	assert.Error(t, err)
}
