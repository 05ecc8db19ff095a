package amortization

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMonthlyRate(t *testing.T) {
	assert.Equal(t, "0.010000", MonthlyRate(d("12")).StringFixed(6))
	assert.Equal(t, "0.006042", MonthlyRate(d("7.25")).StringFixed(6))
	assert.True(t, MonthlyRate(decimal.Zero).IsZero())
}

func TestComputeInstallmentStandardAnnuity(t *testing.T) {
	emi, err := ComputeInstallment(d("12000"), d("12"), 12)
	require.NoError(t, err)
	assert.Equal(t, "1066.19", emi.StringFixed(2))

	// closed form with r = 0.01: 12000 * 0.01 / (1 - 1.01^-12) = 1066.1854...
	closedForm := d("1066.1854")
	assert.True(t, emi.Sub(closedForm).Abs().LessThanOrEqual(d("0.01")))
}

func TestComputeInstallmentZeroRate(t *testing.T) {
	emi, err := ComputeInstallment(d("1000"), decimal.Zero, 3)
	require.NoError(t, err)
	assert.Equal(t, "333.33", emi.StringFixed(2))
}

func TestComputeInstallmentRejectsBadTerms(t *testing.T) {
	_, err := ComputeInstallment(decimal.Zero, d("12"), 12)
	assert.Error(t, err)
	_, err = ComputeInstallment(d("100"), d("-1"), 12)
	assert.Error(t, err)
	_, err = ComputeInstallment(d("100"), d("12"), 0)
	assert.Error(t, err)
	_, err = ComputeInstallment(d("100.001"), d("12"), 12)
	assert.Error(t, err)
}

func TestGenerateScheduleTruesUpLastInstallment(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	s, err := GenerateSchedule(Terms{Principal: d("12000"), AnnualRate: d("12"), TenureMonths: 12, Start: start})
	require.NoError(t, err)
	require.Len(t, s.Installments, 12)

	assert.Equal(t, "1066.19", s.Installment.StringFixed(2))

	first := s.Installments[0]
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, "120.00", first.Interest.StringFixed(2))
	assert.Equal(t, "946.19", first.Principal.StringFixed(2))
	assert.Equal(t, time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC), first.DueDate)

	last := s.Installments[11]
	assert.Equal(t, "1055.58", last.Principal.StringFixed(2))
	assert.Equal(t, "10.56", last.Interest.StringFixed(2))
	assert.Equal(t, "1066.14", last.Total.StringFixed(2))
	assert.True(t, last.Remaining.IsZero())

	sum := decimal.Zero
	for _, row := range s.Installments {
		sum = sum.Add(row.Principal)
		assert.True(t, row.Total.Equal(row.Principal.Add(row.Interest)))
	}
	assert.True(t, sum.Equal(d("12000")), "principal portions sum to %s", sum)
	assert.Equal(t, "794.23", s.TotalInterest.StringFixed(2))
	assert.Equal(t, "12794.23", s.TotalPayable.StringFixed(2))
}

func TestGenerateSchedulePrincipalSumsAcrossTerms(t *testing.T) {
	cases := []struct {
		principal string
		rate      string
		tenure    int
	}{
		{"5000", "9.5", 24},
		{"250000", "6.75", 360},
		{"999.99", "18", 7},
		{"1000", "0", 3},
		{"0.05", "12", 12},
	}
	for _, c := range cases {
		s, err := GenerateSchedule(Terms{Principal: d(c.principal), AnnualRate: d(c.rate), TenureMonths: c.tenure, Start: time.Now()})
		require.NoError(t, err)

		sum := decimal.Zero
		for _, row := range s.Installments {
			assert.False(t, row.Principal.IsNegative(), "%s/%s/%d row %d", c.principal, c.rate, c.tenure, row.Number)
			sum = sum.Add(row.Principal)
		}
		assert.True(t, sum.Equal(d(c.principal)), "%s/%s/%d sums to %s", c.principal, c.rate, c.tenure, sum)
	}
}

func TestOverdueDays(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, OverdueDays(due, due.Add(-time.Hour)))
	assert.Equal(t, 0, OverdueDays(due, due.Add(23*time.Hour)))
	assert.Equal(t, 10, OverdueDays(due, due.AddDate(0, 0, 10)))
}
