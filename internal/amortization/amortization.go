// Package amortization computes equal-installment (EMI) loan schedules.
//
// Rate math keeps six decimal places and currency amounts keep two, both rounded half-up.
// The last installment absorbs whatever rounding residual the earlier rows leave behind, so the
// principal portions of a schedule always add up to the loan principal exactly.
package amortization

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/bank-ledger/internal/money"
)

var (
	twelve  = decimal.NewFromInt(12)
	hundred = decimal.NewFromInt(100)
)

// Terms describes the loan a schedule is generated for.
type Terms struct {
	Principal    decimal.Decimal
	AnnualRate   decimal.Decimal // percent, e.g. 12 for 12% per year
	TenureMonths int
	Start        time.Time // disbursement time; installment i falls due Start + i months
}

// Validate rejects terms no schedule can be generated for.
func (t Terms) Validate() error {
	if err := money.ValidateAmount(t.Principal); err != nil {
		return fmt.Errorf("principal: %w", err)
	}
	if t.AnnualRate.IsNegative() {
		return fmt.Errorf("annual rate must not be negative, got %s", t.AnnualRate)
	}
	if t.TenureMonths <= 0 {
		return fmt.Errorf("tenure must be at least one month, got %d", t.TenureMonths)
	}
	return nil
}

// Installment is one row of a schedule.
type Installment struct {
	Number    int             `json:"number"`
	DueDate   time.Time       `json:"due_date"`
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Total     decimal.Decimal `json:"total"`
	Remaining decimal.Decimal `json:"remaining_principal"`
}

// Schedule is the full amortization table of a loan.
type Schedule struct {
	MonthlyRate   decimal.Decimal `json:"monthly_rate"`
	Installment   decimal.Decimal `json:"installment"`
	TotalInterest decimal.Decimal `json:"total_interest"`
	TotalPayable  decimal.Decimal `json:"total_payable"`
	Installments  []Installment   `json:"installments"`
}

// MonthlyRate converts an annual percentage into a monthly fraction: annual/12/100, each
// division rounded half-up to six places.
func MonthlyRate(annualPercent decimal.Decimal) decimal.Decimal {
	return money.DivRate(money.DivRate(annualPercent, twelve), hundred)
}

// ComputeInstallment returns the equal monthly installment P·r·(1+r)^n / ((1+r)^n − 1),
// rounded half-up to currency precision. A zero rate spreads the principal evenly.
func ComputeInstallment(principal, annualPercent decimal.Decimal, tenureMonths int) (decimal.Decimal, error) {
	t := Terms{Principal: principal, AnnualRate: annualPercent, TenureMonths: tenureMonths}
	if err := t.Validate(); err != nil {
		return decimal.Zero, err
	}
	return installment(principal, MonthlyRate(annualPercent), tenureMonths), nil
}

func installment(principal, r decimal.Decimal, n int) decimal.Decimal {
	if r.IsZero() {
		return money.DivCurrency(principal, decimal.NewFromInt(int64(n)))
	}
	growth := compound(decimal.NewFromInt(1).Add(r), n)
	numerator := principal.Mul(r).Mul(growth)
	denominator := growth.Sub(decimal.NewFromInt(1))
	return money.DivCurrency(numerator, denominator)
}

// compound raises base to the n-th power exactly.
func compound(base decimal.Decimal, n int) decimal.Decimal {
	out := decimal.NewFromInt(1)
	for i := 0; i < n; i++ {
		out = out.Mul(base)
	}
	return out
}

// GenerateSchedule builds the installment table for t.
func GenerateSchedule(t Terms) (*Schedule, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	r := MonthlyRate(t.AnnualRate)
	emi := installment(t.Principal, r, t.TenureMonths)

	s := &Schedule{
		MonthlyRate:  r,
		Installment:  emi,
		Installments: make([]Installment, 0, t.TenureMonths),
	}

	remaining := t.Principal
	for i := 1; i <= t.TenureMonths; i++ {
		interest := money.Round(remaining.Mul(r))
		principal := emi.Sub(interest)
		if i == t.TenureMonths || principal.GreaterThan(remaining) {
			principal = remaining
		}
		remaining = remaining.Sub(principal)

		row := Installment{
			Number:    i,
			DueDate:   t.Start.AddDate(0, i, 0),
			Principal: principal,
			Interest:  interest,
			Total:     principal.Add(interest),
			Remaining: remaining,
		}
		s.TotalInterest = s.TotalInterest.Add(interest)
		s.TotalPayable = s.TotalPayable.Add(row.Total)
		s.Installments = append(s.Installments, row)
	}

	return s, nil
}

// OverdueDays returns how many whole days past due an unpaid installment is at asOf.
func OverdueDays(due, asOf time.Time) int {
	if !asOf.After(due) {
		return 0
	}
	return int(asOf.Sub(due).Hours() / 24)
}
