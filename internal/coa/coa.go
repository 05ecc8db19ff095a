// Package coa models the bank's chart of accounts: the general-ledger catalog every posting
// line is booked against.
package coa

import (
	"fmt"
	"sort"
	"strings"
)

// Category is the top-level classification of a general-ledger account.
type Category string

const (
	Asset     Category = "ASSET"
	Liability Category = "LIABILITY"
	Equity    Category = "EQUITY"
	Revenue   Category = "REVENUE"
	Expense   Category = "EXPENSE"
)

// Categories lists every category in reporting order.
var Categories = []Category{Asset, Liability, Equity, Revenue, Expense}

// Side is the column a balance belongs to in a trial balance.
type Side string

const (
	Debit  Side = "DEBIT"
	Credit Side = "CREDIT"
)

// Valid reports whether c is one of the five known categories.
func (c Category) Valid() bool {
	switch c {
	case Asset, Liability, Equity, Revenue, Expense:
		return true
	}
	return false
}

// NormalSide returns the side on which a positive balance of this category is reported.
// Assets and expenses are debit-normal; liabilities, equity and revenue are credit-normal.
func (c Category) NormalSide() Side {
	if c == Asset || c == Expense {
		return Debit
	}
	return Credit
}

// ParseCategory accepts a category name in any case.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown account category %q", s)
	}
	return c, nil
}

// Account is one entry of the chart. Code is globally unique and Category never changes.
type Account struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	ParentCode  string   `json:"parent_code,omitempty"`
	Description string   `json:"description,omitempty"`
	Active      bool     `json:"active"`
}

// Well-known codes used by the posting templates.
const (
	CodeCash                  = "1000"
	CodeCustomerDepositsAsset = "1100"
	CodeLoansReceivable       = "1200"
	CodeCustomerDepositsLiab  = "2000"
	CodeInterestPayable       = "2100"
	CodeLoanDisbursementsPay  = "2200"
	CodeBankCapital           = "3000"
	CodeRetainedEarnings      = "3100"
	CodeInterestIncome        = "4000"
	CodeServiceFees           = "4100"
	CodeLoanProcessingFees    = "4200"
	CodeInterestExpense       = "5000"
	CodeOperatingExpenses     = "5100"
	CodeLoanLossProvision     = "5200"
)

// DefaultChart returns the seed chart. Each category has a header account that the others hang off.
func DefaultChart() []Account {
	return []Account{
		{Code: CodeCash, Name: "Cash and Cash Equivalents", Category: Asset, Description: "Physical cash and bank balances", Active: true},
		{Code: CodeCustomerDepositsAsset, Name: "Customer Deposits - Asset", Category: Asset, ParentCode: CodeCash, Description: "Cash received from customer deposits", Active: true},
		{Code: CodeLoansReceivable, Name: "Loans Receivable", Category: Asset, ParentCode: CodeCash, Description: "Outstanding principal owed by borrowers", Active: true},

		{Code: CodeCustomerDepositsLiab, Name: "Customer Deposits - Liability", Category: Liability, Description: "Amounts owed to customers for their deposits", Active: true},
		{Code: CodeInterestPayable, Name: "Interest Payable", Category: Liability, ParentCode: CodeCustomerDepositsLiab, Description: "Interest accrued on deposits and not yet paid", Active: true},
		{Code: CodeLoanDisbursementsPay, Name: "Loan Disbursements Payable", Category: Liability, ParentCode: CodeCustomerDepositsLiab, Description: "Approved loans awaiting disbursement", Active: true},

		{Code: CodeBankCapital, Name: "Bank Capital", Category: Equity, Description: "Paid-in capital", Active: true},
		{Code: CodeRetainedEarnings, Name: "Retained Earnings", Category: Equity, ParentCode: CodeBankCapital, Description: "Accumulated profits", Active: true},

		{Code: CodeInterestIncome, Name: "Interest Income", Category: Revenue, Description: "Interest earned on loans", Active: true},
		{Code: CodeServiceFees, Name: "Service Fees", Category: Revenue, ParentCode: CodeInterestIncome, Description: "Account and transaction fees", Active: true},
		{Code: CodeLoanProcessingFees, Name: "Loan Processing Fees", Category: Revenue, ParentCode: CodeInterestIncome, Description: "Fees charged at loan origination", Active: true},

		{Code: CodeInterestExpense, Name: "Interest Expense", Category: Expense, Description: "Interest paid on customer deposits", Active: true},
		{Code: CodeOperatingExpenses, Name: "Operating Expenses", Category: Expense, ParentCode: CodeInterestExpense, Description: "Salaries, rent and other running costs", Active: true},
		{Code: CodeLoanLossProvision, Name: "Loan Loss Provision", Category: Expense, ParentCode: CodeInterestExpense, Description: "Provision for expected credit losses", Active: true},
	}
}

// Catalog is an immutable, indexed view of a chart.
type Catalog struct {
	byCode map[string]Account
	codes  []string
}

// NewCatalog indexes accounts and checks the chart's structural rules: unique codes, known
// categories, existing parents, and children sharing their parent's category.
func NewCatalog(accounts []Account) (*Catalog, error) {
	c := &Catalog{byCode: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		if a.Code == "" {
			return nil, fmt.Errorf("chart account %q has no code", a.Name)
		}
		if !a.Category.Valid() {
			return nil, fmt.Errorf("chart account %s has unknown category %q", a.Code, a.Category)
		}
		if _, dup := c.byCode[a.Code]; dup {
			return nil, fmt.Errorf("duplicate chart account code %s", a.Code)
		}
		c.byCode[a.Code] = a
		c.codes = append(c.codes, a.Code)
	}
	for _, a := range accounts {
		if a.ParentCode == "" {
			continue
		}
		parent, ok := c.byCode[a.ParentCode]
		if !ok {
			return nil, fmt.Errorf("chart account %s references unknown parent %s", a.Code, a.ParentCode)
		}
		if parent.Category != a.Category {
			return nil, fmt.Errorf("chart account %s is %s but its parent %s is %s", a.Code, a.Category, parent.Code, parent.Category)
		}
	}
	sort.Strings(c.codes)
	return c, nil
}

// Lookup returns the account with the given code.
func (c *Catalog) Lookup(code string) (Account, bool) {
	a, ok := c.byCode[code]
	return a, ok
}

// Accounts returns every account ordered by code.
func (c *Catalog) Accounts() []Account {
	out := make([]Account, 0, len(c.codes))
	for _, code := range c.codes {
		out = append(out, c.byCode[code])
	}
	return out
}

// Children returns the direct children of code ordered by code.
func (c *Catalog) Children(code string) []Account {
	var out []Account
	for _, cc := range c.codes {
		if a := c.byCode[cc]; a.ParentCode == code {
			out = append(out, a)
		}
	}
	return out
}

// ByCategory returns the active accounts of a category ordered by code.
func (c *Catalog) ByCategory(cat Category) []Account {
	var out []Account
	for _, code := range c.codes {
		if a := c.byCode[code]; a.Category == cat && a.Active {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the number of accounts.
func (c *Catalog) Len() int { return len(c.codes) }
