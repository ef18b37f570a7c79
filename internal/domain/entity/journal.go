package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Nature is the side on which an account naturally increases
type Nature string

const (
	NatureDebit  Nature = "DEBIT"
	NatureCredit Nature = "CREDIT"
)

// Account is one entry of the chart of accounts
type Account struct {
	Number string `json:"number" yaml:"number"`
	Name   string `json:"name" yaml:"name"`
	Nature Nature `json:"nature" yaml:"nature"`
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`
}

// ChartOfAccounts is a flat, read-only chart indexed by account number
type ChartOfAccounts struct {
	accounts map[string]Account
	order    []string
}

// NewChartOfAccounts indexes accounts by number; later duplicates replace earlier ones
func NewChartOfAccounts(accounts []Account) *ChartOfAccounts {
	c := &ChartOfAccounts{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		if _, seen := c.accounts[a.Number]; !seen {
			c.order = append(c.order, a.Number)
		}
		c.accounts[a.Number] = a
	}
	return c
}

// Lookup returns the account with the given number
func (c *ChartOfAccounts) Lookup(number string) (Account, bool) {
	if c == nil {
		return Account{}, false
	}
	a, ok := c.accounts[number]
	return a, ok
}

// Accounts returns all accounts in declaration order
func (c *ChartOfAccounts) Accounts() []Account {
	if c == nil {
		return nil
	}
	out := make([]Account, 0, len(c.order))
	for _, n := range c.order {
		out = append(out, c.accounts[n])
	}
	return out
}

// Len returns the number of accounts
func (c *ChartOfAccounts) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}

// EntryStatus is the lifecycle status of a journal entry
type EntryStatus string

const (
	EntryDraft     EntryStatus = "DRAFT"
	EntryValidated EntryStatus = "VALIDATED"
	EntryCancelled EntryStatus = "CANCELLED"
)

// JournalLine books an amount on one side of one account
type JournalLine struct {
	AccountNumber string          `json:"account_number"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	Text          string          `json:"text,omitempty"`
}

// JournalEntry is a set of lines recorded together.
// Only VALIDATED entries contribute to balances.
type JournalEntry struct {
	ID         string        `json:"id"`
	Date       time.Time     `json:"date"`
	Status     EntryStatus   `json:"status"`
	Memo       string        `json:"memo,omitempty"`
	DocumentID string        `json:"document_id,omitempty"`
	Lines      []JournalLine `json:"lines"`
}

// Totals returns the sum of debits and the sum of credits
func (e *JournalEntry) Totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range e.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// IsBalanced reports whether total debits equal total credits
func (e *JournalEntry) IsBalanced() bool {
	d, c := e.Totals()
	return d.Equal(c)
}

// AccountBalance is a derived projection over validated entries; it is never the source of truth
type AccountBalance struct {
	AccountNumber string          `json:"account_number"`
	DebitTotal    decimal.Decimal `json:"debit_total"`
	CreditTotal   decimal.Decimal `json:"credit_total"`
	NetBalance    decimal.Decimal `json:"net_balance"`
}
