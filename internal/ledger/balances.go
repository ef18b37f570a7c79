package ledger

import (
	"context"
	"runtime"

	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type totals struct {
	debit  decimal.Decimal
	credit decimal.Decimal
}

type partial map[string]totals

func (p partial) add(e *entity.JournalEntry) {
	if e.Status != entity.EntryValidated {
		return
	}
	for _, l := range e.Lines {
		t := p[l.AccountNumber]
		t.debit = t.debit.Add(l.Debit)
		t.credit = t.credit.Add(l.Credit)
		p[l.AccountNumber] = t
	}
}

func (p partial) merge(other partial) {
	for acct, o := range other {
		t := p[acct]
		t.debit = t.debit.Add(o.debit)
		t.credit = t.credit.Add(o.credit)
		p[acct] = t
	}
}

// finish applies account natures. Accounts missing from the chart are treated as debit accounts.
func (p partial) finish(chart *entity.ChartOfAccounts) map[string]entity.AccountBalance {
	out := make(map[string]entity.AccountBalance, len(p))
	for acct, t := range p {
		out[acct] = balance(acct, t, chart)
	}
	return out
}

func balance(acct string, t totals, chart *entity.ChartOfAccounts) entity.AccountBalance {
	nature := entity.NatureDebit
	if a, ok := chart.Lookup(acct); ok {
		nature = a.Nature
	}
	net := t.debit.Sub(t.credit)
	if nature == entity.NatureCredit {
		net = t.credit.Sub(t.debit)
	}
	return entity.AccountBalance{
		AccountNumber: acct,
		DebitTotal:    t.debit,
		CreditTotal:   t.credit,
		NetBalance:    net,
	}
}

// ComputeBalances folds the VALIDATED entries into per-account totals. Draft and cancelled
// entries are ignored. The result does not depend on the order of entries.
func ComputeBalances(entries []entity.JournalEntry, chart *entity.ChartOfAccounts) map[string]entity.AccountBalance {
	p := make(partial)
	for i := range entries {
		p.add(&entries[i])
	}
	return p.finish(chart)
}

// ComputeBalancesParallel splits entries into contiguous chunks folded by up to workers
// goroutines and merges the partial sums. It returns the same balances as ComputeBalances.
// workers <= 0 uses GOMAXPROCS.
func ComputeBalancesParallel(ctx context.Context, entries []entity.JournalEntry, chart *entity.ChartOfAccounts, workers int) (map[string]entity.AccountBalance, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(entries) {
		workers = len(entries)
	}
	if workers <= 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return ComputeBalances(entries, chart), nil
	}

	partials := make([]partial, workers)
	chunk := (len(entries) + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, len(entries))
		p := make(partial)
		partials[w] = p
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if i%256 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				p.add(&entries[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(partial)
	for _, p := range partials {
		merged.merge(p)
	}
	return merged.finish(chart), nil
}

// RollUp adds every account's totals to all of its ancestors in the chart. Parents get a
// net balance computed with their own nature. Accounts outside the chart are passed through.
func RollUp(balances map[string]entity.AccountBalance, chart *entity.ChartOfAccounts) map[string]entity.AccountBalance {
	p := make(partial, len(balances))
	for acct, b := range balances {
		t := p[acct]
		t.debit = t.debit.Add(b.DebitTotal)
		t.credit = t.credit.Add(b.CreditTotal)
		p[acct] = t

		a, ok := chart.Lookup(acct)
		for ok && a.Parent != "" {
			pt := p[a.Parent]
			pt.debit = pt.debit.Add(b.DebitTotal)
			pt.credit = pt.credit.Add(b.CreditTotal)
			p[a.Parent] = pt
			a, ok = chart.Lookup(a.Parent)
		}
	}
	return p.finish(chart)
}

// TrialBalance returns total debits and total credits over all balances; they are equal
// whenever every folded entry was balanced.
func TrialBalance(balances map[string]entity.AccountBalance) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, b := range balances {
		debit = debit.Add(b.DebitTotal)
		credit = credit.Add(b.CreditTotal)
	}
	return debit, credit
}
