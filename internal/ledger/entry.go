// Package ledger validates journal entries and folds them into account balances.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/garyjia/docledger/internal/domain/workflow"
)

var (
	// ErrUnbalancedEntry is returned when total debits differ from total credits
	ErrUnbalancedEntry = errors.New("unbalanced journal entry")
	// ErrUnknownAccount is returned when a line books on an account missing from the chart
	ErrUnknownAccount = errors.New("unknown account")
	// ErrInvalidLine is returned for lines that are empty, negative or two-sided
	ErrInvalidLine = errors.New("invalid journal line")
)

// ValidateEntry checks that an entry can be posted: at least two lines, each line booking a
// positive amount on exactly one side of a known account, and debits equal to credits.
func ValidateEntry(entry *entity.JournalEntry, chart *entity.ChartOfAccounts) error {
	if len(entry.Lines) < 2 {
		return fmt.Errorf("%w: entry %s has %d line(s), at least 2 required", ErrInvalidLine, entry.ID, len(entry.Lines))
	}
	for i, l := range entry.Lines {
		if l.AccountNumber == "" {
			return fmt.Errorf("%w: line[%d]: account required", ErrInvalidLine, i)
		}
		if _, ok := chart.Lookup(l.AccountNumber); !ok {
			return fmt.Errorf("%w: line[%d]: %s", ErrUnknownAccount, i, l.AccountNumber)
		}
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return fmt.Errorf("%w: line[%d]: negative amount", ErrInvalidLine, i)
		}
		if l.Debit.IsPositive() == l.Credit.IsPositive() {
			return fmt.Errorf("%w: line[%d]: exactly one of debit or credit must be set", ErrInvalidLine, i)
		}
	}
	if debit, credit := entry.Totals(); !debit.Equal(credit) {
		return fmt.Errorf("%w: debits %s, credits %s", ErrUnbalancedEntry, debit.StringFixed(2), credit.StringFixed(2))
	}
	return nil
}

// lifecycle configures the transitions of one entry:
// DRAFT -VALIDATE-> VALIDATED when ValidateEntry passes, DRAFT or VALIDATED -CANCEL-> CANCELLED.
func lifecycle(entry *entity.JournalEntry, chart *entity.ChartOfAccounts) (workflow.StateMachine, error) {
	state := workflow.State(entry.Status)
	if state == "" {
		state = workflow.StateDraft
	}
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: %q", workflow.ErrInvalidState, entry.Status)
	}

	b := workflow.NewBuilder()
	b.Configure(workflow.StateDraft).
		PermitIf(workflow.TriggerValidate, workflow.StateValidated, func(ctx context.Context) error {
			return ValidateEntry(entry, chart)
		}).
		Permit(workflow.TriggerCancel, workflow.StateCancelled)
	b.Configure(workflow.StateValidated).
		Permit(workflow.TriggerCancel, workflow.StateCancelled)
	b.Configure(workflow.StateCancelled)

	return b.Build(state), nil
}

func fire(ctx context.Context, entry *entity.JournalEntry, chart *entity.ChartOfAccounts, trigger workflow.Trigger) error {
	m, err := lifecycle(entry, chart)
	if err != nil {
		return err
	}
	if err := m.Fire(ctx, trigger); err != nil {
		return fmt.Errorf("entry %s: %w", entry.ID, err)
	}
	entry.Status = entity.EntryStatus(m.State())
	return nil
}

// Validate moves a draft entry to VALIDATED. An entry failing ValidateEntry stays a draft and
// the error wraps both workflow.ErrGuardFailed and the validation error.
func Validate(ctx context.Context, entry *entity.JournalEntry, chart *entity.ChartOfAccounts) error {
	return fire(ctx, entry, chart, workflow.TriggerValidate)
}

// Cancel moves a draft or validated entry to CANCELLED
func Cancel(ctx context.Context, entry *entity.JournalEntry) error {
	return fire(ctx, entry, nil, workflow.TriggerCancel)
}

// PermittedActions lists the triggers available for the entry's current status
func PermittedActions(entry *entity.JournalEntry) []workflow.Trigger {
	m, err := lifecycle(entry, nil)
	if err != nil {
		return nil
	}
	return m.PermittedTriggers()
}
