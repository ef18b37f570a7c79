package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/garyjia/docledger/internal/application/port"
	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/garyjia/docledger/internal/ledger"
	"github.com/garyjia/docledger/internal/voucher"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNotDraft is returned when a new entry is submitted with a status other than DRAFT
var ErrNotDraft = errors.New("new journal entries must be drafts")

// BalanceReport is the balance projection over all validated entries
type BalanceReport struct {
	Balances    map[string]entity.AccountBalance `json:"balances"`
	DebitTotal  decimal.Decimal                  `json:"debit_total"`
	CreditTotal decimal.Decimal                  `json:"credit_total"`
	Entries     int                              `json:"entries"`
	RolledUp    bool                             `json:"rolled_up"`
}

// LedgerService manages journal entries and derives balances
type LedgerService interface {
	CreateEntry(ctx context.Context, entry *entity.JournalEntry) error
	GetEntry(ctx context.Context, id string) (*entity.JournalEntry, error)
	ListEntries(ctx context.Context, status entity.EntryStatus) ([]*entity.JournalEntry, error)
	ValidateEntry(ctx context.Context, id string) (*entity.JournalEntry, error)
	CancelEntry(ctx context.Context, id string) (*entity.JournalEntry, error)
	Balances(ctx context.Context, rollUp bool) (*BalanceReport, error)
	ExportWorkbook(ctx context.Context, w io.Writer) error
}

type ledgerServiceImpl struct {
	journal  port.JournalRepository
	chart    *ledger.ChartHolder
	exporter *voucher.Exporter
	workers  int
	now      func() time.Time
	logger   *zap.Logger
}

// NewLedgerService creates a new LedgerService. workers bounds the parallel balance fold;
// zero uses GOMAXPROCS.
func NewLedgerService(
	journal port.JournalRepository,
	chart *ledger.ChartHolder,
	exporter *voucher.Exporter,
	workers int,
	logger *zap.Logger,
) LedgerService {
	if chart == nil {
		chart = ledger.NewChartHolder(ledger.DefaultChart())
	}
	if exporter == nil {
		exporter = voucher.NewExporter("", logger)
	}
	return &ledgerServiceImpl{
		journal:  journal,
		chart:    chart,
		exporter: exporter,
		workers:  workers,
		now:      time.Now,
		logger:   logger,
	}
}

// CreateEntry stores a new draft. Missing id and date are filled in; lines are only checked
// when the entry is validated.
func (s *ledgerServiceImpl) CreateEntry(ctx context.Context, entry *entity.JournalEntry) error {
	if entry.Status == "" {
		entry.Status = entity.EntryDraft
	}
	if entry.Status != entity.EntryDraft {
		return fmt.Errorf("%w: got %s", ErrNotDraft, entry.Status)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Date.IsZero() {
		entry.Date = s.now().UTC().Truncate(24 * time.Hour)
	}

	if err := s.journal.Create(ctx, entry); err != nil {
		s.logger.Error("Failed to create journal entry", zap.String("entry_id", entry.ID), zap.Error(err))
		return fmt.Errorf("create journal entry: %w", err)
	}
	s.logger.Info("Journal entry created",
		zap.String("entry_id", entry.ID),
		zap.Int("lines", len(entry.Lines)))
	return nil
}

// GetEntry loads one entry
func (s *ledgerServiceImpl) GetEntry(ctx context.Context, id string) (*entity.JournalEntry, error) {
	entry, err := s.journal.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get journal entry: %w", err)
	}
	return entry, nil
}

// ListEntries lists entries, all of them when status is empty
func (s *ledgerServiceImpl) ListEntries(ctx context.Context, status entity.EntryStatus) ([]*entity.JournalEntry, error) {
	entries, err := s.journal.List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	return entries, nil
}

// ValidateEntry posts a draft. An entry that fails validation stays a draft and is not written.
func (s *ledgerServiceImpl) ValidateEntry(ctx context.Context, id string) (*entity.JournalEntry, error) {
	return s.transition(ctx, id, "validate", func(entry *entity.JournalEntry) error {
		return ledger.Validate(ctx, entry, s.chart.Load())
	})
}

// CancelEntry cancels a draft or validated entry
func (s *ledgerServiceImpl) CancelEntry(ctx context.Context, id string) (*entity.JournalEntry, error) {
	return s.transition(ctx, id, "cancel", func(entry *entity.JournalEntry) error {
		return ledger.Cancel(ctx, entry)
	})
}

func (s *ledgerServiceImpl) transition(ctx context.Context, id, action string, fire func(*entity.JournalEntry) error) (*entity.JournalEntry, error) {
	entry, err := s.journal.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s journal entry: %w", action, err)
	}
	from := entry.Status

	if err := fire(entry); err != nil {
		s.logger.Warn("Journal entry transition rejected",
			zap.String("entry_id", id),
			zap.String("action", action),
			zap.String("status", string(from)),
			zap.Error(err))
		return nil, fmt.Errorf("%s journal entry %s: %w", action, id, err)
	}
	if err := s.journal.Update(ctx, entry); err != nil {
		return nil, fmt.Errorf("%s journal entry: %w", action, err)
	}

	s.logger.Info("Journal entry transitioned",
		zap.String("entry_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(entry.Status)))
	return entry, nil
}

// Balances folds all validated entries into account balances, optionally rolled up into the
// chart's groups
func (s *ledgerServiceImpl) Balances(ctx context.Context, rollUp bool) (*BalanceReport, error) {
	stored, err := s.journal.List(ctx, entity.EntryValidated)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	entries := make([]entity.JournalEntry, 0, len(stored))
	for _, e := range stored {
		entries = append(entries, *e)
	}

	chart := s.chart.Load()
	balances, err := ledger.ComputeBalancesParallel(ctx, entries, chart, s.workers)
	if err != nil {
		return nil, fmt.Errorf("compute balances: %w", err)
	}
	debit, credit := ledger.TrialBalance(balances)
	if rollUp {
		balances = ledger.RollUp(balances, chart)
	}

	return &BalanceReport{
		Balances:    balances,
		DebitTotal:  debit,
		CreditTotal: credit,
		Entries:     len(entries),
		RolledUp:    rollUp,
	}, nil
}

// ExportWorkbook writes the balance list and the journal of validated entries as XLSX
func (s *ledgerServiceImpl) ExportWorkbook(ctx context.Context, w io.Writer) error {
	stored, err := s.journal.List(ctx, entity.EntryValidated)
	if err != nil {
		return fmt.Errorf("list journal entries: %w", err)
	}
	entries := make([]entity.JournalEntry, 0, len(stored))
	for _, e := range stored {
		entries = append(entries, *e)
	}

	chart := s.chart.Load()
	balances, err := ledger.ComputeBalancesParallel(ctx, entries, chart, s.workers)
	if err != nil {
		return fmt.Errorf("compute balances: %w", err)
	}
	if err := s.exporter.WriteWorkbook(w, balances, chart, entries); err != nil {
		return fmt.Errorf("export workbook: %w", err)
	}
	return nil
}
