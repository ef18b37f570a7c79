package voucher

import (
	"fmt"
	"io"
	"sort"

	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Sheet names used by the exporter
const (
	SheetBalances = "Saldenliste"
	SheetJournal  = "Journal"
)

var (
	balanceHeader = []string{"Konto", "Bezeichnung", "Soll", "Haben", "Saldo"}
	journalHeader = []string{"Datum", "Buchung", "Beleg", "Status", "Konto", "Soll", "Haben", "Text"}
)

// Exporter writes balances and journal entries as XLSX workbooks
type Exporter struct {
	companyName string
	logger      *zap.Logger
}

// NewExporter creates a new exporter
func NewExporter(companyName string, logger *zap.Logger) *Exporter {
	return &Exporter{companyName: companyName, logger: logger}
}

// WriteWorkbook writes a workbook with a balance sheet and, when entries is non-empty,
// a journal sheet. Balances are sorted by account number.
func (e *Exporter) WriteWorkbook(w io.Writer, balances map[string]entity.AccountBalance, chart *entity.ChartOfAccounts, entries []entity.JournalEntry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetBalances); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}

	if err := e.fillBalances(f, balances, chart, headerStyle, amountStyle); err != nil {
		return err
	}
	if len(entries) > 0 {
		if _, err := f.NewSheet(SheetJournal); err != nil {
			return fmt.Errorf("failed to create journal sheet: %w", err)
		}
		if err := e.fillJournal(f, entries, headerStyle, amountStyle); err != nil {
			return err
		}
	}

	if err := f.SetDocProps(&excelize.DocProperties{Creator: e.companyName, Title: "Saldenliste"}); err != nil {
		e.logger.Warn("Failed to set document properties", zap.Error(err))
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Workbook exported",
		zap.Int("accounts", len(balances)),
		zap.Int("entries", len(entries)))
	return nil
}

func (e *Exporter) fillBalances(f *excelize.File, balances map[string]entity.AccountBalance, chart *entity.ChartOfAccounts, headerStyle, amountStyle int) error {
	if err := writeRow(f, SheetBalances, 1, toAny(balanceHeader)); err != nil {
		return err
	}
	_ = f.SetRowStyle(SheetBalances, 1, 1, headerStyle)

	accounts := make([]string, 0, len(balances))
	for acct := range balances {
		accounts = append(accounts, acct)
	}
	sort.Strings(accounts)

	for i, acct := range accounts {
		b := balances[acct]
		name := ""
		if a, ok := chart.Lookup(acct); ok {
			name = a.Name
		}
		row := i + 2
		values := []any{acct, name, b.DebitTotal.InexactFloat64(), b.CreditTotal.InexactFloat64(), b.NetBalance.InexactFloat64()}
		if err := writeRow(f, SheetBalances, row, values); err != nil {
			return err
		}
		e.styleRange(f, SheetBalances, fmt.Sprintf("C%d", row), fmt.Sprintf("E%d", row), amountStyle)
	}

	_ = f.SetColWidth(SheetBalances, "B", "B", 48)
	_ = f.SetColWidth(SheetBalances, "C", "E", 14)
	return nil
}

func (e *Exporter) fillJournal(f *excelize.File, entries []entity.JournalEntry, headerStyle, amountStyle int) error {
	if err := writeRow(f, SheetJournal, 1, toAny(journalHeader)); err != nil {
		return err
	}
	_ = f.SetRowStyle(SheetJournal, 1, 1, headerStyle)

	sorted := append([]entity.JournalEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].ID < sorted[j].ID
	})

	row := 2
	for _, en := range sorted {
		for _, l := range en.Lines {
			values := []any{
				en.Date.Format("2006-01-02"), en.ID, en.DocumentID, string(en.Status),
				l.AccountNumber, l.Debit.InexactFloat64(), l.Credit.InexactFloat64(), l.Text,
			}
			if err := writeRow(f, SheetJournal, row, values); err != nil {
				return err
			}
			e.styleRange(f, SheetJournal, fmt.Sprintf("F%d", row), fmt.Sprintf("G%d", row), amountStyle)
			row++
		}
	}

	_ = f.SetColWidth(SheetJournal, "B", "C", 38)
	_ = f.SetColWidth(SheetJournal, "H", "H", 40)
	return nil
}

func (e *Exporter) styleRange(f *excelize.File, sheet, from, to string, style int) {
	if err := f.SetCellStyle(sheet, from, to, style); err != nil {
		e.logger.Warn("Failed to style cells",
			zap.String("sheet", sheet),
			zap.String("range", from+":"+to),
			zap.Error(err))
	}
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
