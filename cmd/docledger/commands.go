package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/garyjia/docledger/internal/infrastructure/storage"
	"github.com/garyjia/docledger/internal/invoice"
	"github.com/garyjia/docledger/internal/ledger"
	"github.com/garyjia/docledger/internal/validation"
	"github.com/garyjia/docledger/internal/vat"
	"github.com/garyjia/docledger/internal/voucher"
	"github.com/garyjia/docledger/pkg/utils"
)

var (
	successSymbol = "✓"
	errorSymbol   = "✗"

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00D787", Dark: "#00D787"})
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FF5F87", Dark: "#FF5F87"})
)

// ErrChecksFailed is returned when at least one identifier or document fails its checks
var ErrChecksFailed = errors.New("checks failed")

// Globals defines global flags available to all commands
type Globals struct {
	Verbose bool `help:"Log debug output to stderr." short:"v"`
}

// Logger returns the CLI logger
func (g *Globals) Logger() *zap.Logger {
	return utils.NewCLILogger(g.Verbose)
}

// Commands lists the subcommands
type Commands struct {
	Globals

	Extract   ExtractCmd   `cmd:"" help:"Extract and validate one invoice or receipt (PDF, image or text)."`
	Normalize NormalizeCmd `cmd:"" help:"Parse locale-formatted amounts."`
	CheckID   CheckIDCmd   `cmd:"" name:"check-id" help:"Validate Swiss UIDs and IBANs."`
	VAT       VATCmd       `cmd:"" name:"vat" help:"Compute VAT from a net or gross amount."`
	Balances  BalancesCmd  `cmd:"" help:"Fold journal entries into account balances."`
}

// ExtractCmd runs the document pipeline over one file without storing anything
type ExtractCmd struct {
	File      string `arg:"" type:"existingfile" help:"Document to extract."`
	Lang      string `help:"Language hint (de, fr, it, en); detected when empty."`
	Direction string `help:"SALE or PURCHASE." enum:"SALE,PURCHASE" default:"PURCHASE"`
	Strict    bool   `help:"Treat rate-code and checksum warnings as errors."`
	Patterns  string `help:"Pattern table overriding the built-in one." type:"existingfile"`
	Rates     string `help:"VAT rate table overriding the built-in one." type:"existingfile"`
}

// extractResult is printed as JSON
type extractResult struct {
	Fields     entity.ExtractedFields  `json:"fields"`
	Amounts    *entity.DocumentAmounts `json:"amounts,omitempty"`
	Resolution invoice.Resolution      `json:"resolution"`
	Validation entity.ValidationResult `json:"validation"`
}

func (cmd *ExtractCmd) Run(ctx *kong.Context, globals *Globals) error {
	logger := globals.Logger()

	patterns := invoice.NewPatternHolder(invoice.DefaultPatterns())
	if cmd.Patterns != "" {
		if err := patterns.Reload(cmd.Patterns); err != nil {
			return err
		}
	}
	rates := vat.NewHolder(vat.DefaultTable())
	if cmd.Rates != "" {
		if err := rates.Reload(cmd.Rates); err != nil {
			return err
		}
	}

	files := storage.NewLocalFileStorage(filepath.Dir(cmd.File), logger)
	reader := invoice.NewPDFReader(files, nil, 0, logger)
	doc, err := reader.FetchText(context.Background(), filepath.Base(cmd.File))
	if err != nil {
		return err
	}
	if lang := entity.Lang(strings.ToLower(cmd.Lang)); lang != entity.LangUnknown {
		if !lang.IsValid() {
			return fmt.Errorf("unsupported language %q", cmd.Lang)
		}
		doc.Language = lang
	}

	fields := invoice.NewExtractor(patterns).ExtractFields(doc)
	amounts, res := invoice.NewResolver(patterns, rates).ResolveAmountsFor(fields, entity.Direction(cmd.Direction))
	result := validation.NewValidator(validation.WithStrict(cmd.Strict)).
		Validate(amounts, validation.RequiredFieldsFrom(fields, res.Issues))

	if err := writeJSON(ctx.Stdout, extractResult{
		Fields:     fields,
		Amounts:    amounts,
		Resolution: res,
		Validation: result,
	}); err != nil {
		return err
	}

	if !result.Valid {
		for _, e := range result.Errors {
			printError(ctx.Stderr, e.Error())
		}
		return fmt.Errorf("%w: %d validation error(s)", ErrChecksFailed, len(result.Errors))
	}
	printSuccess(ctx.Stderr, "Document valid")
	return nil
}

// NormalizeCmd parses amounts such as 1'234.50 or 1.234,56
type NormalizeCmd struct {
	Values []string `arg:"" help:"Amount literals."`
}

func (cmd *NormalizeCmd) Run(ctx *kong.Context) error {
	failed := 0
	for _, raw := range cmd.Values {
		v, err := invoice.NormalizeAmount(raw)
		if err != nil {
			failed++
			printError(ctx.Stderr, err.Error())
			continue
		}
		_, _ = fmt.Fprintf(ctx.Stdout, "%s\t%s\n", raw, v.StringFixed(2))
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d amount(s) unparseable", ErrChecksFailed, failed, len(cmd.Values))
	}
	return nil
}

// CheckIDCmd validates identifiers; values starting with CHE are UIDs, the rest IBANs
type CheckIDCmd struct {
	IDs []string `arg:"" name:"id" help:"UIDs (CHE-123.456.788) or IBANs."`
}

func (cmd *CheckIDCmd) Run(ctx *kong.Context) error {
	failed := 0
	for _, id := range cmd.IDs {
		var valid bool
		var label string
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(id)), "CHE") {
			valid = invoice.ValidateBusinessID(id)
			label = "UID " + invoice.NormalizeBusinessID(id)
		} else {
			valid = invoice.IBANChecksumValid(id)
			label = "IBAN " + invoice.CompactIBAN(id)
		}
		if valid {
			printSuccess(ctx.Stdout, label)
		} else {
			failed++
			printError(ctx.Stdout, label)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d invalid identifier(s)", ErrChecksFailed, failed)
	}
	return nil
}

// VATCmd computes the amount set for a rate code, or for the rate of a category in force on a date
type VATCmd struct {
	Amount    string    `arg:"" help:"Amount, locale formatting allowed."`
	Code      string    `help:"Rate code, e.g. VN81." xor:"rate"`
	Category  string    `help:"Rate category (NORMAL, REDUCED, ACCOMMODATION, EXEMPT, EXPORT)." xor:"rate"`
	Direction string    `help:"SALE or PURCHASE; only used with --category."`
	Date      time.Time `help:"Date the category rate is looked up on; today when omitted." format:"2006-01-02"`
	Gross     bool      `help:"Amount is gross; net otherwise."`
	Rates     string    `help:"VAT rate table overriding the built-in one." type:"existingfile"`
}

func (cmd *VATCmd) Run(ctx *kong.Context) error {
	amount, err := invoice.NormalizeAmount(cmd.Amount)
	if err != nil {
		return err
	}
	table := vat.DefaultTable()
	if cmd.Rates != "" {
		if table, err = vat.LoadTable(cmd.Rates); err != nil {
			return err
		}
	}
	code, err := cmd.rateCode(table)
	if err != nil {
		return err
	}

	var amounts entity.DocumentAmounts
	if cmd.Gross {
		amounts = vat.FromGross(amount, code)
	} else {
		amounts = vat.FromNet(amount, code)
	}

	tw := tabwriter.NewWriter(ctx.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintf(tw, "net\t%s\t\n", amounts.Net.StringFixed(2))
	_, _ = fmt.Fprintf(tw, "vat %s%%\t%s\t\n", code.PercentagePoints().String(), amounts.VAT.StringFixed(2))
	_, _ = fmt.Fprintf(tw, "gross\t%s\t\n", amounts.Gross.StringFixed(2))
	return tw.Flush()
}

func (cmd *VATCmd) rateCode(table *vat.Table) (entity.RateCode, error) {
	if cmd.Code != "" {
		code, ok := table.Lookup(cmd.Code)
		if !ok {
			return entity.RateCode{}, fmt.Errorf("unknown rate code %s", cmd.Code)
		}
		return code, nil
	}

	category := entity.RateCategory(strings.ToUpper(cmd.Category))
	if !category.IsValid() {
		return entity.RateCode{}, fmt.Errorf("--code or a known --category is required, got %q", cmd.Category)
	}
	direction := entity.Direction(strings.ToUpper(cmd.Direction))
	if direction != "" && !direction.IsValid() {
		return entity.RateCode{}, fmt.Errorf("unknown direction %q", cmd.Direction)
	}
	date := cmd.Date
	if date.IsZero() {
		date = time.Now()
	}
	return table.CodeForCategory(date, category, direction)
}

// BalancesCmd validates a JSON array of journal entries and prints the balance list.
// Entries without a status are treated as validated; drafts and cancelled entries are skipped.
type BalancesCmd struct {
	Entries string `arg:"" type:"existingfile" help:"JSON file with an array of journal entries."`
	Chart   string `help:"Chart of accounts overriding the built-in one." type:"existingfile"`
	RollUp  bool   `name:"rollup" help:"Add account totals to their groups."`
	XLSX    string `name:"xlsx" help:"Also write the balances and journal to this workbook." type:"path"`
	Workers int    `help:"Goroutines folding entries; 0 uses GOMAXPROCS." default:"0"`
}

func (cmd *BalancesCmd) Run(ctx *kong.Context, globals *Globals) error {
	logger := globals.Logger()

	chart := ledger.DefaultChart()
	if cmd.Chart != "" {
		var err error
		if chart, err = ledger.LoadChart(cmd.Chart); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(cmd.Entries)
	if err != nil {
		return err
	}
	var entries []entity.JournalEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse %s: %w", cmd.Entries, err)
	}

	var errs []error
	for i := range entries {
		e := &entries[i]
		if e.Status == "" {
			e.Status = entity.EntryValidated
		}
		if e.Status != entity.EntryValidated {
			continue
		}
		if err := ledger.ValidateEntry(e, chart); err != nil {
			errs = append(errs, fmt.Errorf("entry %s: %w", e.ID, err))
		}
	}
	if len(errs) > 0 {
		for _, err := range errs {
			printError(ctx.Stderr, err.Error())
		}
		return fmt.Errorf("%w: %w", ErrChecksFailed, errors.Join(errs...))
	}

	balances, err := ledger.ComputeBalancesParallel(context.Background(), entries, chart, cmd.Workers)
	if err != nil {
		return err
	}
	debit, credit := ledger.TrialBalance(balances)
	if cmd.RollUp {
		balances = ledger.RollUp(balances, chart)
	}

	if err := printBalances(ctx.Stdout, balances, chart, debit, credit); err != nil {
		return err
	}

	if cmd.XLSX != "" {
		f, err := os.Create(cmd.XLSX)
		if err != nil {
			return err
		}
		defer f.Close()
		validated := make([]entity.JournalEntry, 0, len(entries))
		for _, e := range entries {
			if e.Status == entity.EntryValidated {
				validated = append(validated, e)
			}
		}
		if err := voucher.NewExporter("", logger).WriteWorkbook(f, balances, chart, validated); err != nil {
			return err
		}
		printSuccess(ctx.Stderr, "Workbook written to "+cmd.XLSX)
	}
	return nil
}

func printBalances(w io.Writer, balances map[string]entity.AccountBalance, chart *entity.ChartOfAccounts, debit, credit decimal.Decimal) error {
	numbers := make([]string, 0, len(balances))
	for n := range balances {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "Account\tName\tDebit\tCredit\tBalance")
	for _, n := range numbers {
		b := balances[n]
		name := ""
		if a, ok := chart.Lookup(n); ok {
			name = a.Name
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", n, name,
			b.DebitTotal.StringFixed(2), b.CreditTotal.StringFixed(2), b.NetBalance.StringFixed(2))
	}
	_, _ = fmt.Fprintf(tw, "Total\t\t%s\t%s\t\n", debit.StringFixed(2), credit.StringFixed(2))
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSuccess(w io.Writer, message string) {
	_, _ = fmt.Fprintf(w, "%s %s\n", successStyle.Render(successSymbol), message)
}

func printError(w io.Writer, message string) {
	_, _ = fmt.Fprintf(w, "%s %s\n", errorStyle.Render(errorSymbol), errorStyle.Render(message))
}
