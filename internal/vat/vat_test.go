package vat

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func fixedTable(t *testing.T, today string) *Table {
	t.Helper()
	return DefaultTable().WithClock(func() time.Time { return day(today) })
}

func TestCashRound(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"1.02", "1.00"},
		{"1.025", "1.05"},
		{"1.074", "1.05"},
		{"1.075", "1.10"},
		{"8.1", "8.10"},
		{"99.9945", "100.00"},
		{"-1.025", "-1.05"},
		{"0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.True(t, d(tt.expected).Equal(CashRound(d(tt.in))), "CashRound(%s) = %s", tt.in, CashRound(d(tt.in)))
		})
	}
}

func TestFromNet(t *testing.T) {
	table := DefaultTable()
	code, ok := table.Lookup("VN81")
	require.True(t, ok)

	got := FromNet(d("100.00"), code)
	assert.True(t, d("100.00").Equal(got.Net))
	assert.True(t, d("8.10").Equal(got.VAT))
	assert.True(t, d("108.10").Equal(got.Gross))
	assert.Equal(t, "VN81", got.RateCode.Code)
}

func TestFromNet_NetIsGrossMinusVAT(t *testing.T) {
	code, ok := DefaultTable().Lookup("VN81")
	require.True(t, ok)

	got := FromNet(d("10.02"), code)
	assert.True(t, d("0.80").Equal(got.VAT), got.VAT.String())
	assert.True(t, d("10.85").Equal(got.Gross), got.Gross.String())
	assert.True(t, d("10.05").Equal(got.Net), got.Net.String())
	assert.True(t, d("10.00").Equal(CashRound(d("10.02"))))
	assert.True(t, got.Net.Add(got.VAT).Equal(got.Gross))
}

func TestFromGross(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		name  string
		gross string
		code  string
		net   string
		vat   string
	}{
		{name: "normal current", gross: "108.10", code: "VN81", net: "100.00", vat: "8.10"},
		{name: "normal total", gross: "1234.50", code: "VN81", net: "1142.00", vat: "92.50"},
		{name: "legacy normal", gross: "107.70", code: "VN77", net: "100.00", vat: "7.70"},
		{name: "reduced", gross: "102.60", code: "VR26", net: "100.00", vat: "2.60"},
		{name: "exempt", gross: "55.55", code: "VX0", net: "55.55", vat: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := table.Lookup(tt.code)
			require.True(t, ok)

			got := FromGross(d(tt.gross), code)
			assert.True(t, d(tt.net).Equal(got.Net), "net %s", got.Net)
			assert.True(t, d(tt.vat).Equal(got.VAT), "vat %s", got.VAT)
			assert.True(t, got.Net.Add(got.VAT).Equal(got.Gross))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	table := DefaultTable()
	tolerance := d("0.05")

	nets := []string{"0.01", "0.24", "1", "9.99", "10.01", "100", "123.45", "999.99", "1234.56", "100000.03"}
	for _, code := range table.Codes() {
		for _, n := range nets {
			net := d(n)
			fwd := FromNet(net, code)
			back := FromGross(fwd.Gross, code)
			assert.True(t, back.Net.Sub(net).Abs().LessThanOrEqual(tolerance),
				"%s net %s: round trip gave %s", code.Code, n, back.Net)
			assert.True(t, fwd.Net.Add(fwd.VAT).Equal(fwd.Gross))
		}
	}
}

func TestRateForDate(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		name     string
		date     string
		category entity.RateCategory
		expected string
		err      bool
	}{
		{name: "last legacy day", date: "2023-12-31", category: entity.RateNormal, expected: "0.077"},
		{name: "cutover is inclusive", date: "2024-01-01", category: entity.RateNormal, expected: "0.081"},
		{name: "reduced current", date: "2025-06-30", category: entity.RateReduced, expected: "0.026"},
		{name: "accommodation legacy", date: "2019-03-01", category: entity.RateAccommodation, expected: "0.037"},
		{name: "legacy start is inclusive", date: "2018-01-01", category: entity.RateNormal, expected: "0.077"},
		{name: "exempt", date: "2025-01-01", category: entity.RateExempt, expected: "0"},
		{name: "before table", date: "2017-12-31", category: entity.RateNormal, err: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.RateForDate(day(tt.date), tt.category)
			if tt.err {
				require.ErrorIs(t, err, ErrNoRate)
				return
			}
			require.NoError(t, err)
			assert.True(t, d(tt.expected).Equal(got), "got %s", got)
		})
	}
}

func TestCodeForCategory(t *testing.T) {
	table := DefaultTable()

	code, err := table.CodeForCategory(day("2023-06-12"), entity.RateReduced, entity.DirectionPurchase)
	require.NoError(t, err)
	assert.Equal(t, "VR25", code.Code)

	code, err = table.CodeForCategory(day("2024-06-12"), entity.RateReduced, "")
	require.NoError(t, err)
	assert.Empty(t, code.Code)
	assert.Equal(t, entity.RateReduced, code.Category)
	assert.True(t, d("0.026").Equal(code.Percent))

	_, err = table.CodeForCategory(day("2010-01-01"), entity.RateNormal, "")
	assert.ErrorIs(t, err, ErrNoRate)
}

func TestDetectRateCode(t *testing.T) {
	table := fixedTable(t, "2025-03-01")

	tests := []struct {
		name      string
		direction entity.Direction
		percent   string
		code      string
		low       bool
		unknown   bool
	}{
		{name: "points", direction: entity.DirectionPurchase, percent: "8.1", code: "VN81"},
		{name: "fraction", direction: entity.DirectionPurchase, percent: "0.081", code: "VN81"},
		{name: "sale", direction: entity.DirectionSale, percent: "8.1", code: "UN81"},
		{name: "within epsilon", direction: entity.DirectionPurchase, percent: "8.13", code: "VN81"},
		{name: "epsilon is inclusive", direction: entity.DirectionPurchase, percent: "8.15", code: "VN81"},
		{name: "legacy rate still recognised", direction: entity.DirectionPurchase, percent: "7.7", code: "VN77"},
		{name: "both sets match, current preferred", direction: entity.DirectionPurchase, percent: "2.55", code: "VR26"},
		{name: "zero is exempt", direction: entity.DirectionSale, percent: "0", code: "UX0"},
		{name: "no match falls back to standard", direction: entity.DirectionPurchase, percent: "8.2", code: "VN81", low: true, unknown: true},
		{name: "nonsense falls back", direction: entity.DirectionSale, percent: "19", code: "UN81", low: true, unknown: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := table.DetectRateCode(tt.direction, d(tt.percent))
			assert.Equal(t, tt.code, got.RateCode.Code)
			assert.Equal(t, tt.low, got.LowConfidence)
			assert.Equal(t, !tt.unknown, got.Matched())
			if tt.unknown {
				require.NotNil(t, got.Issue)
				assert.Equal(t, entity.KindUnknownRateCode, got.Issue.Kind)
			}
		})
	}
}

func TestDetectRateCodeOn(t *testing.T) {
	table := DefaultTable()

	got := table.DetectRateCodeOn(entity.DirectionPurchase, d("7.7"), day("2023-06-01"))
	assert.Equal(t, "VN77", got.RateCode.Code)
	assert.False(t, got.LowConfidence)

	got = table.DetectRateCodeOn(entity.DirectionPurchase, d("7.7"), day("2025-06-01"))
	assert.Equal(t, "VN77", got.RateCode.Code)
	assert.True(t, got.LowConfidence, "legacy rate on a current document")
	assert.True(t, got.Matched())

	got = table.DetectRateCodeOn(entity.DirectionPurchase, d("2.55"), day("2023-06-01"))
	assert.Equal(t, "VR25", got.RateCode.Code)

	got = table.DetectRateCodeOn(entity.DirectionSale, d("12"), day("2023-06-01"))
	assert.Equal(t, "UN77", got.RateCode.Code, "fallback uses the standard rate in force on the date")
	assert.True(t, got.LowConfidence)
}

func TestParseTable_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "empty", yaml: "rates: []"},
		{name: "bad percent", yaml: `rates: [{code: A, category: NORMAL, direction: SALE, percent: "x", from: 2024-01-01}]`},
		{name: "duplicate code", yaml: `rates: [{code: A, category: NORMAL, direction: SALE, percent: "8.1", from: 2024-01-01}, {code: A, category: REDUCED, direction: SALE, percent: "2.6", from: 2024-01-01}]`},
		{name: "unknown category", yaml: `rates: [{code: A, category: LUXURY, direction: SALE, percent: "8.1", from: 2024-01-01}]`},
		{name: "unknown direction", yaml: `rates: [{code: A, category: NORMAL, direction: BOTH, percent: "8.1", from: 2024-01-01}]`},
		{name: "ends before start", yaml: `rates: [{code: A, category: NORMAL, direction: SALE, percent: "8.1", from: 2024-01-01, to: 2023-01-01}]`},
		{name: "missing from", yaml: `rates: [{code: A, category: NORMAL, direction: SALE, percent: "8.1"}]`},
		{name: "not yaml", yaml: "rates: [oops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTable([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidTable)
		})
	}
}

func TestHolder_Reload(t *testing.T) {
	h := NewHolder(DefaultTable())
	assert.Equal(t, "2024.1", h.Load().Version())

	dir := t.TempDir()
	path := filepath.Join(dir, "rates.yaml")
	custom := `version: "test"
rates:
  - {code: VN90, category: NORMAL, direction: PURCHASE, percent: "9.0", from: 2020-01-01}
`
	require.NoError(t, os.WriteFile(path, []byte(custom), 0o644))
	require.NoError(t, h.Reload(path))
	assert.Equal(t, "test", h.Load().Version())

	require.NoError(t, os.WriteFile(path, []byte("rates: [oops"), 0o644))
	assert.Error(t, h.Reload(path))
	assert.Equal(t, "test", h.Load().Version(), "failed reload keeps the previous table")
}
