package ledger

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/garyjia/docledger/internal/domain/entity"
	"gopkg.in/yaml.v3"
)

//go:embed chart.yaml
var defaultChart []byte

// ErrInvalidChart is returned for charts of accounts that fail validation
var ErrInvalidChart = errors.New("invalid chart of accounts")

type chartFile struct {
	Version  string           `yaml:"version"`
	Accounts []entity.Account `yaml:"accounts"`
}

// ParseChart decodes and validates a YAML chart of accounts.
// Account numbers must be unique, natures known and parents declared without cycles.
func ParseChart(data []byte) (*entity.ChartOfAccounts, error) {
	var f chartFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChart, err)
	}
	if len(f.Accounts) == 0 {
		return nil, fmt.Errorf("%w: no accounts", ErrInvalidChart)
	}

	byNumber := make(map[string]entity.Account, len(f.Accounts))
	for _, a := range f.Accounts {
		if a.Number == "" {
			return nil, fmt.Errorf("%w: account %q has no number", ErrInvalidChart, a.Name)
		}
		if _, dup := byNumber[a.Number]; dup {
			return nil, fmt.Errorf("%w: duplicate account %s", ErrInvalidChart, a.Number)
		}
		if a.Nature != entity.NatureDebit && a.Nature != entity.NatureCredit {
			return nil, fmt.Errorf("%w: account %s has unknown nature %q", ErrInvalidChart, a.Number, a.Nature)
		}
		byNumber[a.Number] = a
	}

	for _, a := range f.Accounts {
		seen := map[string]bool{a.Number: true}
		for p := a.Parent; p != ""; p = byNumber[p].Parent {
			if _, ok := byNumber[p]; !ok {
				return nil, fmt.Errorf("%w: account %s has unknown parent %s", ErrInvalidChart, a.Number, p)
			}
			if seen[p] {
				return nil, fmt.Errorf("%w: parent cycle at account %s", ErrInvalidChart, a.Number)
			}
			seen[p] = true
		}
	}

	return entity.NewChartOfAccounts(f.Accounts), nil
}

// LoadChart reads a chart from path; an empty path yields the built-in chart
func LoadChart(path string) (*entity.ChartOfAccounts, error) {
	if path == "" {
		return ParseChart(defaultChart)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chart of accounts: %w", err)
	}
	return ParseChart(data)
}

// DefaultChart returns the built-in Swiss SME chart of accounts
func DefaultChart() *entity.ChartOfAccounts {
	c, err := ParseChart(defaultChart)
	if err != nil {
		panic(fmt.Sprintf("built-in chart of accounts: %v", err))
	}
	return c
}

// ChartHolder publishes the active chart of accounts for hot reload
type ChartHolder struct {
	chart atomic.Pointer[entity.ChartOfAccounts]
}

// NewChartHolder creates a holder seeded with c
func NewChartHolder(c *entity.ChartOfAccounts) *ChartHolder {
	h := &ChartHolder{}
	h.chart.Store(c)
	return h
}

// Load returns the current chart
func (h *ChartHolder) Load() *entity.ChartOfAccounts {
	return h.chart.Load()
}

// Reload reads path and swaps the chart in on success
func (h *ChartHolder) Reload(path string) error {
	c, err := LoadChart(path)
	if err != nil {
		return err
	}
	h.chart.Store(c)
	return nil
}
