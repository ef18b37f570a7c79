package vat

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/garyjia/docledger/internal/domain/entity"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed rates.yaml
var defaultRates []byte

var (
	// ErrNoRate is returned when no rate of a category is in force on a date
	ErrNoRate = errors.New("no VAT rate in force")
	// ErrInvalidTable is returned for rate tables that fail validation
	ErrInvalidTable = errors.New("invalid VAT rate table")
)

type rateFile struct {
	Version string     `yaml:"version"`
	Rates   []rateSpec `yaml:"rates"`
}

type rateSpec struct {
	Code      string     `yaml:"code"`
	Category  string     `yaml:"category"`
	Direction string     `yaml:"direction"`
	Percent   string     `yaml:"percent"`
	From      time.Time  `yaml:"from"`
	To        *time.Time `yaml:"to"`
}

// Table is an immutable, effective-dated VAT rate table.
// Share it freely between goroutines; swap whole tables through a Holder.
type Table struct {
	version string
	codes   []entity.RateCode
	byCode  map[string]int
	now     func() time.Time
}

// NewTable validates codes and builds a table; the slice order is kept as the tie-break order
func NewTable(version string, codes []entity.RateCode) (*Table, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: no rates", ErrInvalidTable)
	}
	t := &Table{
		version: version,
		codes:   make([]entity.RateCode, len(codes)),
		byCode:  make(map[string]int, len(codes)),
		now:     time.Now,
	}
	copy(t.codes, codes)

	for i, c := range t.codes {
		if c.Code == "" {
			return nil, fmt.Errorf("%w: rate %d has no code", ErrInvalidTable, i)
		}
		if _, dup := t.byCode[c.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate code %s", ErrInvalidTable, c.Code)
		}
		if !c.Category.IsValid() {
			return nil, fmt.Errorf("%w: %s has unknown category %q", ErrInvalidTable, c.Code, c.Category)
		}
		if !c.Direction.IsValid() {
			return nil, fmt.Errorf("%w: %s has unknown direction %q", ErrInvalidTable, c.Code, c.Direction)
		}
		if c.Percent.IsNegative() || c.Percent.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("%w: %s percent %s out of range", ErrInvalidTable, c.Code, c.Percent)
		}
		if c.EffectiveTo != nil && !c.EffectiveTo.After(c.EffectiveFrom) {
			return nil, fmt.Errorf("%w: %s ends before it starts", ErrInvalidTable, c.Code)
		}
		t.byCode[c.Code] = i
	}
	return t, nil
}

// ParseTable reads a YAML rate table; percentages in the file are percentage points
func ParseTable(data []byte) (*Table, error) {
	var f rateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}

	codes := make([]entity.RateCode, 0, len(f.Rates))
	for _, r := range f.Rates {
		points, err := decimal.NewFromString(r.Percent)
		if err != nil {
			return nil, fmt.Errorf("%w: %s percent %q: %v", ErrInvalidTable, r.Code, r.Percent, err)
		}
		if r.From.IsZero() {
			return nil, fmt.Errorf("%w: %s has no effective date", ErrInvalidTable, r.Code)
		}
		codes = append(codes, entity.RateCode{
			Code:          r.Code,
			Category:      entity.RateCategory(r.Category),
			Direction:     entity.Direction(r.Direction),
			Percent:       points.Shift(-2),
			EffectiveFrom: r.From,
			EffectiveTo:   r.To,
		})
	}
	return NewTable(f.Version, codes)
}

// LoadTable reads a rate table file; an empty path yields the built-in table
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate table: %w", err)
	}
	return ParseTable(data)
}

// DefaultTable returns the built-in Swiss rate table
func DefaultTable() *Table {
	t, err := ParseTable(defaultRates)
	if err != nil {
		panic(fmt.Sprintf("built-in rate table: %v", err))
	}
	return t
}

// WithClock returns a copy of the table that uses now as the reference date for undated detection
func (t *Table) WithClock(now func() time.Time) *Table {
	c := *t
	c.now = now
	return &c
}

// Version returns the version label of the table source
func (t *Table) Version() string {
	return t.version
}

// Codes returns a copy of all rate codes in table order
func (t *Table) Codes() []entity.RateCode {
	out := make([]entity.RateCode, len(t.codes))
	copy(out, t.codes)
	return out
}

// Lookup finds a rate code by its code string
func (t *Table) Lookup(code string) (entity.RateCode, bool) {
	i, ok := t.byCode[code]
	if !ok {
		return entity.RateCode{}, false
	}
	return t.codes[i], true
}

// RateCodeFor returns the code of category and direction in force on date
func (t *Table) RateCodeFor(date time.Time, category entity.RateCategory, direction entity.Direction) (entity.RateCode, error) {
	for _, c := range t.codes {
		if c.Category == category && c.Direction == direction && c.ActiveOn(date) {
			return c, nil
		}
	}
	return entity.RateCode{}, fmt.Errorf("%w: %s %s on %s", ErrNoRate, direction, category, date.Format("2006-01-02"))
}

// RateForDate returns the percentage (as a fraction) of category in force on date.
// Sale and purchase rates of one category never differ, so the first active entry wins.
func (t *Table) RateForDate(date time.Time, category entity.RateCategory) (decimal.Decimal, error) {
	for _, c := range t.codes {
		if c.Category == category && c.ActiveOn(date) {
			return c.Percent, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s on %s", ErrNoRate, category, date.Format("2006-01-02"))
}

// CodeForCategory returns the code of category in force on date. Without a valid direction
// the result carries only category and percentage, which is all a calculation needs.
func (t *Table) CodeForCategory(date time.Time, category entity.RateCategory, direction entity.Direction) (entity.RateCode, error) {
	if direction.IsValid() {
		return t.RateCodeFor(date, category, direction)
	}
	p, err := t.RateForDate(date, category)
	if err != nil {
		return entity.RateCode{}, err
	}
	return entity.RateCode{Category: category, Percent: p}, nil
}

// StandardRate returns the normal rate for direction in force on date,
// or the most recent normal rate when the date precedes the table.
func (t *Table) StandardRate(direction entity.Direction, date time.Time) entity.RateCode {
	if c, err := t.RateCodeFor(date, entity.RateNormal, direction); err == nil {
		return c
	}
	var latest entity.RateCode
	found := false
	for _, c := range t.codes {
		if c.Category != entity.RateNormal || c.Direction != direction {
			continue
		}
		if !found || c.EffectiveFrom.After(latest.EffectiveFrom) {
			latest, found = c, true
		}
	}
	if !found {
		// a table without normal rates still yields a usable zero code
		return entity.RateCode{Code: "UNKNOWN", Category: entity.RateNormal, Direction: direction, Percent: decimal.Zero}
	}
	return latest
}

// sortByPreference orders candidates active on ref first, then newest first; ties keep table order
func sortByPreference(cands []entity.RateCode, ref time.Time) {
	sort.SliceStable(cands, func(i, j int) bool {
		ai, aj := cands[i].ActiveOn(ref), cands[j].ActiveOn(ref)
		if ai != aj {
			return ai
		}
		return cands[i].EffectiveFrom.After(cands[j].EffectiveFrom)
	})
}
