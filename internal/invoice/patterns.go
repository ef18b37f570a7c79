package invoice

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/garyjia/docledger/internal/domain/entity"
	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// ErrInvalidPatterns is returned for pattern tables that fail to compile
var ErrInvalidPatterns = errors.New("invalid pattern table")

// Category groups patterns that produce the same kind of candidate
type Category string

const (
	CategoryAmount        Category = "amount"
	CategoryNetAmount     Category = "net_amount"
	CategoryVATAmount     Category = "vat_amount"
	CategoryVATRate       Category = "vat_rate"
	CategoryDate          Category = "date"
	CategoryBusinessID    Category = "business_id"
	CategoryBankAccount   Category = "bank_account"
	CategoryReference     Category = "reference"
	CategoryAddress       Category = "address"
	CategorySupplier      Category = "supplier"
	CategoryLegalSuffix   Category = "legal_suffix"
	CategoryTotalLabel    Category = "total_label"
	CategorySubtotalLabel Category = "subtotal_label"
)

var knownCategories = map[Category]bool{
	CategoryAmount: true, CategoryNetAmount: true, CategoryVATAmount: true, CategoryVATRate: true,
	CategoryDate: true, CategoryBusinessID: true, CategoryBankAccount: true, CategoryReference: true,
	CategoryAddress: true, CategorySupplier: true, CategoryLegalSuffix: true,
	CategoryTotalLabel: true, CategorySubtotalLabel: true,
}

// label categories match on the whole expression and need no value group
func (c Category) isLabel() bool {
	return c == CategoryTotalLabel || c == CategorySubtotalLabel
}

// PatternSpec is one row of the pattern table as written in YAML
type PatternSpec struct {
	Category    string `yaml:"category"`
	Subcategory string `yaml:"subcategory"`
	Locale      string `yaml:"locale"`
	Pattern     string `yaml:"pattern"`
}

// KnownSupplier maps spellings of a supplier to its name and category
type KnownSupplier struct {
	Name     string   `yaml:"name"`
	Category string   `yaml:"category"`
	Aliases  []string `yaml:"aliases"`
}

type patternFile struct {
	Version     string            `yaml:"version"`
	Definitions map[string]string `yaml:"definitions"`
	Patterns    []PatternSpec     `yaml:"patterns"`
	Suppliers   []KnownSupplier   `yaml:"suppliers"`
}

// Pattern is a compiled table row
type Pattern struct {
	Category    Category
	Subcategory string
	Locale      entity.Lang
	Name        string

	re          *regexp.Regexp
	valueIdx    int
	currencyIdx int
	cityIdx     int
	skipIdx     []int
}

// Span is a half-open byte range [Start, End) of the document text
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

type match struct {
	pattern  *Pattern
	span     Span
	currency string
	city     string
}

type supplierMatcher struct {
	KnownSupplier
	re *regexp.Regexp
}

// PatternSet is a compiled, immutable pattern table
type PatternSet struct {
	version    string
	byCategory map[Category][]*Pattern
	suppliers  []supplierMatcher
	size       int
}

// CompilePatterns parses and compiles a YAML pattern table
func CompilePatterns(data []byte) (*PatternSet, error) {
	var f patternFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatterns, err)
	}
	if len(f.Patterns) == 0 {
		return nil, fmt.Errorf("%w: no patterns", ErrInvalidPatterns)
	}

	ps := &PatternSet{
		version:    f.Version,
		byCategory: make(map[Category][]*Pattern),
	}

	for i, spec := range f.Patterns {
		p, err := compilePattern(i, spec, f.Definitions)
		if err != nil {
			return nil, err
		}
		ps.byCategory[p.Category] = append(ps.byCategory[p.Category], p)
		ps.size++
	}

	for _, s := range f.Suppliers {
		if s.Name == "" || len(s.Aliases) == 0 {
			return nil, fmt.Errorf("%w: supplier %q needs a name and aliases", ErrInvalidPatterns, s.Name)
		}
		quoted := make([]string, len(s.Aliases))
		for i, a := range s.Aliases {
			quoted[i] = regexp.QuoteMeta(a)
		}
		re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("%w: supplier %s: %v", ErrInvalidPatterns, s.Name, err)
		}
		ps.suppliers = append(ps.suppliers, supplierMatcher{KnownSupplier: s, re: re})
	}

	return ps, nil
}

func compilePattern(i int, spec PatternSpec, defs map[string]string) (*Pattern, error) {
	cat := Category(spec.Category)
	if !knownCategories[cat] {
		return nil, fmt.Errorf("%w: pattern %d has unknown category %q", ErrInvalidPatterns, i, spec.Category)
	}
	lang := entity.Lang(spec.Locale)
	if !lang.IsValid() {
		return nil, fmt.Errorf("%w: pattern %d has unknown locale %q", ErrInvalidPatterns, i, spec.Locale)
	}

	// definitions may reference each other; each pass resolves one level
	expr := spec.Pattern
	for pass := 0; pass <= len(defs) && strings.Contains(expr, "{{"); pass++ {
		for name, def := range defs {
			expr = strings.ReplaceAll(expr, "{{"+name+"}}", def)
		}
	}
	if strings.Contains(expr, "{{") {
		return nil, fmt.Errorf("%w: pattern %d references an undefined name", ErrInvalidPatterns, i)
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %d: %v", ErrInvalidPatterns, i, err)
	}

	p := &Pattern{
		Category:    cat,
		Subcategory: spec.Subcategory,
		Locale:      lang,
		Name:        fmt.Sprintf("%s/%s#%d", spec.Category, spec.Subcategory, i),
		re:          re,
		valueIdx:    re.SubexpIndex("value"),
		currencyIdx: re.SubexpIndex("currency"),
		cityIdx:     re.SubexpIndex("city"),
	}
	for idx, name := range re.SubexpNames() {
		if strings.HasPrefix(name, "skip") {
			p.skipIdx = append(p.skipIdx, idx)
		}
	}
	if p.valueIdx < 0 && !cat.isLabel() {
		return nil, fmt.Errorf("%w: pattern %d (%s) has no value group", ErrInvalidPatterns, i, spec.Category)
	}
	return p, nil
}

// LoadPatterns reads a pattern table file; an empty path yields the built-in table
func LoadPatterns(path string) (*PatternSet, error) {
	if path == "" {
		return DefaultPatterns(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern table: %w", err)
	}
	return CompilePatterns(data)
}

// DefaultPatterns returns the built-in pattern table
func DefaultPatterns() *PatternSet {
	ps, err := CompilePatterns(defaultPatterns)
	if err != nil {
		panic(fmt.Sprintf("built-in pattern table: %v", err))
	}
	return ps
}

// Version returns the version label of the table source
func (ps *PatternSet) Version() string {
	return ps.version
}

// Len returns the number of compiled patterns
func (ps *PatternSet) Len() int {
	return ps.size
}

// Patterns returns the patterns of a category, those for lang first.
// Patterns of other locales follow in table order; none are dropped.
func (ps *PatternSet) Patterns(c Category, lang entity.Lang) []*Pattern {
	all := ps.byCategory[c]
	out := make([]*Pattern, len(all))
	copy(out, all)
	if lang != entity.LangUnknown {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Locale == lang && out[j].Locale != lang
		})
	}
	return out
}

// find runs every pattern of a category over text. A match in which a skip group took
// part is dropped, as is one whose value span overlaps one already taken by an earlier
// pattern. Results are ordered by offset.
func (ps *PatternSet) find(c Category, text string, lang entity.Lang) []match {
	var out []match
	for _, p := range ps.Patterns(c, lang) {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			if p.skipped(loc) {
				continue
			}
			m := match{pattern: p, span: Span{Start: loc[0], End: loc[1]}}
			if p.valueIdx >= 0 {
				if loc[2*p.valueIdx] < 0 {
					continue
				}
				m.span = Span{Start: loc[2*p.valueIdx], End: loc[2*p.valueIdx+1]}
			}
			if m.span.Start == m.span.End {
				continue
			}
			if p.currencyIdx >= 0 && loc[2*p.currencyIdx] >= 0 {
				m.currency = text[loc[2*p.currencyIdx]:loc[2*p.currencyIdx+1]]
			}
			if p.cityIdx >= 0 && loc[2*p.cityIdx] >= 0 {
				m.city = text[loc[2*p.cityIdx]:loc[2*p.cityIdx+1]]
			}
			if overlapsAny(out, m.span) {
				continue
			}
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].span.Start < out[j].span.Start
	})
	return out
}

func (p *Pattern) skipped(loc []int) bool {
	for _, idx := range p.skipIdx {
		if loc[2*idx] >= 0 {
			return true
		}
	}
	return false
}

func overlapsAny(ms []match, s Span) bool {
	for _, m := range ms {
		if m.span.overlaps(s) {
			return true
		}
	}
	return false
}

// Labels are the total and subtotal label spans found in a text
type Labels struct {
	Totals    []Span `json:"totals"`
	Subtotals []Span `json:"subtotals"`
}

// FindLabels locates grand-total and subtotal labels in text
func (ps *PatternSet) FindLabels(text string) Labels {
	var l Labels
	for _, m := range ps.find(CategoryTotalLabel, text, entity.LangUnknown) {
		l.Totals = append(l.Totals, m.span)
	}
	for _, m := range ps.find(CategorySubtotalLabel, text, entity.LangUnknown) {
		l.Subtotals = append(l.Subtotals, m.span)
	}
	return l
}

// PatternHolder publishes the active pattern set for lock-free reads and whole-table swaps
type PatternHolder struct {
	set atomic.Pointer[PatternSet]
}

// NewPatternHolder creates a holder seeded with ps
func NewPatternHolder(ps *PatternSet) *PatternHolder {
	h := &PatternHolder{}
	h.set.Store(ps)
	return h
}

// Load returns the current pattern set
func (h *PatternHolder) Load() *PatternSet {
	return h.set.Load()
}

// Store swaps in a new pattern set
func (h *PatternHolder) Store(ps *PatternSet) {
	if ps != nil {
		h.set.Store(ps)
	}
}

// Reload compiles path and swaps it in; the previous set stays active on error
func (h *PatternHolder) Reload(path string) error {
	ps, err := LoadPatterns(path)
	if err != nil {
		return err
	}
	h.Store(ps)
	return nil
}
