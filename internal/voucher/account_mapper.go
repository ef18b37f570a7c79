package voucher

// Accounts used when booking documents
const (
	AccountReceivables = "1100"
	AccountInputTax    = "1170"
	AccountPayables    = "2000"
	AccountOutputTax   = "2200"
	AccountRevenue     = "3400"
	AccountExpense     = "4400"
)

// AccountMapper maps supplier categories to expense accounts of the chart
type AccountMapper struct {
	expense  map[string]string
	fallback string
	revenue  string
}

// NewAccountMapper creates a mapper with the built-in category accounts; overrides replace
// or extend them.
func NewAccountMapper(overrides map[string]string) *AccountMapper {
	m := &AccountMapper{
		expense: map[string]string{
			"utilities": "6400",
			"telecom":   "6510",
			"banks":     "6800",
			"insurers":  "6300",
			"transport": "6200",
			"retail":    "4200",
			"it":        "6570",
			"travel":    "6640",
		},
		fallback: AccountExpense,
		revenue:  AccountRevenue,
	}
	for category, account := range overrides {
		if account != "" {
			m.expense[category] = account
		}
	}
	return m
}

// MapExpense returns the expense account for a supplier category
func (m *AccountMapper) MapExpense(category string) string {
	if account, ok := m.expense[category]; ok {
		return account
	}
	return m.fallback
}

// Revenue returns the revenue account used for sales documents
func (m *AccountMapper) Revenue() string {
	return m.revenue
}
