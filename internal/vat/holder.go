package vat

import "sync/atomic"

// Holder publishes the active rate table. Readers take a snapshot with Load and keep using it
// for the whole computation; reloads replace the table without touching in-flight readers.
type Holder struct {
	table atomic.Pointer[Table]
}

// NewHolder creates a holder seeded with t
func NewHolder(t *Table) *Holder {
	h := &Holder{}
	h.table.Store(t)
	return h
}

// Load returns the current table
func (h *Holder) Load() *Table {
	return h.table.Load()
}

// Store swaps in a new table
func (h *Holder) Store(t *Table) {
	if t != nil {
		h.table.Store(t)
	}
}

// Reload reads path and swaps the table in on success; the old table stays active on error
func (h *Holder) Reload(path string) error {
	t, err := LoadTable(path)
	if err != nil {
		return err
	}
	h.Store(t)
	return nil
}
