package upstream

import (
	"fmt"
	"strings"
)

// LabelMap is an allow-listed mapping from upstream free-text indicator labels
// to internal indicator keys. Labels are matched after normalization
// (lowercase, trimmed, inner whitespace collapsed). Two distinct labels that
// normalize to the same form are rejected at construction; a label missing
// from the allow-list resolves to nothing and is dropped by the caller.
type LabelMap struct {
	byLabel map[string]string
}

// NewLabelMap builds a LabelMap from upstream-label -> internal-key entries.
func NewLabelMap(entries map[string]string) (*LabelMap, error) {
	byLabel := make(map[string]string, len(entries))
	for label, key := range entries {
		norm := normalizeLabel(label)
		if norm == "" {
			return nil, fmt.Errorf("label map: empty label for key %q", key)
		}
		if existing, ok := byLabel[norm]; ok && existing != key {
			return nil, fmt.Errorf("label map: %q collides with an existing label (both normalize to %q)", label, norm)
		}
		byLabel[norm] = key
	}
	return &LabelMap{byLabel: byLabel}, nil
}

// Resolve returns the internal key for an upstream label.
func (m *LabelMap) Resolve(label string) (string, bool) {
	key, ok := m.byLabel[normalizeLabel(label)]
	return key, ok
}

// normalizeLabel lowercases, trims, and collapses runs of whitespace.
func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Internal indicator keys produced by the default allow-list.
const (
	IndicatorNetTurnover   = "net_turnover"
	IndicatorNetResult     = "net_result"
	IndicatorTotalAssets   = "total_assets"
	IndicatorTotalEquity   = "total_equity"
	IndicatorTotalDebts    = "total_debts"
	IndicatorEmployeeCount = "employee_count"
)

var defaultLabels = map[string]string{
	"Net turnover":                IndicatorNetTurnover,
	"Profit or loss for the year": IndicatorNetResult,
	"Total assets":                IndicatorTotalAssets,
	"Total equity":                IndicatorTotalEquity,
	"Total debts":                 IndicatorTotalDebts,
	"Average number of employees": IndicatorEmployeeCount,
}

// DefaultLabelMap returns the allow-list for the registry's statement labels.
func DefaultLabelMap() *LabelMap {
	m, err := NewLabelMap(defaultLabels)
	if err != nil {
		panic(err)
	}
	return m
}
