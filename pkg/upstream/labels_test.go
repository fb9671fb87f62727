package upstream

import (
	"strings"
	"testing"
)

func TestLabelMap_Resolve(t *testing.T) {
	m := DefaultLabelMap()

	tests := []struct {
		name  string
		label string
		want  string
		found bool
	}{
		{
			name:  "exact label",
			label: "Net turnover",
			want:  IndicatorNetTurnover,
			found: true,
		},
		{
			name:  "case insensitive",
			label: "NET TURNOVER",
			want:  IndicatorNetTurnover,
			found: true,
		},
		{
			name:  "whitespace collapsed",
			label: "  Net   turnover ",
			want:  IndicatorNetTurnover,
			found: true,
		},
		{
			name:  "unknown label",
			label: "Goodwill amortization",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Resolve(tt.label)
			if ok != tt.found {
				t.Fatalf("Resolve(%q) found = %v, want %v", tt.label, ok, tt.found)
			}
			if ok && got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.label, got, tt.want)
			}
		})
	}
}

func TestNewLabelMap_Collision(t *testing.T) {
	// Two distinct labels normalizing to the same form and mapping to
	// different keys must be rejected, never silently overwritten.
	_, err := NewLabelMap(map[string]string{
		"Net turnover":  "net_turnover",
		"NET  TURNOVER": "turnover_other",
	})
	if err == nil {
		t.Fatal("NewLabelMap should reject colliding labels")
	}
	if !strings.Contains(err.Error(), "collides") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewLabelMap_DuplicateSameKey(t *testing.T) {
	// Same target key is not a collision.
	m, err := NewLabelMap(map[string]string{
		"Net turnover": "net_turnover",
		"net turnover": "net_turnover",
	})
	if err != nil {
		t.Fatalf("NewLabelMap failed: %v", err)
	}
	if _, ok := m.Resolve("Net Turnover"); !ok {
		t.Error("expected label to resolve")
	}
}

func TestNewLabelMap_EmptyLabel(t *testing.T) {
	_, err := NewLabelMap(map[string]string{"   ": "key"})
	if err == nil {
		t.Fatal("NewLabelMap should reject empty labels")
	}
}
