package entity

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    ID
		wantErr bool
	}{
		{
			name: "bare digits",
			raw:  "123",
			want: "123",
		},
		{
			name: "country prefix and leading zeros",
			raw:  "RO000123",
			want: "123",
		},
		{
			name: "lowercase prefix",
			raw:  "ro123",
			want: "123",
		},
		{
			name: "leading zeros only",
			raw:  "000123",
			want: "123",
		},
		{
			name: "surrounding whitespace",
			raw:  "  RO123  ",
			want: "123",
		},
		{
			name: "all zeros",
			raw:  "RO0000",
			want: "0",
		},
		{
			name:    "empty",
			raw:     "",
			wantErr: true,
		},
		{
			name:    "prefix only",
			raw:     "RO",
			wantErr: true,
		},
		{
			name:    "non-digit remainder",
			raw:     "RO12x3",
			wantErr: true,
		},
		{
			name:    "three letter prefix",
			raw:     "ROU123",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) = %q, want error", tt.raw, got)
				}
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("Parse(%q) error = %v, want ErrInvalid", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParse_EquivalentForms(t *testing.T) {
	// Different spellings of the same identifier must canonicalize identically.
	forms := []string{"RO000123", "ro123", "000123", "123"}

	want := MustParse("123")
	for _, f := range forms {
		got, err := Parse(f)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", f, err)
		}
		if got != want {
			t.Errorf("Parse(%q) = %q, want %q", f, got, want)
		}
	}
}

func TestStatementKey(t *testing.T) {
	key := StatementKey("123", 2024)
	if key != "123:2024" {
		t.Errorf("StatementKey = %q, want %q", key, "123:2024")
	}
}

func TestMustParse_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustParse should panic on invalid input")
		}
	}()
	MustParse("not-an-id")
}
