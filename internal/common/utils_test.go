package common

import (
	"strings"
	"testing"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ABC-123", "ABC-123"},
		{"  ABC-123\n", "ABC-123"},
		{`"ABC-123"`, "ABC-123"},
		{"' ABC-123 '", "ABC-123"},
		{`"`, `"`},
		{"", ""},
	}

	for _, tt := range tests {
		if got := SanitizeKey(tt.in); got != tt.want {
			t.Errorf("SanitizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFilterFields(t *testing.T) {
	row := struct {
		SKU       string `json:"sku"`
		DaysSince int    `json:"days_since"`
		Error     string `json:"error"`
	}{"A", 3, ""}

	got := FilterFields(row, "sku, days_since, missing")
	if len(got) != 2 {
		t.Fatalf("FilterFields() = %v, want 2 fields", got)
	}
	if got["sku"] != "A" || got["days_since"] != float64(3) {
		t.Errorf("FilterFields() = %v", got)
	}

	if all := FilterFields(row, ""); len(all) != 3 {
		t.Errorf("FilterFields(\"\") = %v, want all 3 fields", all)
	}
}

func TestMarshal(t *testing.T) {
	v := map[string]int{"processed": 2}

	y, err := Marshal("", v)
	if err != nil || strings.TrimSpace(string(y)) != "processed: 2" {
		t.Errorf("Marshal(yaml) = %q, %v", y, err)
	}
	j, err := Marshal("JSON", v)
	if err != nil || !strings.Contains(string(j), `"processed": 2`) {
		t.Errorf("Marshal(json) = %q, %v", j, err)
	}
	if _, err := Marshal("xml", v); err == nil {
		t.Error("Marshal(xml) error = nil, want error")
	}
}
