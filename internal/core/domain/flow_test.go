package domain

import "testing"

func TestFormValue(t *testing.T) {
	data := map[string]any{
		"text":       "25000",
		"whole":      float64(18000),
		"fractional": 25000.7,
		"large":      float64(1e21),
		"flag":       true,
	}
	tests := []struct {
		key  string
		want string
	}{
		{"text", "25000"},
		{"whole", "18000"},
		{"fractional", "25000.7"},
		{"large", "1000000000000000000000"},
		{"flag", ""},
		{"missing", ""},
	}
	for _, tt := range tests {
		if got := FormValue(data, tt.key); got != tt.want {
			t.Errorf("FormValue(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
	if IsDigits(FormValue(data, "fractional")) {
		t.Error("a fractional budget must not pass the digits check")
	}
}
