package parser

import (
	"testing"

	"github.com/aluiziolira/go-scrape-pharmacy/models"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want models.Price
	}{
		{name: "currency prefix", in: "S/ 12.50", want: models.Price{Value: 12.50, Valid: true, Raw: "S/ 12.50"}},
		{name: "dotted currency prefix", in: "S/. 7.90", want: models.Price{Value: 7.90, Valid: true, Raw: "S/. 7.90"}},
		{name: "decimal comma", in: "12,30", want: models.Price{Value: 12.30, Valid: true, Raw: "12,30"}},
		{name: "thousands dot decimal comma", in: "12.345,67", want: models.Price{Value: 12345.67, Valid: true, Raw: "12.345,67"}},
		{name: "plain integer", in: " 8 ", want: models.Price{Value: 8, Valid: true, Raw: "8"}},
		{name: "empty", in: "", want: models.Price{}},
		{name: "whitespace", in: "   ", want: models.Price{}},
		{name: "garbage", in: "consultar", want: models.Price{Raw: "consultar"}},
		{name: "leading decimal dot", in: ".50", want: models.Price{Value: 0.5, Valid: true, Raw: ".50"}},
		{name: "leading decimal comma", in: ",50", want: models.Price{Value: 0.5, Valid: true, Raw: ",50"}},
		{name: "trailing dot", in: "12.50.", want: models.Price{Raw: "12.50."}},
		{name: "lowercase dotted prefix", in: "s/.3.20", want: models.Price{Value: 3.2, Valid: true, Raw: "s/.3.20"}},
		{name: "two decimal points", in: "1.2.3", want: models.Price{Raw: "1.2.3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParsePrice(tt.in); got != tt.want {
				t.Fatalf("ParsePrice(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPriceString(t *testing.T) {
	if got := ParsePrice("12,3").String(); got != "12.30" {
		t.Fatalf("String() = %q, want 12.30", got)
	}
	if got := ParsePrice("n/a").String(); got != "n/a" {
		t.Fatalf("String() = %q, want raw text", got)
	}
	if got := ParsePrice("").String(); got != "" {
		t.Fatalf("String() = %q, want empty", got)
	}
}
