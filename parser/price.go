// Package parser turns fetched markup into normalized product records.
package parser

import (
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-pharmacy/models"
)

// currencyToken removes the dotted sol symbol, whose dot is not a decimal mark.
var currencyToken = strings.NewReplacer("S/.", "", "s/.", "")

// ParsePrice recovers a numeric amount from free-form currency text such as
// "S/ 12.50", "12,30" or "12.345,67".
//
// When both '.' and ',' are present the dot is a thousands separator and the
// comma the decimal mark. A lone comma is the decimal mark. Anything that still
// fails to parse yields an invalid Price that keeps the trimmed input in Raw.
func ParsePrice(text string) models.Price {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return models.Price{}
	}

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			return r
		default:
			return -1
		}
	}, currencyToken.Replace(raw))

	hasDot := strings.Contains(cleaned, ".")
	hasComma := strings.Contains(cleaned, ",")
	switch {
	case hasDot && hasComma:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	case hasComma:
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return models.Price{Raw: raw}
	}
	return models.Price{Value: value, Valid: true, Raw: raw}
}
