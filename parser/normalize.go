package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-pharmacy/models"
)

// NormalizeRecord fills every column of the fixed schema from raw, parsing both
// price columns and stamping now when no extraction time was supplied.
// Missing and nil values become empty strings.
func NormalizeRecord(raw models.RawRecord, now time.Time) *models.ProductRecord {
	get := func(key string) string {
		return stringValue(raw[key])
	}

	rec := &models.ProductRecord{
		SKU:              get(models.FieldSKU),
		CommercialName:   get(models.FieldCommercialName),
		ActiveIngredient: get(models.FieldActiveIngredient),
		Form:             get(models.FieldForm),
		Concentration:    get(models.FieldConcentration),
		Presentation:     get(models.FieldPresentation),
		SaleCondition:    get(models.FieldSaleCondition),
		SanitaryRegistry: get(models.FieldSanitaryRegistry),
		ListPrice:        ParsePrice(get(models.FieldListPrice)),
		PromoPrice:       ParsePrice(get(models.FieldPromoPrice)),
		Category:         get(models.FieldCategory),
		Subcategory:      get(models.FieldSubcategory),
		Stock:            get(models.FieldStock),
		URL:              get(models.FieldURL),
		ExtractedAt:      get(models.FieldExtractedAt),
	}

	if rec.ExtractedAt == "" {
		rec.ExtractedAt = now.UTC().Format(models.TimestampLayout)
	}
	return rec
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return formatAmount(val)
	case float32:
		return formatAmount(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case time.Time:
		return val.UTC().Format(models.TimestampLayout)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
