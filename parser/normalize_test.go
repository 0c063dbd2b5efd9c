package parser

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-pharmacy/models"
)

var fixedNow = time.Date(2025, 11, 4, 13, 9, 13, 0, time.FixedZone("PET", -5*3600))

func TestNormalizeRecordIsTotal(t *testing.T) {
	inputs := []models.RawRecord{
		nil,
		{},
		{models.FieldSKU: nil, models.FieldListPrice: nil},
		{models.FieldCommercialName: "  Panadol  ", "unexpected": "ignored"},
		{models.FieldPromoPrice: 8.5, models.FieldSKU: 24510},
	}

	for _, raw := range inputs {
		rec := NormalizeRecord(raw, fixedNow)
		require.NotNil(t, rec)

		row := rec.Row()
		require.Len(t, row, len(models.Columns))

		encoded, err := json.Marshal(rec)
		require.NoError(t, err)
		var fields map[string]any
		require.NoError(t, json.Unmarshal(encoded, &fields))
		assert.Len(t, fields, len(models.Columns))
		for _, col := range models.Columns {
			value, ok := fields[col]
			assert.True(t, ok, "missing column %s", col)
			assert.NotNil(t, value, "column %s is null", col)
		}
		assert.Equal(t, "2025-11-04T18:09:13Z", rec.ExtractedAt)
	}
}

func TestNormalizeRecordValues(t *testing.T) {
	raw := models.RawRecord{
		models.FieldSKU:            24510,
		models.FieldCommercialName: " Panadol Forte ",
		models.FieldListPrice:      "S/ 12,00",
		models.FieldPromoPrice:     8.5,
		models.FieldCategory:       "farmacia",
		models.FieldExtractedAt:    "2025-01-01T00:00:00Z",
	}

	rec := NormalizeRecord(raw, fixedNow)
	assert.Equal(t, "24510", rec.SKU)
	assert.Equal(t, "Panadol Forte", rec.CommercialName)
	assert.Equal(t, models.Price{Value: 12, Valid: true, Raw: "S/ 12,00"}, rec.ListPrice)
	assert.Equal(t, "8.50", rec.PromoPrice.String())
	assert.Equal(t, "farmacia", rec.Category)
	assert.Equal(t, "", rec.Subcategory)
	assert.Equal(t, "2025-01-01T00:00:00Z", rec.ExtractedAt)
}

func TestNormalizeRecordKeepsUnparsablePriceText(t *testing.T) {
	rec := NormalizeRecord(models.RawRecord{models.FieldListPrice: "consultar"}, fixedNow)
	assert.False(t, rec.ListPrice.Valid)
	assert.Equal(t, "consultar", rec.ListPrice.String())
	assert.Equal(t, "", rec.PromoPrice.String())
}
