// Package models defines data structures for the scraper.
package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// TimestampLayout is the sortable text format used for extraction timestamps.
const TimestampLayout = time.RFC3339

// Output column names, in their fixed order.
const (
	FieldSKU              = "sku"
	FieldCommercialName   = "nombre_comercial"
	FieldActiveIngredient = "dci"
	FieldForm             = "forma"
	FieldConcentration    = "concentracion"
	FieldPresentation     = "presentacion"
	FieldSaleCondition    = "condicion_venta"
	FieldSanitaryRegistry = "registro_sanitario"
	FieldListPrice        = "precio_lista"
	FieldPromoPrice       = "precio_promocion"
	FieldCategory         = "categoria"
	FieldSubcategory      = "subcategoria"
	FieldStock            = "stock_disponible"
	FieldURL              = "url_producto"
	FieldExtractedAt      = "fecha_extraccion"
)

// Columns lists every output field in header order.
var Columns = []string{
	FieldSKU,
	FieldCommercialName,
	FieldActiveIngredient,
	FieldForm,
	FieldConcentration,
	FieldPresentation,
	FieldSaleCondition,
	FieldSanitaryRegistry,
	FieldListPrice,
	FieldPromoPrice,
	FieldCategory,
	FieldSubcategory,
	FieldStock,
	FieldURL,
	FieldExtractedAt,
}

// RawRecord is the possibly incomplete mapping produced by extraction.
// Keys are column names; values may be missing, nil, strings or numbers.
type RawRecord map[string]any

// Price is a normalized currency amount. When Valid is false the amount could
// not be recovered and Raw carries the original text (possibly empty).
type Price struct {
	Value float64
	Valid bool
	Raw   string
}

// String renders the amount with two decimals, the raw text, or "".
func (p Price) String() string {
	if p.Valid {
		return strconv.FormatFloat(p.Value, 'f', 2, 64)
	}
	return p.Raw
}

// MarshalJSON encodes a recovered amount as a number and anything else as text.
func (p Price) MarshalJSON() ([]byte, error) {
	if p.Valid {
		return []byte(strconv.FormatFloat(p.Value, 'f', -1, 64)), nil
	}
	return json.Marshal(p.Raw)
}

// ProductRecord is one schema-complete, normalized catalog entry.
type ProductRecord struct {
	SKU              string `json:"sku"`
	CommercialName   string `json:"nombre_comercial"`
	ActiveIngredient string `json:"dci"`
	Form             string `json:"forma"`
	Concentration    string `json:"concentracion"`
	Presentation     string `json:"presentacion"`
	SaleCondition    string `json:"condicion_venta"`
	SanitaryRegistry string `json:"registro_sanitario"`
	ListPrice        Price  `json:"precio_lista"`
	PromoPrice       Price  `json:"precio_promocion"`
	Category         string `json:"categoria"`
	Subcategory      string `json:"subcategoria"`
	Stock            string `json:"stock_disponible"`
	URL              string `json:"url_producto"`
	ExtractedAt      string `json:"fecha_extraccion"`
}

// Row returns the record's cells in Columns order.
func (r *ProductRecord) Row() []string {
	return []string{
		r.SKU,
		r.CommercialName,
		r.ActiveIngredient,
		r.Form,
		r.Concentration,
		r.Presentation,
		r.SaleCondition,
		r.SanitaryRegistry,
		r.ListPrice.String(),
		r.PromoPrice.String(),
		r.Category,
		r.Subcategory,
		r.Stock,
		r.URL,
		r.ExtractedAt,
	}
}

// CrawlResult holds the overall result of a crawl run.
type CrawlResult struct {
	RunID         string
	StartTime     time.Time
	EndTime       time.Time
	Emitted       int
	ListingPages  int
	DetailFetches int
	FetchErrors   int
	FailedURLs    []string
	ErrorsByType  map[string]int
	Fallbacks     int
	CapReached    bool
}
