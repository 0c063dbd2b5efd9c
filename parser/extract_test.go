package parser

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-pharmacy/models"
)

const detailURL = "https://inkafarma.pe/producto/panadol-antigripal/024510"

func newTestExtractor() *Extractor {
	e := NewExtractor(DefaultProductRules())
	e.Now = func() time.Time { return fixedNow }
	return e
}

func detailPage(payload string, extra string) string {
	return `<html><body>
<section class="product-detail-container" data-product='` + payload + `'>
  <h1 class="product-detail-information__name">Nombre visible</h1>
  ` + extra + `
</section>
<div class="related"><section class="product-card" data-product='{"id":"999","name":"Otro"}'><p>Registro Sanitario: RL-99999</p></section></div>
</body></html>`
}

func TestExtractIgnoresRelatedProductText(t *testing.T) {
	markup := `<html><body>
<div class="related">
  <section class="product-card" data-product='{"id":"999","name":"Otro"}'>
    <p>Registro Sanitario: RL-99999</p>
  </section>
</div>
<section class="product-detail-container" data-product='{"id":"1","name":"Ibuprofeno 400 mg Tabletas","presentations":[]}'>
  <h1>Ibuprofeno</h1>
</section>
</body></html>`

	ex := newTestExtractor().Extract(markup, detailURL, "farmacia", "")
	assert.Equal(t, SourceStructured, ex.Source)
	assert.Equal(t, "1", ex.Record[models.FieldSKU])
	assert.Nil(t, ex.Record[models.FieldSanitaryRegistry], "registry of a related card must not leak")

	withOwn := strings.Replace(markup, "<h1>Ibuprofeno</h1>", "<h1>Ibuprofeno</h1><p>Registro Sanitario N° EN-04567</p>", 1)
	ex = newTestExtractor().Extract(withOwn, detailURL, "farmacia", "")
	assert.Equal(t, "EN-04567", ex.Record[models.FieldSanitaryRegistry])
}

func TestExtractStructuredPayload(t *testing.T) {
	payload := `{
		"id": "024510",
		"name": "Panadol Antigripal 500 mg Tabletas",
		"compositionContent": "Paracetamol",
		"prescription": "VL",
		"defaultPresentation": "2",
		"presentations": [
			{"id": "1", "description": "Blister x 4", "price": 2.5, "stock": 0},
			{"id": "2", "description": "Caja x 100", "price": 8.00, "regularPrice": 12.00, "stock": 0, "stockRet": 4}
		]
	}`
	markup := detailPage(payload, `<p>Registro Sanitario: EE-01234</p>`)

	ex := newTestExtractor().Extract(markup, detailURL, "farmacia", "")
	require.NoError(t, ex.Note)
	assert.Equal(t, SourceStructured, ex.Source)

	rec := NormalizeRecord(ex.Record, fixedNow)
	assert.Equal(t, "024510", rec.SKU)
	assert.Equal(t, "Panadol Antigripal 500 mg Tabletas", rec.CommercialName)
	assert.Equal(t, "Paracetamol", rec.ActiveIngredient)
	assert.Equal(t, ConditionOverTheCounter, rec.SaleCondition)
	assert.Equal(t, "Caja x 100", rec.Presentation)
	assert.Equal(t, "12.00", rec.ListPrice.String())
	assert.Equal(t, "8.00", rec.PromoPrice.String())
	assert.Equal(t, StockAvailable, rec.Stock)
	assert.Equal(t, "EE-01234", rec.SanitaryRegistry)
	assert.Equal(t, "500 mg", rec.Concentration)
	assert.Equal(t, "Tableta", rec.Form)
	assert.Equal(t, "farmacia", rec.Category)
	assert.Equal(t, detailURL, rec.URL)
	assert.Equal(t, "2025-11-04T18:09:13Z", rec.ExtractedAt)
}

func TestExtractPrices(t *testing.T) {
	tests := []struct {
		name      string
		pres      string
		wantList  string
		wantPromo string
	}{
		{name: "regular above current", pres: `{"price": 8.00, "regularPrice": 12.00}`, wantList: "12.00", wantPromo: "8.00"},
		{name: "explicit old price", pres: `{"price": 8.00, "oldPrice": 10.00, "regularPrice": 12.00}`, wantList: "10.00", wantPromo: "8.00"},
		{name: "offer price only", pres: `{"offerPrice": "5,40"}`, wantList: "", wantPromo: "5.40"},
		{name: "regular price only", pres: `{"regularPrice": 6}`, wantList: "", wantPromo: "6.00"},
		{name: "regular below current", pres: `{"price": 9, "regularPrice": 7}`, wantList: "", wantPromo: "9.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			markup := detailPage(`{"id":"1","name":"X","presentations":[`+tt.pres+`]}`, "")
			ex := newTestExtractor().Extract(markup, detailURL, "farmacia", "")
			rec := NormalizeRecord(ex.Record, fixedNow)
			assert.Equal(t, tt.wantList, rec.ListPrice.String())
			assert.Equal(t, tt.wantPromo, rec.PromoPrice.String())
		})
	}
}

func TestExtractSaleConditionAndStock(t *testing.T) {
	markup := detailPage(`{"id":"7","name":"Amoxicilina","prescription":"RM","presentations":[{"id":"a","price":3,"stock":0}]}`, "")
	rec := NormalizeRecord(newTestExtractor().Extract(markup, detailURL, "farmacia", "").Record, fixedNow)
	assert.Equal(t, ConditionPrescription, rec.SaleCondition)
	assert.Equal(t, StockOutOfStock, rec.Stock)

	markup = detailPage(`{"id":"8","name":"Otro","prescription":"XX","presentations":[]}`, "")
	rec = NormalizeRecord(newTestExtractor().Extract(markup, detailURL, "farmacia", "").Record, fixedNow)
	assert.Equal(t, "XX", rec.SaleCondition)
	assert.Equal(t, "", rec.Stock)
}

func TestExtractFallsBackWithoutPayload(t *testing.T) {
	markup := `<html><body>
<h1 class="product-detail-information__name">Ibuprofeno 400 mg Cápsulas</h1>
<fp-product-detail-price><span>Precio</span> S/ 15,90</fp-product-detail-price>
</body></html>`

	ex := newTestExtractor().Extract(markup, detailURL, "farmacia", "dolor")
	assert.Equal(t, SourceHeuristic, ex.Source)
	require.Error(t, ex.Note)
	assert.True(t, errors.Is(ex.Note, ErrNoPayload))

	var extractErr *ExtractionError
	require.ErrorAs(t, ex.Note, &extractErr)
	assert.Equal(t, detailURL, extractErr.URL)

	rec := NormalizeRecord(ex.Record, fixedNow)
	assert.Equal(t, "Ibuprofeno 400 mg Cápsulas", rec.CommercialName)
	assert.Equal(t, "15.90", rec.PromoPrice.String())
	assert.Equal(t, "400 mg", rec.Concentration)
	assert.Equal(t, "Cápsula", rec.Form)
	assert.Equal(t, "dolor", rec.Subcategory)
	assert.Equal(t, "", rec.SKU)
}

func TestExtractMalformedPayload(t *testing.T) {
	markup := detailPage(`{"id": "1", "name": `, "")
	ex := newTestExtractor().Extract(markup, detailURL, "farmacia", "")
	assert.Equal(t, SourceHeuristic, ex.Source)
	require.Error(t, ex.Note)

	rec := NormalizeRecord(ex.Record, fixedNow)
	assert.Equal(t, "Nombre visible", rec.CommercialName)
	assert.Equal(t, detailURL, rec.URL)
}

func TestExtractNeverFails(t *testing.T) {
	inputs := []string{"", "not html at all", "<html><body><p>nothing</p></body></html>", "<section class='product-detail-container' data-product='[1,2]'>"}
	for _, markup := range inputs {
		ex := newTestExtractor().Extract(markup, detailURL, "bienestar", "")
		rec := NormalizeRecord(ex.Record, fixedNow)
		assert.Equal(t, "bienestar", rec.Category)
		assert.Equal(t, detailURL, rec.URL)
		assert.Equal(t, "2025-11-04T18:09:13Z", rec.ExtractedAt)
		assert.Len(t, rec.Row(), len(models.Columns))
	}
}

func TestExtractRecoversFromPanics(t *testing.T) {
	e := newTestExtractor()
	calls := 0
	e.Now = func() time.Time {
		calls++
		if calls == 1 {
			panic("clock failure")
		}
		return fixedNow
	}

	ex := e.Extract(detailPage(`{"id":"1"}`, ""), detailURL, "farmacia", "")
	assert.Equal(t, SourceMinimal, ex.Source)
	require.Error(t, ex.Note)
	assert.Equal(t, detailURL, ex.Record[models.FieldURL])
	assert.Equal(t, "farmacia", ex.Record[models.FieldCategory])
}
