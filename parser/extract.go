package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-pharmacy/models"
)

// Sale condition and availability labels written to the output.
const (
	ConditionPrescription   = "Prescription Required"
	ConditionOverTheCounter = "Over the Counter"

	StockAvailable  = "Available"
	StockOutOfStock = "Out of Stock"
)

var saleConditions = map[string]string{
	"RM": ConditionPrescription,
	"VL": ConditionOverTheCounter,
	"0":  ConditionOverTheCounter,
}

// ErrNoPayload reports a detail page without the primary product payload.
var ErrNoPayload = errors.New("structured product payload not found")

// Source names the strategy that produced an extraction.
type Source string

const (
	SourceStructured Source = "structured"
	SourceHeuristic  Source = "heuristic"
	SourceMinimal    Source = "minimal"
)

// ExtractionError describes why a page could not be fully extracted. It is
// only ever attached to an Extraction as a diagnostic, never returned.
type ExtractionError struct {
	URL   string
	Stage string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.URL, e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Extraction is the outcome of parsing one detail page. Record is always
// populated with at least the category, subcategory, URL and timestamp.
type Extraction struct {
	Record models.RawRecord
	Source Source
	Note   error
}

// ProductRules locates the pieces of a product detail page.
type ProductRules struct {
	// PayloadSelector selects the element holding the primary product JSON.
	PayloadSelector string
	PayloadAttr     string
	PriceSelector   string
	PricePattern    *regexp.Regexp
	NameSelectors   []string
}

// DefaultProductRules returns the rules for the target catalog.
func DefaultProductRules() ProductRules {
	return ProductRules{
		PayloadSelector: "section.product-detail-container",
		PayloadAttr:     "data-product",
		PriceSelector:   "fp-product-detail-price",
		PricePattern:    regexp.MustCompile(`S/\s*([0-9][0-9,.]*)`),
		NameSelectors: []string{
			"h1.product-detail-information__name",
			"section.product-detail-container h1",
			"h1",
		},
	}
}

// Extractor parses product detail pages.
type Extractor struct {
	Rules ProductRules
	Now   func() time.Time
}

// NewExtractor builds an extractor with the given rules.
func NewExtractor(rules ProductRules) *Extractor {
	return &Extractor{Rules: rules, Now: time.Now}
}

// Extract parses markup into a raw record. It never fails: anything that goes
// wrong degrades the record and is reported through Extraction.Note.
func (e *Extractor) Extract(markup, pageURL, category, subcategory string) (result Extraction) {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	minimal := func() models.RawRecord {
		return models.RawRecord{
			models.FieldCategory:    category,
			models.FieldSubcategory: subcategory,
			models.FieldURL:         pageURL,
			models.FieldExtractedAt: now().UTC().Format(models.TimestampLayout),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = Extraction{
				Record: minimal(),
				Source: SourceMinimal,
				Note:   &ExtractionError{URL: pageURL, Stage: "panic", Err: fmt.Errorf("%v", r)},
			}
		}
	}()

	doc, err := ParseDocument(markup)
	if err != nil {
		return Extraction{
			Record: minimal(),
			Source: SourceMinimal,
			Note:   &ExtractionError{URL: pageURL, Stage: "document", Err: err},
		}
	}

	rec := minimal()
	result = Extraction{Record: rec, Source: SourceStructured}

	payload, err := e.payload(doc)
	if err != nil {
		result.Source = SourceHeuristic
		result.Note = &ExtractionError{URL: pageURL, Stage: "structured", Err: err}
		if name := e.heading(doc); name != "" {
			rec[models.FieldCommercialName] = name
		}
	} else {
		payload.apply(rec)
	}

	if stringValue(rec[models.FieldPromoPrice]) == "" {
		if price := e.displayedPrice(doc); price != "" {
			rec[models.FieldPromoPrice] = price
		}
	}
	applyPageText(e.textScope(doc), rec)

	return result
}

func (e *Extractor) payload(doc *goquery.Document) (*productPayload, error) {
	var raw string
	doc.Find(e.Rules.PayloadSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := s.Attr(e.Rules.PayloadAttr); ok && strings.TrimSpace(v) != "" {
			raw = v
			return false
		}
		return true
	})
	if raw == "" {
		return nil, ErrNoPayload
	}

	var p productPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode product payload: %w", err)
	}
	return &p, nil
}

// textScope is the primary product container when the page has one, so that
// related-product cards elsewhere on the page cannot leak into the record.
func (e *Extractor) textScope(doc *goquery.Document) *goquery.Selection {
	if primary := doc.Find(e.Rules.PayloadSelector).First(); primary.Length() > 0 {
		return primary
	}
	return doc.Selection
}

func (e *Extractor) heading(doc *goquery.Document) string {
	for _, sel := range e.Rules.NameSelectors {
		if text := cleanText(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func (e *Extractor) displayedPrice(doc *goquery.Document) string {
	if e.Rules.PricePattern == nil {
		return ""
	}
	text := cleanText(doc.Find(e.Rules.PriceSelector).First().Text())
	m := e.Rules.PricePattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	amount := strings.TrimRight(m[1], ".,")
	if strings.Contains(amount, ",") && !strings.Contains(amount, ".") {
		amount = strings.ReplaceAll(amount, ",", ".")
	}
	return amount
}

var (
	registryPattern      = regexp.MustCompile(`(?i)registro\s+sanitario\s*(?:n[°º.]?\s*)?:?\s*([A-Z0-9\-]*\d[A-Z0-9\-]*)`)
	concentrationPattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?\s?(?:mg|mcg|µg|g|ml|ui|%)(?:\s?/\s?\d*(?:[.,]\d+)?\s?(?:ml|g|l))?)(?:[^\p{L}]|$)`)
)

var dosageForms = map[string]string{
	"tableta":     "Tableta",
	"tabletas":    "Tableta",
	"comprimido":  "Comprimido",
	"comprimidos": "Comprimido",
	"cápsula":     "Cápsula",
	"cápsulas":    "Cápsula",
	"capsula":     "Cápsula",
	"capsulas":    "Cápsula",
	"jarabe":      "Jarabe",
	"suspensión":  "Suspensión",
	"suspension":  "Suspensión",
	"solución":    "Solución",
	"solucion":    "Solución",
	"crema":       "Crema",
	"gel":         "Gel",
	"ungüento":    "Ungüento",
	"gotas":       "Gotas",
	"ampolla":     "Ampolla",
	"inyectable":  "Inyectable",
	"polvo":       "Polvo",
	"spray":       "Spray",
	"óvulo":       "Óvulo",
	"óvulos":      "Óvulo",
}

// applyPageText fills the columns the payload does not carry from visible text.
func applyPageText(scope *goquery.Selection, rec models.RawRecord) {
	if stringValue(rec[models.FieldSanitaryRegistry]) == "" {
		if m := registryPattern.FindStringSubmatch(cleanText(scope.Text())); len(m) > 1 {
			rec[models.FieldSanitaryRegistry] = strings.ToUpper(m[1])
		}
	}

	name := stringValue(rec[models.FieldCommercialName])
	if name == "" {
		return
	}
	if stringValue(rec[models.FieldConcentration]) == "" {
		if m := concentrationPattern.FindStringSubmatch(name); len(m) > 1 {
			rec[models.FieldConcentration] = strings.TrimSpace(m[1])
		}
	}
	if stringValue(rec[models.FieldForm]) == "" {
		words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool { return !unicode.IsLetter(r) })
		for _, w := range words {
			if form, ok := dosageForms[w]; ok {
				rec[models.FieldForm] = form
				break
			}
		}
	}
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

type productPayload struct {
	ID                  flexString     `json:"id"`
	Name                flexString     `json:"name"`
	CompositionContent  flexString     `json:"compositionContent"`
	Prescription        flexString     `json:"prescription"`
	DefaultPresentation flexString     `json:"defaultPresentation"`
	Presentations       []presentation `json:"presentations"`
}

type presentation struct {
	ID           flexString `json:"id"`
	Description  flexString `json:"description"`
	Price        flexFloat  `json:"price"`
	OfferPrice   flexFloat  `json:"offerPrice"`
	RegularPrice flexFloat  `json:"regularPrice"`
	OldPrice     flexFloat  `json:"oldPrice"`
	Stock        flexFloat  `json:"stock"`
	StockRet     flexFloat  `json:"stockRet"`
}

func (p *productPayload) apply(rec models.RawRecord) {
	rec[models.FieldSKU] = string(p.ID)
	rec[models.FieldCommercialName] = cleanText(string(p.Name))
	rec[models.FieldActiveIngredient] = cleanText(string(p.CompositionContent))

	if code := strings.TrimSpace(string(p.Prescription)); code != "" {
		if label, ok := saleConditions[strings.ToUpper(code)]; ok {
			rec[models.FieldSaleCondition] = label
		} else {
			rec[models.FieldSaleCondition] = code
		}
	}

	pres := p.selectPresentation()
	if pres == nil {
		return
	}
	rec[models.FieldPresentation] = cleanText(string(pres.Description))

	list, promo := pres.prices()
	if promo > 0 {
		rec[models.FieldPromoPrice] = formatAmount(promo)
	}
	if list > 0 {
		rec[models.FieldListPrice] = formatAmount(list)
	}

	if pres.Stock > 0 || pres.StockRet > 0 {
		rec[models.FieldStock] = StockAvailable
	} else {
		rec[models.FieldStock] = StockOutOfStock
	}
}

// selectPresentation returns the default presentation, or the first one.
func (p *productPayload) selectPresentation() *presentation {
	if len(p.Presentations) == 0 {
		return nil
	}
	if p.DefaultPresentation != "" {
		for i := range p.Presentations {
			if p.Presentations[i].ID == p.DefaultPresentation {
				return &p.Presentations[i]
			}
		}
	}
	return &p.Presentations[0]
}

// prices resolves the list and promotional amounts. A regular price above the
// current one is the list price even without an explicit old price.
func (pr *presentation) prices() (list, promo float64) {
	current := float64(pr.Price)
	if current <= 0 {
		current = float64(pr.OfferPrice)
	}
	regular := float64(pr.RegularPrice)

	switch {
	case current > 0:
		promo = current
	case regular > 0:
		promo = regular
	}

	switch {
	case pr.OldPrice > 0:
		list = float64(pr.OldPrice)
	case regular > 0 && current > 0 && regular > current:
		list = regular
		promo = current
	}
	return list, promo
}

// flexString accepts JSON strings, numbers and booleans.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	if b[0] == '{' || b[0] == '[' {
		return fmt.Errorf("unexpected JSON value %s", b)
	}
	*f = flexString(b)
	return nil
}

// flexFloat accepts JSON numbers and numeric strings; anything else is zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if p := ParsePrice(s); p.Valid {
			*f = flexFloat(p.Value)
		} else {
			*f = 0
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}
