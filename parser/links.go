package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ListingRules describes how product links and the next page are located on a
// category listing page.
type ListingRules struct {
	// ProductSelectors are all applied; their matches are unioned.
	ProductSelectors []string
	// ProductPathMarker must appear in an href for it to count as a product.
	ProductPathMarker string
	// NextSelectors are tried in order; the first hit wins.
	NextSelectors []string
	// NextLabels are compared against anchor text when no selector matched.
	NextLabels []string
}

// DefaultListingRules returns the selector cascades for the target catalog.
func DefaultListingRules() ListingRules {
	return ListingRules{
		ProductSelectors: []string{
			"a.link[href*='/producto/']",
			"fp-link a[href*='/producto/']",
			"div.card.product a[href*='/producto/']",
			"a[href*='/producto/']",
		},
		ProductPathMarker: "/producto/",
		NextSelectors: []string{
			"a.next",
			"a.next-page",
			"a[rel='next']",
			"a.pagination__next",
		},
		NextLabels: []string{"siguiente", "siguientes", "next", "»", ">", "›"},
	}
}

// ParseDocument parses markup into a queryable document.
func ParseDocument(markup string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// ProductLinks returns the absolute product URLs on a listing page in document
// order. An anchor matched by several selectors is reported once, as is an URL
// linked from several anchors.
func (r ListingRules) ProductLinks(doc *goquery.Document, pageURL string) []string {
	base, _ := url.Parse(pageURL)

	matched := make(map[*html.Node]struct{})
	for _, sel := range r.ProductSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			for _, n := range s.Nodes {
				matched[n] = struct{}{}
			}
		})
	}
	if len(matched) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if _, ok := matched[s.Nodes[0]]; !ok {
			return
		}
		href, _ := s.Attr("href")
		if r.ProductPathMarker != "" && !strings.Contains(href, r.ProductPathMarker) {
			return
		}
		abs := resolveURL(base, href)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

type pageMatcher func(doc *goquery.Document) (string, bool)

// NextPage returns the absolute URL of the following listing page, or "" when
// the listing is exhausted.
func (r ListingRules) NextPage(doc *goquery.Document, pageURL string) string {
	base, _ := url.Parse(pageURL)
	for _, match := range r.nextPageMatchers() {
		if href, ok := match(doc); ok {
			if abs := resolveURL(base, href); abs != "" {
				return abs
			}
		}
	}
	return ""
}

func (r ListingRules) nextPageMatchers() []pageMatcher {
	matchers := make([]pageMatcher, 0, len(r.NextSelectors)+1)
	for _, sel := range r.NextSelectors {
		sel := sel
		matchers = append(matchers, func(doc *goquery.Document) (string, bool) {
			href, ok := doc.Find(sel).First().Attr("href")
			return href, ok && strings.TrimSpace(href) != ""
		})
	}
	return append(matchers, r.matchNextLabel)
}

func (r ListingRules) matchNextLabel(doc *goquery.Document) (string, bool) {
	labels := make(map[string]struct{}, len(r.NextLabels))
	for _, l := range r.NextLabels {
		labels[strings.ToLower(l)] = struct{}{}
	}

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		if _, ok := labels[text]; !ok {
			return true
		}
		href, _ := s.Attr("href")
		if strings.TrimSpace(href) == "" {
			return true
		}
		found = href
		return false
	})
	return found, found != ""
}

func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if !ref.IsAbs() {
		return ""
	}
	ref.Fragment = ""
	return ref.String()
}
