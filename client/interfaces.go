// Package client fetches catalog pages and reads article fields from them.
package client

import (
	"context"
	"errors"

	"github.com/PuerkitoBio/goquery"
	"github.com/researchaccelerator-hub/catalog-harvester/model"
)

var (
	// ErrFatalRender means a catalog page did not become ready in time. The
	// crawl stops; the next run resumes from the saved checkpoint.
	ErrFatalRender = errors.New("page render failed")

	// ErrLinkExtraction means a rendered page could not be enumerated. It is
	// treated as the end of pagination.
	ErrLinkExtraction = errors.New("link extraction failed")

	// ErrExtraction means a single article could not be read. The URL goes to
	// the error queue and the crawl continues.
	ErrExtraction = errors.New("article extraction failed")
)

// Document is a rendered catalog page.
type Document struct {
	URL string

	doc *goquery.Document
}

// NewDocument wraps a parsed page.
func NewDocument(url string, doc *goquery.Document) *Document {
	return &Document{URL: url, doc: doc}
}

// Renderer loads catalog pages and reads article fields. Implementations
// bound every blocking call with their own timeouts.
type Renderer interface {
	// RenderPage loads a catalog listing page. Errors wrap ErrFatalRender.
	RenderPage(ctx context.Context, pageURL string) (*Document, error)

	// ExtractLinks returns up to limit article URLs in page order. Errors
	// wrap ErrLinkExtraction.
	ExtractLinks(doc *Document, limit int) ([]string, error)

	// ExtractArticle reads one article, preferring its expanded view. Missing
	// fields are not errors; errors wrap ErrExtraction.
	ExtractArticle(ctx context.Context, articleURL string) (*model.Extraction, error)
}
