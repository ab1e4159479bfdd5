package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/researchaccelerator-hub/catalog-harvester/model"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var errMetadataMissing = errors.New("metadata table not present")

// Selectors locate elements on DSpace listing and item pages.
type Selectors struct {
	ReadyMarker  string `mapstructure:"ready_marker"`
	ListItem     string `mapstructure:"list_item"`
	ItemLink     string `mapstructure:"item_link"`
	Title        string `mapstructure:"title"`
	Authors      string `mapstructure:"authors"`
	Date         string `mapstructure:"date"`
	Abstract     string `mapstructure:"abstract"`
	FullViewLink string `mapstructure:"full_view_link"`
	MetadataRows string `mapstructure:"metadata_rows"`
}

// DefaultSelectors match the DSpace 7 Angular UI.
func DefaultSelectors() Selectors {
	return Selectors{
		ReadyMarker:  "ds-app",
		ListItem:     "li[data-test='list-object']",
		ItemLink:     "a[href*='/entities/']",
		Title:        "h2.heading",
		Authors:      "div.authority span",
		Date:         "div.date",
		Abstract:     "div.abstract-text",
		FullViewLink: "a[href$='/full']",
		MetadataRows: "ds-themed-full-item-page table tbody tr",
	}
}

// DSpaceConfig configures DSpaceClient.
type DSpaceConfig struct {
	BaseURL         string
	UserAgent       string
	PageLoadTimeout time.Duration
	ElementTimeout  time.Duration
	RequestInterval time.Duration
	FullViewRetries int
	RetryInterval   time.Duration
	AbstractMaxLen  int
	Selectors       Selectors
}

// DSpaceClient renders DSpace pages over plain HTTP and reads them with
// goquery. Requests are spaced by a rate limiter.
type DSpaceClient struct {
	cfg     DSpaceConfig
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
}

// NewDSpaceClient creates a client for the catalog at cfg.BaseURL. A nil
// httpClient uses a default client; per-request timeouts come from cfg.
func NewDSpaceClient(cfg DSpaceConfig, httpClient *http.Client) (*DSpaceClient, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.PageLoadTimeout <= 0 {
		cfg.PageLoadTimeout = 40 * time.Second
	}
	if cfg.ElementTimeout <= 0 {
		cfg.ElementTimeout = 10 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}

	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}

	return &DSpaceClient{
		cfg:     cfg,
		base:    base,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// RenderPage loads a listing page and checks that the application shell is
// present.
func (c *DSpaceClient) RenderPage(ctx context.Context, pageURL string) (*Document, error) {
	doc, err := c.fetch(ctx, pageURL, c.cfg.PageLoadTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFatalRender, pageURL, err)
	}

	if marker := c.cfg.Selectors.ReadyMarker; marker != "" && doc.Find(marker).Length() == 0 {
		return nil, fmt.Errorf("%w: %s: ready marker %q not found", ErrFatalRender, pageURL, marker)
	}

	log.Debug().Str("url", pageURL).Msg("Catalog page rendered")
	return NewDocument(pageURL, doc), nil
}

// ExtractLinks returns the article links of a listing page, resolved against
// the catalog base URL.
func (c *DSpaceClient) ExtractLinks(doc *Document, limit int) ([]string, error) {
	if doc == nil || doc.doc == nil {
		return nil, fmt.Errorf("%w: no document", ErrLinkExtraction)
	}

	var links []string
	doc.doc.Find(c.cfg.Selectors.ListItem).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		href, ok := item.Find(c.cfg.Selectors.ItemLink).First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return true
		}
		resolved, err := c.resolve(href)
		if err != nil {
			log.Warn().Err(err).Str("href", href).Msg("Skipping unparsable article link")
			return true
		}
		links = append(links, resolved)
		return limit <= 0 || len(links) < limit
	})

	return links, nil
}

// ExtractArticle reads one article page. When the page links to an expanded
// view the client follows it with bounded retries; if that fails it reads
// the partial view.
func (c *DSpaceClient) ExtractArticle(ctx context.Context, articleURL string) (*model.Extraction, error) {
	partial, err := c.fetch(ctx, articleURL, c.cfg.PageLoadTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExtraction, articleURL, err)
	}

	views := []*goquery.Document{partial}
	full := c.expand(ctx, articleURL, partial)
	// interrupted, not degraded
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExtraction, articleURL, err)
	}
	if full != nil {
		views = []*goquery.Document{full, partial}
	}

	sel := c.cfg.Selectors
	ext := &model.Extraction{
		FullView:     full != nil,
		Title:        firstText(views, sel.Title),
		Date:         firstText(views, sel.Date),
		Abstract:     model.TruncateRunes(firstText(views, sel.Abstract), c.cfg.AbstractMaxLen),
		Contributors: allTexts(views, sel.Authors),
	}

	for _, view := range views {
		rows := view.Find(sel.MetadataRows)
		if rows.Length() == 0 {
			continue
		}
		rows.Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() < 2 {
				return
			}
			key := model.NormalizeLabel(cells.Eq(0).Text())
			value := strings.TrimSpace(cells.Eq(1).Text())
			ext.AddMetadata(key, value)
		})
		break
	}

	log.Debug().
		Str("url", articleURL).
		Bool("full_view", ext.FullView).
		Int("metadata_fields", ext.Metadata.Len()).
		Msg("Article extracted")
	return ext, nil
}

// expand follows the full-view link of an item page. It returns nil when
// there is no such link or the expanded view never shows its metadata table.
func (c *DSpaceClient) expand(ctx context.Context, articleURL string, partial *goquery.Document) *goquery.Document {
	href, ok := partial.Find(c.cfg.Selectors.FullViewLink).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		log.Debug().Str("url", articleURL).Msg("No full view link, extracting partial view")
		return nil
	}
	fullURL, err := c.resolve(href)
	if err != nil {
		log.Warn().Err(err).Str("href", href).Msg("Unparsable full view link, extracting partial view")
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(c.cfg.FullViewRetries, 0))), ctx)

	var full *goquery.Document
	err = backoff.Retry(func() error {
		doc, err := c.fetch(ctx, fullURL, c.cfg.ElementTimeout)
		if err != nil {
			return err
		}
		if doc.Find(c.cfg.Selectors.MetadataRows).Length() == 0 {
			return errMetadataMissing
		}
		full = doc
		return nil
	}, policy)
	if err != nil {
		log.Warn().Err(err).Str("url", fullURL).Msg("Full view unavailable, extracting partial view")
		return nil
	}
	return full
}

func (c *DSpaceClient) fetch(ctx context.Context, target string, timeout time.Duration) (*goquery.Document, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "es-ES,es;q=0.9,en;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func (c *DSpaceClient) resolve(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return c.base.ResolveReference(ref).String(), nil
}

func firstText(views []*goquery.Document, selector string) string {
	for _, view := range views {
		if text := strings.TrimSpace(view.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func allTexts(views []*goquery.Document, selector string) []string {
	for _, view := range views {
		var texts []string
		view.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				texts = append(texts, text)
			}
		})
		if len(texts) > 0 {
			return texts
		}
	}
	return nil
}
