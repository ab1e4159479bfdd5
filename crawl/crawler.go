package crawl

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/researchaccelerator-hub/catalog-harvester/client"
	"github.com/researchaccelerator-hub/catalog-harvester/model"
	"github.com/researchaccelerator-hub/catalog-harvester/state"
	"github.com/rs/zerolog/log"
)

// DefaultLinksPerPage caps the article links taken from one catalog page.
const DefaultLinksPerPage = 10

// CrawlerOptions configure the page loop.
type CrawlerOptions struct {
	// SearchURL is the catalog search the crawl paginates over.
	SearchURL string
	// PageParam is the query parameter carrying the page number.
	PageParam      string
	LinksPerPage   int
	MaxPages       int
	AbstractMaxLen int
}

// PageURL returns the address of one page of a catalog search.
func PageURL(searchURL, pageParam string, page int) string {
	if pageParam == "" {
		pageParam = "spc.page"
	}
	u, err := url.Parse(searchURL)
	if err != nil {
		return fmt.Sprintf("%s&%s=%d", searchURL, pageParam, page)
	}
	q := u.Query()
	q.Set(pageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// ResumePage picks the first page of a run. A stored checkpoint marks a
// finished page, so a run over a non-empty record table starts after it. An
// empty table means the checkpoint predates any saved record and that page
// is crawled again.
func ResumePage(checkpoint, storedRows int) int {
	if checkpoint < 1 {
		checkpoint = state.DefaultCheckpointPage
	}
	if storedRows > 0 {
		return checkpoint + 1
	}
	return checkpoint
}

// Crawler walks catalog pages from the session's page pointer forward.
type Crawler struct {
	renderer    client.Renderer
	checkpoints state.CheckpointStore
	queue       state.ErrorQueue
	persister   *BatchPersister
	opts        CrawlerOptions
	metrics     *Metrics
}

// NewCrawler creates a crawler
func NewCrawler(renderer client.Renderer, checkpoints state.CheckpointStore, queue state.ErrorQueue, persister *BatchPersister, opts CrawlerOptions, metrics *Metrics) *Crawler {
	if opts.LinksPerPage <= 0 {
		opts.LinksPerPage = DefaultLinksPerPage
	}
	return &Crawler{
		renderer:    renderer,
		checkpoints: checkpoints,
		queue:       queue,
		persister:   persister,
		opts:        opts,
		metrics:     metrics,
	}
}

// Run crawls until a terminal condition and reports which one. Page-level
// failures end the loop with a StopReason; only persistence failures are
// returned as errors.
func (c *Crawler) Run(ctx context.Context, session *Session) (StopReason, error) {
	pages := 0
	for {
		if ctx.Err() != nil {
			return StopInterrupted, nil
		}
		if c.opts.MaxPages > 0 && pages >= c.opts.MaxPages {
			log.Info().Int("max_pages", c.opts.MaxPages).Msg("Page limit reached")
			return StopMaxPages, nil
		}

		// 1. Render the page
		page := session.Page
		pageURL := PageURL(c.opts.SearchURL, c.opts.PageParam, page)
		log.Info().Int("page", page).Str("url", pageURL).Msg("Processing catalog page")

		doc, err := c.renderer.RenderPage(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return StopInterrupted, nil
			}
			log.Error().Err(err).Int("page", page).Msg("Catalog page failed to render, stopping crawl")
			return StopFatalRender, nil
		}

		// 2. Read its article links
		links, err := c.renderer.ExtractLinks(doc, c.opts.LinksPerPage)
		if err != nil {
			log.Warn().Err(err).Int("page", page).Msg("Could not read article links, treating as end of catalog")
			return StopLinkExtraction, nil
		}
		if len(links) == 0 {
			log.Info().Int("page", page).Msg("No article links found, end of catalog")
			return StopEndOfCatalog, nil
		}

		// 3. Drop links already ingested
		fresh := c.newLinks(session, links)
		session.Stats.LinksFound += len(fresh)
		log.Info().
			Int("page", page).
			Int("links", len(links)).
			Int("new", len(fresh)).
			Msg("Article links found")

		// 4. Extract each new article
		for _, link := range fresh {
			if ctx.Err() != nil {
				log.Warn().Int("page", page).Msg("Interrupted mid-page, checkpoint not advanced")
				return StopInterrupted, nil
			}
			if err := c.processArticle(ctx, session, link); err != nil {
				return StopNone, err
			}
			if ctx.Err() != nil {
				log.Warn().Int("page", page).Msg("Interrupted mid-page, checkpoint not advanced")
				return StopInterrupted, nil
			}
		}

		// 5. Checkpoint the finished page
		if err := c.checkpoints.Save(context.WithoutCancel(ctx), page); err != nil {
			return StopNone, fmt.Errorf("%w: save checkpoint: %v", ErrPersistence, err)
		}
		log.Info().Int("page", page).Msg("Checkpoint saved")

		session.Stats.PagesProcessed++
		c.metrics.pageProcessed(len(fresh))
		session.Page = page + 1
		pages++
	}
}

// newLinks drops links that are already ingested or repeated on the page.
func (c *Crawler) newLinks(session *Session, links []string) []string {
	seen := make(map[string]struct{}, len(links))
	var fresh []string
	for _, link := range links {
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		if session.Index.IsProcessed(link) {
			continue
		}
		fresh = append(fresh, link)
	}
	return fresh
}

// processArticle extracts one article. Extraction failures are queued and
// swallowed; the id is allocated only for records that will be stored.
func (c *Crawler) processArticle(ctx context.Context, session *Session, link string) error {
	ext, err := c.renderer.ExtractArticle(ctx, link)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Str("url", link).Msg("Article extraction failed, queued for retry")
		session.Stats.Failed++
		c.metrics.extractionFailed(sourceCrawl)
		if qerr := c.queue.Append(context.WithoutCancel(ctx), link); qerr != nil {
			return fmt.Errorf("%w: append error queue: %v", ErrPersistence, qerr)
		}
		return nil
	}

	article := model.NewArticle(link, ext, c.opts.AbstractMaxLen)
	article.ArticleID = session.Index.Allocate()
	c.persister.Append(article)
	session.Index.MarkProcessed(link)
	session.Stats.Ingested++
	c.metrics.articleIngested(sourceCrawl)

	log.Info().
		Str("url", link).
		Int("article_id", article.ArticleID).
		Bool("full_view", ext.FullView).
		Msg("Article extracted")

	return c.persister.MaybeFlush(ctx)
}
