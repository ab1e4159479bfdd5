package crawl

import (
	"context"
	"fmt"

	"github.com/researchaccelerator-hub/catalog-harvester/client"
	"github.com/researchaccelerator-hub/catalog-harvester/model"
	"github.com/researchaccelerator-hub/catalog-harvester/state"
	"github.com/rs/zerolog/log"
)

// DuplicatePolicy decides what a successful retry of a URL that already has
// an incomplete row does to the record table.
type DuplicatePolicy string

const (
	// DuplicateAppend adds a new row with a new id and leaves the incomplete
	// row in place. The table then holds the URL twice.
	DuplicateAppend DuplicatePolicy = "append"

	// DuplicateReplace overwrites the incomplete row and keeps its id.
	DuplicateReplace DuplicatePolicy = "replace"
)

// ReprocessOptions configure the startup retry of queued URLs.
type ReprocessOptions struct {
	Policy DuplicatePolicy

	// ClearOnPartialFailure clears the error queue even when some retries
	// failed. The failed URLs are then lost.
	ClearOnPartialFailure bool

	AbstractMaxLen int
}

// Reprocessor retries the URLs in the error queue once at startup.
type Reprocessor struct {
	renderer  client.Renderer
	queue     state.ErrorQueue
	persister *BatchPersister
	opts      ReprocessOptions
	metrics   *Metrics
}

// NewReprocessor creates a reprocessing pass.
func NewReprocessor(renderer client.Renderer, queue state.ErrorQueue, persister *BatchPersister, opts ReprocessOptions, metrics *Metrics) *Reprocessor {
	if opts.Policy == "" {
		opts.Policy = DuplicateAppend
	}
	return &Reprocessor{
		renderer:  renderer,
		queue:     queue,
		persister: persister,
		opts:      opts,
		metrics:   metrics,
	}
}

// Run retries every distinct queued URL that has no complete row in table.
// Each recovered record is flushed on its own. The queue is cleared only when
// no retry failed, unless ClearOnPartialFailure is set. An error means the
// pass itself failed and the queue was left untouched.
func (r *Reprocessor) Run(ctx context.Context, session *Session, table *model.Table) error {
	queued, err := r.queue.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: load error queue: %v", ErrPersistence, err)
	}
	urls := distinct(queued)
	if len(urls) == 0 {
		log.Debug().Msg("Error queue is empty, nothing to reprocess")
		return nil
	}

	complete := make(map[string]bool)
	for _, row := range table.Rows() {
		complete[row.URL] = complete[row.URL] || row.IsComplete()
	}

	log.Info().Int("queued", len(urls)).Msg("Reprocessing error queue")

	failures := 0
	for _, url := range urls {
		if ctx.Err() != nil {
			log.Warn().Msg("Reprocessing interrupted, keeping error queue")
			return nil
		}

		if complete[url] {
			log.Debug().Str("url", url).Msg("Already complete, skipping")
			session.Stats.ReprocessSkipped++
			continue
		}

		ext, err := r.renderer.ExtractArticle(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				log.Warn().Msg("Reprocessing interrupted, keeping error queue")
				return nil
			}
			log.Warn().Err(err).Str("url", url).Msg("Reprocessing failed")
			failures++
			session.Stats.ReprocessFailed++
			r.metrics.extractionFailed(sourceReprocess)
			continue
		}

		article := model.NewArticle(url, ext, r.opts.AbstractMaxLen)
		existing, found := table.Lookup(url)
		if found && r.opts.Policy == DuplicateReplace {
			article.ArticleID = existing.ArticleID
			r.persister.AppendReplacing(article)
		} else {
			article.ArticleID = session.Index.Allocate()
			r.persister.Append(article)
		}

		if err := r.persister.Flush(ctx); err != nil {
			return err
		}

		session.Index.MarkProcessed(url)
		session.Stats.Reprocessed++
		r.metrics.articleIngested(sourceReprocess)
		log.Info().
			Str("url", url).
			Int("article_id", article.ArticleID).
			Bool("complete", article.IsComplete()).
			Msg("Reprocessed article")
	}

	if failures > 0 && !r.opts.ClearOnPartialFailure {
		log.Warn().Int("failed", failures).Msg("Some retries failed, keeping error queue")
		return nil
	}

	if err := r.queue.Clear(ctx); err != nil {
		return fmt.Errorf("%w: clear error queue: %v", ErrPersistence, err)
	}
	session.Stats.ErrorQueueClear = true
	log.Info().Int("reprocessed", session.Stats.Reprocessed).Msg("Error queue cleared")
	return nil
}

func distinct(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
