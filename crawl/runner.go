package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/researchaccelerator-hub/catalog-harvester/client"
	"github.com/researchaccelerator-hub/catalog-harvester/model"
	"github.com/researchaccelerator-hub/catalog-harvester/state"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Options configure a Pipeline.
type Options struct {
	Crawler         CrawlerOptions
	Reprocess       ReprocessOptions
	BatchSize       int
	MetricsTextfile string
}

// Pipeline wires the stores, the renderer and the crawl components into one
// run: load, reprocess, crawl, final flush, summary.
type Pipeline struct {
	renderer client.Renderer
	stores   *state.Stores
	opts     Options
	metrics  *Metrics
	out      io.Writer
}

// NewPipeline creates a pipeline. Summaries are written to out.
func NewPipeline(renderer client.Renderer, stores *state.Stores, opts Options, metrics *Metrics, out io.Writer) *Pipeline {
	if out == nil {
		out = io.Discard
	}
	return &Pipeline{renderer: renderer, stores: stores, opts: opts, metrics: metrics, out: out}
}

type startupState struct {
	table      *model.Table
	checkpoint int
	queued     []string
}

// load reads the record table, checkpoint and error queue concurrently.
func (p *Pipeline) load(ctx context.Context) (*startupState, error) {
	st := &startupState{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		table, err := p.stores.Records.Load(gctx)
		if err != nil {
			return fmt.Errorf("%w: load records: %v", ErrPersistence, err)
		}
		st.table = table
		return nil
	})
	g.Go(func() error {
		page, err := p.stores.Checkpoint.Load(gctx)
		if err != nil {
			return fmt.Errorf("%w: load checkpoint: %v", ErrPersistence, err)
		}
		st.checkpoint = page
		return nil
	})
	g.Go(func() error {
		queued, err := p.stores.Errors.LoadAll(gctx)
		if err != nil {
			return fmt.Errorf("%w: load error queue: %v", ErrPersistence, err)
		}
		st.queued = queued
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return st, nil
}

// Run executes a full harvest. The returned session carries the run's
// counters even when an error is returned after the crawl started.
func (p *Pipeline) Run(ctx context.Context) (*Session, error) {
	return p.run(ctx, true)
}

// Reprocess runs only the reprocessing pass and the final flush.
func (p *Pipeline) Reprocess(ctx context.Context) (*Session, error) {
	return p.run(ctx, false)
}

func (p *Pipeline) run(ctx context.Context, crawl bool) (*Session, error) {
	// 1. Load records, checkpoint and error queue
	st, err := p.load(ctx)
	if err != nil {
		return nil, err
	}

	session := NewSession(LoadDedupIndex(st.table))
	log.Info().
		Str("execution_id", session.ExecutionID).
		Int("rows", st.table.Len()).
		Int("checkpoint", st.checkpoint).
		Int("queued", len(st.queued)).
		Int("processed", session.Index.Len()).
		Int("next_id", session.Index.NextID()).
		Msg("Harvest state loaded")

	persister := NewBatchPersister(p.stores.Records, p.opts.BatchSize, p.metrics)
	reprocessor := NewReprocessor(p.renderer, p.stores.Errors, persister, p.opts.Reprocess, p.metrics)

	// 2. Retry the error queue before any new page
	runErr := reprocessor.Run(ctx, session, st.table)

	// 3. Resume the crawl after the last finished page
	if runErr == nil && crawl && ctx.Err() == nil {
		rows := st.table.Len()
		if r := persister.Rows(); r >= 0 {
			rows = r
		}
		session.Page = ResumePage(st.checkpoint, rows)
		session.Stats.StartPage = session.Page
		log.Info().Int("page", session.Page).Msg("Resuming crawl")

		crawler := NewCrawler(p.renderer, p.stores.Checkpoint, p.stores.Errors, persister, p.opts.Crawler, p.metrics)
		session.Stats.StopReason, runErr = crawler.Run(ctx, session)
	} else if ctx.Err() != nil {
		session.Stats.StopReason = StopInterrupted
	}

	// 4. Final flush; records that cannot be written go back to the error queue
	if err := persister.Flush(ctx); err != nil {
		log.Error().Err(err).Int("buffered", persister.Buffered()).Msg("Final flush failed")
		runErr = errors.Join(runErr, err, p.requeue(ctx, persister.PendingURLs()))
	}

	// 5. Summary
	p.finish(ctx, session)
	return session, runErr
}

// requeue puts the URLs of unflushed records on the error queue so the next
// run's reprocessing pass extracts them again.
func (p *Pipeline) requeue(ctx context.Context, urls []string) error {
	ctx = context.WithoutCancel(ctx)
	for _, u := range urls {
		if err := p.stores.Errors.Append(ctx, u); err != nil {
			return fmt.Errorf("%w: requeue %s: %v", ErrPersistence, u, err)
		}
	}
	if len(urls) > 0 {
		log.Warn().Int("urls", len(urls)).Msg("Unflushed records queued for reprocessing")
	}
	return nil
}

// finish records the remaining queue size, writes metrics and the summary.
func (p *Pipeline) finish(ctx context.Context, session *Session) {
	session.Stats.Finished = time.Now()

	queued, err := p.stores.Errors.LoadAll(context.WithoutCancel(ctx))
	if err != nil {
		log.Warn().Err(err).Msg("Could not read error queue for summary")
	} else {
		session.Stats.ErrorQueueLen = len(distinct(queued))
	}
	p.metrics.setErrorQueueLength(session.Stats.ErrorQueueLen)

	if err := p.metrics.WriteTextfile(p.opts.MetricsTextfile); err != nil {
		log.Warn().Err(err).Msg("Could not write metrics")
	}

	log.Info().
		Str("execution_id", session.ExecutionID).
		Int("pages", session.Stats.PagesProcessed).
		Int("new_links", session.Stats.LinksFound).
		Int("ingested", session.Stats.Ingested).
		Int("reprocessed", session.Stats.Reprocessed).
		Int("error_queue", session.Stats.ErrorQueueLen).
		Str("stop_reason", string(session.Stats.StopReason)).
		Msg("Harvest finished")
	WriteSummary(p.out, session)
}

// Status reads the durable state without crawling.
func (p *Pipeline) Status(ctx context.Context) (Status, error) {
	st, err := p.load(ctx)
	if err != nil {
		return Status{}, err
	}
	incomplete := 0
	for _, r := range st.table.Rows() {
		if !r.IsComplete() {
			incomplete++
		}
	}
	return Status{
		Checkpoint:    st.checkpoint,
		Rows:          st.table.Len(),
		Incomplete:    incomplete,
		MaxArticleID:  st.table.MaxID(),
		NextPage:      ResumePage(st.checkpoint, st.table.Len()),
		ErrorQueueLen: len(distinct(st.queued)),
	}, nil
}
