// Package crawl drives a resumable harvest of a paginated catalog: the
// reprocessing pass, the page loop, batching of records and the run summary.
package crawl

import (
	"time"

	"github.com/google/uuid"
)

// StopReason says why the crawl loop ended. None of these are errors; the
// run always proceeds to the final flush and summary.
type StopReason string

const (
	StopNone           StopReason = ""
	StopFatalRender    StopReason = "fatal_render"
	StopEndOfCatalog   StopReason = "end_of_catalog"
	StopLinkExtraction StopReason = "link_extraction_failed"
	StopMaxPages       StopReason = "max_pages"
	StopInterrupted    StopReason = "interrupted"
)

// Stats are the counters reported at the end of a run.
type Stats struct {
	StartPage        int
	PagesProcessed   int
	LinksFound       int
	Ingested         int
	Failed           int
	Reprocessed      int
	ReprocessSkipped int
	ReprocessFailed  int
	ErrorQueueLen    int
	ErrorQueueClear  bool
	StopReason       StopReason
	Started          time.Time
	Finished         time.Time
}

// Session is the mutable state of one run: the dedup index with its id
// counter and the page pointer. Every component works on the same *Session.
type Session struct {
	ExecutionID string
	Index       *DedupIndex
	Page        int
	Stats       Stats
}

// NewSession starts a session over an already loaded index.
func NewSession(index *DedupIndex) *Session {
	return &Session{
		ExecutionID: uuid.New().String(),
		Index:       index,
		Stats:       Stats{Started: time.Now()},
	}
}
