package crawl

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// WriteSummary renders the end-of-run report.
func WriteSummary(w io.Writer, session *Session) {
	s := session.Stats
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Harvest summary")
	t.AppendRows([]table.Row{
		{"Execution ID", session.ExecutionID},
		{"Start page", s.StartPage},
		{"Pages processed", s.PagesProcessed},
		{"New article links", s.LinksFound},
		{"Articles ingested", s.Ingested},
		{"Extraction failures", s.Failed},
		{"Reprocessed", s.Reprocessed},
		{"Reprocess skipped (complete)", s.ReprocessSkipped},
		{"Reprocess failures", s.ReprocessFailed},
		{"Error queue remaining", s.ErrorQueueLen},
		{"Stop reason", stopReasonText(s.StopReason)},
		{"Duration", s.Finished.Sub(s.Started).Round(time.Second).String()},
	})
	t.Render()
}

// Status is a snapshot of the durable state.
type Status struct {
	Checkpoint    int
	Rows          int
	Incomplete    int
	MaxArticleID  int
	NextPage      int
	ErrorQueueLen int
}

// WriteStatus renders a Status.
func WriteStatus(w io.Writer, st Status) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Harvest state")
	t.AppendRows([]table.Row{
		{"Checkpoint page", st.Checkpoint},
		{"Next page", st.NextPage},
		{"Stored records", st.Rows},
		{"Incomplete records", st.Incomplete},
		{"Highest article_id", st.MaxArticleID},
		{"Error queue size", st.ErrorQueueLen},
	})
	t.Render()
}

func stopReasonText(r StopReason) string {
	switch r {
	case StopFatalRender:
		return "catalog page failed to render"
	case StopEndOfCatalog:
		return "end of catalog"
	case StopLinkExtraction:
		return "article links unreadable"
	case StopMaxPages:
		return "page limit reached"
	case StopInterrupted:
		return "interrupted"
	case StopNone:
		return "not crawled"
	default:
		return string(r)
	}
}
