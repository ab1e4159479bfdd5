package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Column names of the well-known record fields. The dc.* names match the
// labels used by the catalog's full-item metadata table so that a table row
// carrying the same label lands in the same column.
const (
	ColumnArticleID   = "article_id"
	ColumnURL         = "url"
	ColumnContributor = "dc.contributor"
	ColumnCreator     = "dc.creator"
	ColumnDate        = "dc.date"
	ColumnAbstract    = "dc.description.abstract"
	ColumnTitle       = "dc.title"
)

// DefaultAbstractMaxLen is the abstract length cap in characters.
const DefaultAbstractMaxLen = 500

// BaseColumns is the column order every record table starts with.
var BaseColumns = []string{
	ColumnArticleID,
	ColumnURL,
	ColumnContributor,
	ColumnCreator,
	ColumnDate,
	ColumnAbstract,
	ColumnTitle,
}

// Article is one harvested catalog record.
type Article struct {
	ArticleID    int
	URL          string
	Title        string
	Creator      string
	Date         string
	Abstract     string
	Contributors []string
	Extra        Fields
}

// IsComplete reports whether the record carries both a title and a date.
// Records that fail this check are retried by the reprocessing pass.
func (a Article) IsComplete() bool {
	return strings.TrimSpace(a.Title) != "" && strings.TrimSpace(a.Date) != ""
}

// Row flattens the record into column -> value form. List-valued fields are
// joined with ListSeparator here and nowhere else.
func (a Article) Row() map[string]string {
	row := map[string]string{
		ColumnArticleID:   strconv.Itoa(a.ArticleID),
		ColumnURL:         a.URL,
		ColumnContributor: strings.Join(a.Contributors, ListSeparator),
		ColumnCreator:     a.Creator,
		ColumnDate:        a.Date,
		ColumnAbstract:    a.Abstract,
		ColumnTitle:       a.Title,
	}
	for _, k := range a.Extra.Keys() {
		row[k] = a.Extra.Flatten(k)
	}
	return row
}

// ArticleFromRow rebuilds a record from its persisted form. Extra columns are
// kept as single, already-flattened values; empty extra cells are dropped.
func ArticleFromRow(columns []string, row map[string]string) (Article, error) {
	rawID := strings.TrimSpace(row[ColumnArticleID])
	id, err := strconv.Atoi(rawID)
	if err != nil {
		// tables written by spreadsheet tools sometimes carry "12.0"
		f, ferr := strconv.ParseFloat(rawID, 64)
		if ferr != nil || f != float64(int(f)) {
			return Article{}, fmt.Errorf("invalid article_id %q: %w", rawID, err)
		}
		id = int(f)
	}
	if id <= 0 {
		return Article{}, fmt.Errorf("invalid article_id %q", rawID)
	}

	a := Article{
		ArticleID: id,
		URL:       row[ColumnURL],
		Title:     row[ColumnTitle],
		Creator:   row[ColumnCreator],
		Date:      row[ColumnDate],
		Abstract:  row[ColumnAbstract],
	}
	if c := row[ColumnContributor]; c != "" {
		a.Contributors = strings.Split(c, ListSeparator)
	}
	for _, col := range columns {
		if isBaseColumn(col) {
			continue
		}
		if v := row[col]; v != "" {
			a.Extra.Set(col, v)
		}
	}
	return a, nil
}

func isBaseColumn(col string) bool {
	for _, c := range BaseColumns {
		if c == col {
			return true
		}
	}
	return false
}

// Extraction is what the field extractor read from one article page. Every
// field is optional: an empty value means the page did not show it.
type Extraction struct {
	Title        string
	Creator      string
	Date         string
	Abstract     string
	Contributors []string
	Metadata     Fields

	// FullView is true when the expanded item view was used.
	FullView bool
}

// AddMetadata applies one metadata-table row. Scalar well-known keys are
// overwritten, contributors accumulate, everything else goes to Metadata.
func (e *Extraction) AddMetadata(key, value string) {
	if key == "" || value == "" {
		return
	}
	switch key {
	case ColumnTitle:
		e.Title = value
	case ColumnCreator:
		e.Creator = value
	case ColumnDate:
		e.Date = value
	case ColumnAbstract:
		e.Abstract = value
	case ColumnContributor:
		for _, c := range e.Contributors {
			if c == value {
				return
			}
		}
		e.Contributors = append(e.Contributors, value)
	case ColumnArticleID, ColumnURL:
		// reserved
	default:
		e.Metadata.Add(key, value)
	}
}

// NewArticle builds a record for url from an extraction. The id is left at
// zero; callers assign it once the record is known to be persisted.
func NewArticle(url string, e *Extraction, abstractMaxLen int) Article {
	if abstractMaxLen <= 0 {
		abstractMaxLen = DefaultAbstractMaxLen
	}
	a := Article{
		URL:          url,
		Title:        strings.TrimSpace(e.Title),
		Creator:      strings.TrimSpace(e.Creator),
		Date:         strings.TrimSpace(e.Date),
		Abstract:     TruncateRunes(strings.TrimSpace(e.Abstract), abstractMaxLen),
		Contributors: append([]string(nil), e.Contributors...),
		Extra:        e.Metadata.Clone(),
	}
	if a.Creator == "" && len(a.Contributors) > 0 {
		a.Creator = a.Contributors[0]
	}
	return a
}
