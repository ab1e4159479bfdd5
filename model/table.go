package model

// Table is the in-memory image of the record store: the rows in storage order
// plus the union of all columns ever seen, in first-seen order.
type Table struct {
	columns []string
	known   map[string]struct{}
	rows    []Article
}

// NewTable builds a table from a persisted header and rows. Base columns are
// always present even if the header lacks them.
func NewTable(columns []string, rows []Article) *Table {
	t := &Table{known: make(map[string]struct{})}
	t.addColumns(BaseColumns)
	t.addColumns(columns)
	for _, r := range rows {
		t.Append(r)
	}
	return t
}

func (t *Table) addColumns(cols []string) {
	for _, c := range cols {
		if c == "" {
			continue
		}
		if _, ok := t.known[c]; ok {
			continue
		}
		t.known[c] = struct{}{}
		t.columns = append(t.columns, c)
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Columns returns the column order used for serialization.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// Rows returns the rows in storage order.
func (t *Table) Rows() []Article {
	return append([]Article(nil), t.rows...)
}

// Append adds records after the existing rows.
func (t *Table) Append(rows ...Article) {
	for _, r := range rows {
		t.addColumns(r.Extra.Keys())
		t.rows = append(t.rows, r)
	}
}

// Replace overwrites the row at index i.
func (t *Table) Replace(i int, a Article) {
	t.addColumns(a.Extra.Keys())
	t.rows[i] = a
}

// IndexOf returns the index of the first row with url, or -1.
func (t *Table) IndexOf(url string) int {
	for i, r := range t.rows {
		if r.URL == url {
			return i
		}
	}
	return -1
}

// Lookup returns the first row with url.
func (t *Table) Lookup(url string) (Article, bool) {
	i := t.IndexOf(url)
	if i < 0 {
		return Article{}, false
	}
	return t.rows[i], true
}

// MaxID returns the largest article_id in the table, or 0 when empty.
func (t *Table) MaxID() int {
	max := 0
	for _, r := range t.rows {
		if r.ArticleID > max {
			max = r.ArticleID
		}
	}
	return max
}

// Clone returns a copy that can be mutated independently.
func (t *Table) Clone() *Table {
	return NewTable(t.columns, t.rows)
}
