package crawl

import "github.com/researchaccelerator-hub/catalog-harvester/model"

// DedupIndex tracks which article URLs are already ingested and hands out
// article ids. It is built once from the record table at startup.
type DedupIndex struct {
	processed map[string]struct{}
	nextID    int
}

// LoadDedupIndex derives the index from the persisted records. The next id is
// positional (row count + 1) but never at or below an id already stored, so
// a table with gaps cannot cause an id to repeat.
func LoadDedupIndex(table *model.Table) *DedupIndex {
	idx := &DedupIndex{processed: make(map[string]struct{}), nextID: 1}
	if table == nil {
		return idx
	}
	for _, r := range table.Rows() {
		idx.processed[r.URL] = struct{}{}
	}
	idx.nextID = max(table.Len()+1, table.MaxID()+1)
	return idx
}

// IsProcessed reports whether url has been ingested.
func (d *DedupIndex) IsProcessed(url string) bool {
	_, ok := d.processed[url]
	return ok
}

// MarkProcessed records url as ingested.
func (d *DedupIndex) MarkProcessed(url string) {
	d.processed[url] = struct{}{}
}

// Allocate returns the next article id and advances the counter. Call it
// once per record that will be persisted.
func (d *DedupIndex) Allocate() int {
	id := d.nextID
	d.nextID++
	return id
}

// NextID returns the id the next Allocate call will hand out.
func (d *DedupIndex) NextID() int {
	return d.nextID
}

// Len returns the number of processed URLs.
func (d *DedupIndex) Len() int {
	return len(d.processed)
}
