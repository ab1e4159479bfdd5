package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/researchaccelerator-hub/catalog-harvester/client"
	"github.com/researchaccelerator-hub/catalog-harvester/model"
	"github.com/stretchr/testify/mock"
)

// MockRenderer is a testify mock of client.Renderer.
type MockRenderer struct {
	mock.Mock
}

func (m *MockRenderer) RenderPage(ctx context.Context, pageURL string) (*client.Document, error) {
	args := m.Called(ctx, pageURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.Document), args.Error(1)
}

func (m *MockRenderer) ExtractLinks(doc *client.Document, limit int) ([]string, error) {
	args := m.Called(doc, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockRenderer) ExtractArticle(ctx context.Context, articleURL string) (*model.Extraction, error) {
	args := m.Called(ctx, articleURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Extraction), args.Error(1)
}

// MockRecordStore is a testify mock of state.RecordStore.
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) Load(ctx context.Context) (*model.Table, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Table), args.Error(1)
}

func (m *MockRecordStore) Save(ctx context.Context, table *model.Table) error {
	args := m.Called(ctx, table)
	return args.Error(0)
}

func (m *MockRecordStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// memRecordStore keeps the table in memory and counts saves.
type memRecordStore struct {
	mu    sync.Mutex
	table *model.Table
	saves int
}

func newMemRecordStore(rows ...model.Article) *memRecordStore {
	return &memRecordStore{table: model.NewTable(nil, rows)}
}

func (s *memRecordStore) Load(context.Context) (*model.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Clone(), nil
}

func (s *memRecordStore) Save(_ context.Context, t *model.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = t.Clone()
	s.saves++
	return nil
}

func (s *memRecordStore) Close() error { return nil }

func (s *memRecordStore) rows() []model.Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Rows()
}

// memQueue is an in-memory error queue.
type memQueue struct {
	mu      sync.Mutex
	urls    []string
	cleared int
}

func (q *memQueue) LoadAll(context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.urls...), nil
}

func (q *memQueue) Append(_ context.Context, u string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.urls = append(q.urls, u)
	return nil
}

func (q *memQueue) Clear(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.urls = nil
	q.cleared++
	return nil
}

// memCheckpoint is an in-memory checkpoint store.
type memCheckpoint struct {
	page  int
	saved []int
}

func (c *memCheckpoint) Load(context.Context) (int, error) {
	if c.page < 1 {
		return 1, nil
	}
	return c.page, nil
}

func (c *memCheckpoint) Save(_ context.Context, page int) error {
	c.page = page
	c.saved = append(c.saved, page)
	return nil
}

var errUnreachable = errors.New("unreachable")

// fakeCatalog serves a paginated catalog from memory. Pages past the last
// one render but carry no links.
type fakeCatalog struct {
	mu       sync.Mutex
	pages    map[int][]string
	broken   map[string]bool
	noDate   map[string]bool
	fatal    map[int]bool
	rendered []int
	fetched  []string
	onFetch  func(articleURL string)
}

func newFakeCatalog(pages map[int][]string) *fakeCatalog {
	return &fakeCatalog{
		pages:  pages,
		broken: make(map[string]bool),
		noDate: make(map[string]bool),
		fatal:  make(map[int]bool),
	}
}

// catalogPages builds n pages of per links each.
func catalogPages(n, per int) map[int][]string {
	pages := make(map[int][]string, n)
	for p := 1; p <= n; p++ {
		for i := 0; i < per; i++ {
			pages[p] = append(pages[p], fmt.Sprintf("https://repo.example/entities/publication/p%d-%d", p, i))
		}
	}
	return pages
}

func (f *fakeCatalog) RenderPage(_ context.Context, pageURL string) (*client.Document, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	page, _ := strconv.Atoi(u.Query().Get("spc.page"))

	f.mu.Lock()
	defer f.mu.Unlock()
	f.rendered = append(f.rendered, page)
	if f.fatal[page] {
		return nil, fmt.Errorf("%w: timeout", client.ErrFatalRender)
	}
	return client.NewDocument(strconv.Itoa(page), nil), nil
}

func (f *fakeCatalog) ExtractLinks(doc *client.Document, limit int) ([]string, error) {
	page, _ := strconv.Atoi(doc.URL)
	f.mu.Lock()
	defer f.mu.Unlock()
	links := f.pages[page]
	if limit > 0 && len(links) > limit {
		links = links[:limit]
	}
	return append([]string(nil), links...), nil
}

func (f *fakeCatalog) ExtractArticle(_ context.Context, articleURL string) (*model.Extraction, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, articleURL)
	broken, noDate, hook := f.broken[articleURL], f.noDate[articleURL], f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(articleURL)
	}
	if broken {
		return nil, fmt.Errorf("%w: %s: %v", client.ErrExtraction, articleURL, errUnreachable)
	}
	ext := &model.Extraction{
		Title:        "Title of " + articleURL,
		Date:         "2021",
		Contributors: []string{"Pérez, Ana"},
	}
	if noDate {
		ext.Date = ""
	}
	return ext, nil
}

func (f *fakeCatalog) renderedPages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.rendered...)
}

func (f *fakeCatalog) fetchedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}
