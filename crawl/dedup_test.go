package crawl

import (
	"testing"

	"github.com/researchaccelerator-hub/catalog-harvester/model"
	"github.com/stretchr/testify/assert"
)

func TestLoadDedupIndexEmpty(t *testing.T) {
	idx := LoadDedupIndex(model.NewTable(nil, nil))
	assert.Equal(t, 1, idx.NextID())
	assert.Equal(t, 0, idx.Len())
	assert.False(t, idx.IsProcessed("https://repo.example/a"))

	assert.Equal(t, 1, LoadDedupIndex(nil).NextID())
}

func TestLoadDedupIndexPositional(t *testing.T) {
	table := model.NewTable(nil, []model.Article{
		{ArticleID: 1, URL: "a"},
		{ArticleID: 2, URL: "b"},
		{ArticleID: 3, URL: "c"},
	})
	idx := LoadDedupIndex(table)

	assert.Equal(t, 4, idx.NextID())
	assert.True(t, idx.IsProcessed("b"))
	assert.Equal(t, 3, idx.Len())
}

func TestLoadDedupIndexNeverReusesStoredID(t *testing.T) {
	// two rows, but a gap left by an earlier append
	table := model.NewTable(nil, []model.Article{
		{ArticleID: 1, URL: "a"},
		{ArticleID: 7, URL: "b"},
	})
	idx := LoadDedupIndex(table)
	assert.Equal(t, 8, idx.NextID())
}

func TestAllocateIsMonotonic(t *testing.T) {
	idx := LoadDedupIndex(model.NewTable(nil, []model.Article{{ArticleID: 1, URL: "a"}}))

	assert.Equal(t, 2, idx.Allocate())
	assert.Equal(t, 3, idx.Allocate())
	assert.Equal(t, 4, idx.NextID())

	idx.MarkProcessed("z")
	assert.True(t, idx.IsProcessed("z"))
}
