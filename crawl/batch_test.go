package crawl

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/researchaccelerator-hub/catalog-harvester/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func article(id int, url string) model.Article {
	return model.Article{ArticleID: id, URL: url, Title: "t", Date: "2020"}
}

func TestBatchFlushBoundary(t *testing.T) {
	ctx := context.Background()
	store := newMemRecordStore()
	b := NewBatchPersister(store, 50, nil)

	for i := 1; i <= 49; i++ {
		b.Append(article(i, fmt.Sprintf("u%d", i)))
		require.NoError(t, b.MaybeFlush(ctx))
	}
	assert.Equal(t, 49, b.Buffered())
	assert.Empty(t, store.rows())
	assert.Equal(t, 0, store.saves)
	assert.Equal(t, -1, b.Rows())

	b.Append(article(50, "u50"))
	require.NoError(t, b.MaybeFlush(ctx))
	assert.Equal(t, 0, b.Buffered())
	assert.Len(t, store.rows(), 50)
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, 50, b.Rows())
}

func TestBatchFlushAppendsAfterExistingRows(t *testing.T) {
	store := newMemRecordStore(article(1, "a"), article(2, "b"))
	b := NewBatchPersister(store, 50, NewMetrics())

	b.Append(article(3, "c"))
	b.Append(article(4, "d"))
	require.NoError(t, b.Flush(context.Background()))

	rows := store.rows()
	require.Len(t, rows, 4)
	for i, r := range rows {
		assert.Equal(t, i+1, r.ArticleID)
	}
}

func TestBatchFlushEmptyBufferIsNoop(t *testing.T) {
	store := new(MockRecordStore)
	b := NewBatchPersister(store, 0, nil)

	require.NoError(t, b.Flush(context.Background()))
	store.AssertNotCalled(t, "Load", mock.Anything)
}

func TestBatchFlushFailureKeepsBuffer(t *testing.T) {
	store := new(MockRecordStore)
	store.On("Load", mock.Anything).Return(model.NewTable(nil, nil), nil)
	store.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	b := NewBatchPersister(store, 50, nil)
	b.Append(article(1, "a"))

	err := b.Flush(context.Background())
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1, b.Buffered())
	assert.Equal(t, []string{"a"}, b.PendingURLs())

	store.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, 0, b.Buffered())
	store.AssertExpectations(t)
}

func TestBatchFlushLoadFailure(t *testing.T) {
	store := new(MockRecordStore)
	store.On("Load", mock.Anything).Return(nil, errors.New("permission denied"))

	b := NewBatchPersister(store, 50, nil)
	b.Append(article(1, "a"))

	assert.ErrorIs(t, b.Flush(context.Background()), ErrPersistence)
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestBatchFlushReplacing(t *testing.T) {
	store := newMemRecordStore(
		model.Article{ArticleID: 1, URL: "a", Title: "partial"},
		article(2, "b"),
	)
	b := NewBatchPersister(store, 50, nil)

	b.AppendReplacing(model.Article{ArticleID: 1, URL: "a", Title: "fixed", Date: "2020"})
	b.AppendReplacing(article(3, "c"))
	require.NoError(t, b.Flush(context.Background()))

	rows := store.rows()
	require.Len(t, rows, 3)
	assert.Equal(t, "fixed", rows[0].Title)
	assert.Equal(t, 1, rows[0].ArticleID)
	assert.Equal(t, "c", rows[2].URL)
}

func TestBatchFlushIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := new(MockRecordStore)
	store.On("Load", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil })).
		Return(model.NewTable(nil, nil), nil)
	store.On("Save", mock.Anything, mock.Anything).Return(nil)

	b := NewBatchPersister(store, 50, nil)
	b.Append(article(1, "a"))
	require.NoError(t, b.Flush(ctx))
	store.AssertExpectations(t)
}
