package aggregate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haven-cms/eventcore/internal/aggregate"
	"github.com/haven-cms/eventcore/internal/content"
	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository/memory"
)

func appendArticleHistory(t *testing.T, store *memory.Store, articleID string) {
	t.Helper()
	ctx := context.Background()
	history := []model.DomainEvent{
		{AggregateID: articleID, AggregateType: content.AggregateArticle,
			EventType: content.EventArticleDrafted, Payload: []byte(`{"title":"T","author":"a"}`)},
		{AggregateID: articleID, AggregateType: content.AggregateArticle,
			EventType: content.EventArticleSubmitted, Payload: []byte(`{}`)},
		{AggregateID: articleID, AggregateType: content.AggregateArticle,
			EventType: content.EventArticlePublished, Payload: []byte(`{}`)},
	}
	_, err := store.Events().Append(ctx, nil, 0, history)
	require.NoError(t, err)
}

func TestRehydrateFromScratch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	appendArticleHistory(t, store, "a-1")

	reh, err := aggregate.Rehydrate(ctx, store.Snapshots(), store.Events(),
		func(id string) aggregate.Aggregate { return content.NewArticle(id) }, "a-1")
	require.NoError(t, err)
	require.Zero(t, reh.SnapshotVersion)
	require.Equal(t, 3, reh.EventsReplayed)

	art := reh.Aggregate.(*content.Article)
	require.Equal(t, int64(3), art.Version())
	require.Equal(t, content.ArticlePublished, art.Status())
	require.Equal(t, "T", art.Title())
}

func TestRehydrateFromSnapshotMatchesFullReplay(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	appendArticleHistory(t, store, "a-1")

	// snapshot taken mid-stream at version 2
	mid := content.NewArticle("a-1")
	events, err := store.Events().Load(ctx, "a-1", 0)
	require.NoError(t, err)
	for _, e := range events[:2] {
		require.NoError(t, mid.Apply(e))
	}
	state, err := mid.SnapshotState()
	require.NoError(t, err)
	require.NoError(t, store.Snapshots().Save(ctx, nil, model.AggregateSnapshot{
		AggregateID:   "a-1",
		AggregateType: content.AggregateArticle,
		Version:       2,
		State:         state,
	}))

	reh, err := aggregate.Rehydrate(ctx, store.Snapshots(), store.Events(),
		func(id string) aggregate.Aggregate { return content.NewArticle(id) }, "a-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), reh.SnapshotVersion)
	require.Equal(t, 1, reh.EventsReplayed, "only the tail after the snapshot")

	fromSnap := reh.Aggregate.(*content.Article)

	full, err := aggregate.Rehydrate(ctx, nil, store.Events(),
		func(id string) aggregate.Aggregate { return content.NewArticle(id) }, "a-1")
	require.NoError(t, err)
	fromScratch := full.Aggregate.(*content.Article)

	require.Equal(t, fromScratch.Version(), fromSnap.Version())
	require.Equal(t, fromScratch.Status(), fromSnap.Status())
	require.Equal(t, fromScratch.Title(), fromSnap.Title())
}

func TestRehydrateMissingAggregateIsFresh(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	reh, err := aggregate.Rehydrate(ctx, store.Snapshots(), store.Events(),
		func(id string) aggregate.Aggregate { return content.NewArticle(id) }, "a-missing")
	require.NoError(t, err)
	require.Zero(t, reh.Aggregate.Version())
	require.Zero(t, reh.EventsReplayed)
}
