package content_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/haven-cms/eventcore/internal/aggregate"
	"github.com/haven-cms/eventcore/internal/command"
	"github.com/haven-cms/eventcore/internal/content"
	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository/memory"
	"github.com/haven-cms/eventcore/internal/saga"
)

// WorkflowSuite runs the article-review workflow end to end against the
// in-memory store: commands through the executor, committed events
// pumped into the saga processor, saga commands back through the
// executor.
type WorkflowSuite struct {
	suite.Suite
	ctx       context.Context
	store     *memory.Store
	exec      *command.Executor
	processor *saga.Processor
	cursor    int64
	cmdSeq    int
}

func (s *WorkflowSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.cursor = 0
	s.cmdSeq = 0

	registry := command.NewRegistry()
	content.RegisterHandlers(registry)
	s.exec = command.NewExecutor(
		registry,
		s.store.UnitOfWork(),
		s.store.Ledger(),
		s.store.Events(),
		s.store.Snapshots(),
		command.Options{Staleness: 5 * time.Minute},
	)

	sagas := saga.NewRegistry()
	content.RegisterSagas(sagas)
	s.processor = saga.NewProcessor(sagas, s.store.Sagas(), s.exec)
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

// pump feeds every committed event past the cursor into the saga
// processor, looping until the stream stabilizes. This is what the
// subscription runner does in production.
func (s *WorkflowSuite) pump() {
	for {
		batch, err := s.store.Events().ReadFrom(s.ctx, s.cursor, 100)
		s.Require().NoError(err)
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			s.Require().NoError(s.processor.HandleEvent(s.ctx, e))
			s.cursor = e.SequenceNumber
		}
	}
}

func (s *WorkflowSuite) submit(cmdType, aggregateType, aggregateID string, payload any) (model.CommandResult, error) {
	s.cmdSeq++
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		s.Require().NoError(err)
		raw = data
	}
	return s.exec.Submit(s.ctx, model.Command{
		CommandID:     "wf-cmd-" + s.T().Name() + "-" + string(rune('a'+s.cmdSeq)),
		CommandType:   cmdType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Payload:       raw,
	})
}

func (s *WorkflowSuite) article(id string) *content.Article {
	reh, err := aggregate.Rehydrate(s.ctx, s.store.Snapshots(), s.store.Events(),
		func(id string) aggregate.Aggregate { return content.NewArticle(id) }, id)
	s.Require().NoError(err)
	return reh.Aggregate.(*content.Article)
}

func (s *WorkflowSuite) review(id string) *content.Review {
	reh, err := aggregate.Rehydrate(s.ctx, s.store.Snapshots(), s.store.Events(),
		func(id string) aggregate.Aggregate { return content.NewReview(id) }, id)
	s.Require().NoError(err)
	return reh.Aggregate.(*content.Review)
}

func (s *WorkflowSuite) draftAndSubmit(articleID string) {
	_, err := s.submit(content.CmdDraftArticle, content.AggregateArticle, articleID,
		content.DraftArticlePayload{Title: "Go Memory Model", Author: "rsc"})
	s.Require().NoError(err)
	_, err = s.submit(content.CmdSubmitArticle, content.AggregateArticle, articleID, nil)
	s.Require().NoError(err)
}

func (s *WorkflowSuite) TestApprovedReviewPublishesArticle() {
	s.draftAndSubmit("article-1")
	s.pump()

	// submission opened a review
	rev := s.review(content.ReviewID("article-1"))
	s.Equal(content.ReviewOpen, rev.State())

	_, err := s.submit(content.CmdApproveReview, content.AggregateReview,
		content.ReviewID("article-1"), content.ReviewVerdictPayload{Notes: "lgtm"})
	s.Require().NoError(err)
	s.pump()

	s.Equal(content.ArticlePublished, s.article("article-1").Status())

	inst, err := s.store.Sagas().FindByCorrelation(s.ctx, content.SagaArticleReview, "article-1")
	s.Require().NoError(err)
	s.Equal(model.SagaCompleted, inst.Status)
}

func (s *WorkflowSuite) TestRejectedReviewReturnsArticleToDraft() {
	s.draftAndSubmit("article-1")
	s.pump()

	_, err := s.submit(content.CmdRejectReview, content.AggregateReview,
		content.ReviewID("article-1"), content.ReviewVerdictPayload{Notes: "needs work"})
	s.Require().NoError(err)
	s.pump()

	// compensation cancelled the review workflow and rejected the article
	s.Equal(content.ArticleDraft, s.article("article-1").Status())

	inst, err := s.store.Sagas().FindByCorrelation(s.ctx, content.SagaArticleReview, "article-1")
	s.Require().NoError(err)
	s.Equal(model.SagaFailed, inst.Status)
}

func (s *WorkflowSuite) TestResubmitAfterRejectionIsBlockedByTerminalSaga() {
	s.draftAndSubmit("article-1")
	s.pump()
	_, err := s.submit(content.CmdRejectReview, content.AggregateReview,
		content.ReviewID("article-1"), content.ReviewVerdictPayload{Notes: "lgtm"})
	s.Require().NoError(err)
	s.pump()

	// the article can be resubmitted, but the failed workflow instance
	// holds the correlation slot: no second review opens
	_, err = s.submit(content.CmdSubmitArticle, content.AggregateArticle, "article-1", nil)
	s.Require().NoError(err)
	s.pump()

	rev := s.review(content.ReviewID("article-1"))
	s.NotEqual(content.ReviewOpen, rev.State())
}

func (s *WorkflowSuite) TestArchivePublishedArticle() {
	s.draftAndSubmit("article-1")
	s.pump()
	_, err := s.submit(content.CmdApproveReview, content.AggregateReview,
		content.ReviewID("article-1"), content.ReviewVerdictPayload{Notes: "lgtm"})
	s.Require().NoError(err)
	s.pump()

	_, err = s.submit(content.CmdArchiveArticle, content.AggregateArticle, "article-1", nil)
	s.Require().NoError(err)
	s.Equal(content.ArticleArchived, s.article("article-1").Status())
}

func TestArticleTransitionValidation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	registry := command.NewRegistry()
	content.RegisterHandlers(registry)
	exec := command.NewExecutor(registry, store.UnitOfWork(), store.Ledger(),
		store.Events(), store.Snapshots(), command.Options{Staleness: time.Minute})

	submit := func(id, cmdType, aggregateID string, payload json.RawMessage) error {
		_, err := exec.Submit(ctx, model.Command{
			CommandID:     id,
			CommandType:   cmdType,
			AggregateID:   aggregateID,
			AggregateType: content.AggregateArticle,
			Payload:       payload,
		})
		return err
	}

	// publishing or archiving an article that was never drafted
	require.ErrorIs(t, submit("c-1", content.CmdPublishArticle, "a-1", nil), command.ErrValidation)
	require.ErrorIs(t, submit("c-2", content.CmdArchiveArticle, "a-1", nil), command.ErrValidation)

	require.NoError(t, submit("c-3", content.CmdDraftArticle, "a-1", []byte(`{"title":"T","author":"a"}`)))

	// drafting twice, archiving a draft
	require.ErrorIs(t, submit("c-4", content.CmdDraftArticle, "a-1", []byte(`{"title":"T","author":"a"}`)), command.ErrValidation)
	require.ErrorIs(t, submit("c-5", content.CmdArchiveArticle, "a-1", nil), command.ErrValidation)

	// missing required fields
	require.ErrorIs(t, submit("c-6", content.CmdDraftArticle, "a-2", []byte(`{"title":"T"}`)), command.ErrValidation)
}

func TestReviewVerdictValidation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	registry := command.NewRegistry()
	content.RegisterHandlers(registry)
	exec := command.NewExecutor(registry, store.UnitOfWork(), store.Ledger(),
		store.Events(), store.Snapshots(), command.Options{Staleness: time.Minute})

	submit := func(id, cmdType string, payload json.RawMessage) (model.CommandResult, error) {
		return exec.Submit(ctx, model.Command{
			CommandID:     id,
			CommandType:   cmdType,
			AggregateID:   content.ReviewID("a-1"),
			AggregateType: content.AggregateReview,
			Payload:       payload,
		})
	}

	// verdict before the review exists
	_, err := submit("c-1", content.CmdApproveReview, nil)
	require.ErrorIs(t, err, command.ErrValidation)

	open, err := json.Marshal(content.OpenReviewPayload{ArticleID: "a-1", Reviewer: "editor"})
	require.NoError(t, err)
	_, err = submit("c-2", content.CmdOpenReview, open)
	require.NoError(t, err)

	// opening an already-open review is an accepted no-op
	res, err := submit("c-3", content.CmdOpenReview, open)
	require.NoError(t, err)
	require.Empty(t, res.EventIDs)

	_, err = submit("c-4", content.CmdApproveReview, nil)
	require.NoError(t, err)

	// second verdict rejected, cancel after verdict is an accepted no-op
	_, err = submit("c-5", content.CmdRejectReview, nil)
	require.ErrorIs(t, err, command.ErrValidation)
	res, err = submit("c-6", content.CmdCancelReview, nil)
	require.NoError(t, err)
	require.Empty(t, res.EventIDs)
}

func TestReviewIDRoundTrip(t *testing.T) {
	require.Equal(t, "review:article-9", content.ReviewID("article-9"))
}
