package command_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/haven-cms/eventcore/internal/command"
	"github.com/haven-cms/eventcore/internal/content"
	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/repository"
	"github.com/haven-cms/eventcore/internal/repository/memory"
)

type ExecutorSuite struct {
	suite.Suite
	ctx   context.Context
	store *memory.Store
	exec  *command.Executor
	now   time.Time
}

func (s *ExecutorSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.store.Clock = func() time.Time { return s.now }

	registry := command.NewRegistry()
	content.RegisterHandlers(registry)

	s.exec = command.NewExecutor(
		registry,
		s.store.UnitOfWork(),
		s.store.Ledger(),
		s.store.Events(),
		s.store.Snapshots(),
		command.Options{Staleness: 5 * time.Minute, SnapshotEvery: 3},
	)
}

func TestExecutorSuite(t *testing.T) {
	suite.Run(t, new(ExecutorSuite))
}

func (s *ExecutorSuite) draft(commandID, articleID string) model.CommandResult {
	payload, err := json.Marshal(content.DraftArticlePayload{Title: "T", Author: "a"})
	s.Require().NoError(err)

	res, err := s.exec.Submit(s.ctx, model.Command{
		CommandID:     commandID,
		CommandType:   content.CmdDraftArticle,
		AggregateID:   articleID,
		AggregateType: content.AggregateArticle,
		Payload:       payload,
	})
	s.Require().NoError(err)
	return res
}

func (s *ExecutorSuite) TestSubmitAppendsEventAndOutboxAtomically() {
	res := s.draft("cmd-1", "article-1")
	s.Equal(int64(1), res.Version)
	s.Len(res.EventIDs, 1)

	events, err := s.store.Events().Load(s.ctx, "article-1", 0)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(content.EventArticleDrafted, events[0].EventType)
	s.Equal(int64(1), events[0].Version)
	s.Equal("cmd-1", events[0].CorrelationID)

	outbox := s.store.Outbox().All()
	s.Require().Len(outbox, 1)
	s.Equal(content.TopicArticles, outbox[0].Destination)
	s.Equal(events[0].EventID, outbox[0].EventID)
	s.Equal(model.OutboxPending, outbox[0].Status)

	var env model.Envelope
	s.Require().NoError(json.Unmarshal(outbox[0].Payload, &env))
	s.Equal(events[0].EventID, env.EventID)

	row, err := s.store.Ledger().Get(s.ctx, "cmd-1")
	s.Require().NoError(err)
	s.Equal(model.CommandSuccess, row.Status)
}

func (s *ExecutorSuite) TestResubmissionReturnsCachedResult() {
	first := s.draft("cmd-1", "article-1")
	second := s.draft("cmd-1", "article-1")

	s.Equal(first, second)

	events, err := s.store.Events().Load(s.ctx, "article-1", 0)
	s.Require().NoError(err)
	s.Len(events, 1, "resubmission must not append again")
	s.Len(s.store.Outbox().All(), 1)
}

func (s *ExecutorSuite) TestValidationFailureRecordsFailed() {
	// submitting an article that was never drafted
	_, err := s.exec.Submit(s.ctx, model.Command{
		CommandID:     "cmd-bad",
		CommandType:   content.CmdSubmitArticle,
		AggregateID:   "article-missing",
		AggregateType: content.AggregateArticle,
	})
	s.Require().ErrorIs(err, command.ErrValidation)

	row, lerr := s.store.Ledger().Get(s.ctx, "cmd-bad")
	s.Require().NoError(lerr)
	s.Equal(model.CommandFailed, row.Status)
	s.NotEmpty(row.ErrorMessage)

	events, err := s.store.Events().Load(s.ctx, "article-missing", 0)
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *ExecutorSuite) TestFailedCommandIDIsReclaimable() {
	_, err := s.exec.Submit(s.ctx, model.Command{
		CommandID:     "cmd-retry",
		CommandType:   content.CmdSubmitArticle,
		AggregateID:   "article-1",
		AggregateType: content.AggregateArticle,
	})
	s.Require().ErrorIs(err, command.ErrValidation)

	s.draft("cmd-draft", "article-1")

	// same command id, preconditions now satisfied
	res, err := s.exec.Submit(s.ctx, model.Command{
		CommandID:     "cmd-retry",
		CommandType:   content.CmdSubmitArticle,
		AggregateID:   "article-1",
		AggregateType: content.AggregateArticle,
	})
	s.Require().NoError(err)
	s.Equal(int64(2), res.Version)
}

func (s *ExecutorSuite) TestPendingCommandBlocksUntilStale() {
	cmd := model.Command{
		CommandID:     "cmd-1",
		CommandType:   content.CmdDraftArticle,
		AggregateID:   "article-1",
		AggregateType: content.AggregateArticle,
		Payload:       json.RawMessage(`{"title":"T","author":"a"}`),
	}

	// simulate a crashed attempt: ledger row left PENDING
	_, err := s.store.Ledger().Begin(s.ctx, cmd, 5*time.Minute)
	s.Require().NoError(err)

	_, err = s.exec.Submit(s.ctx, cmd)
	s.Require().ErrorIs(err, repository.ErrCommandInFlight)

	// past the staleness window the id is reclaimed and executed
	s.now = s.now.Add(6 * time.Minute)
	res, err := s.exec.Submit(s.ctx, cmd)
	s.Require().NoError(err)
	s.Equal(int64(1), res.Version)
}

func (s *ExecutorSuite) TestUnknownCommandType() {
	_, err := s.exec.Submit(s.ctx, model.Command{
		CommandID:   "cmd-1",
		CommandType: "article.frobnicate",
		AggregateID: "article-1",
	})
	s.Require().ErrorIs(err, command.ErrUnknownCommand)

	// rejected before the ledger: the id stays usable
	_, err = s.store.Ledger().Get(s.ctx, "cmd-1")
	s.Require().ErrorIs(err, repository.ErrNotFound)
}

func (s *ExecutorSuite) TestMissingFieldsRejected() {
	_, err := s.exec.Submit(s.ctx, model.Command{CommandType: content.CmdDraftArticle})
	s.Require().ErrorIs(err, command.ErrValidation)
}

func (s *ExecutorSuite) TestSnapshotTakenAtThreshold() {
	s.draft("cmd-1", "article-1")                                  // v1
	s.submit("cmd-2", "article-1")                                 // v2
	_, err := s.store.Snapshots().Load(s.ctx, "article-1")         // below SnapshotEvery=3
	s.Require().ErrorIs(err, repository.ErrNotFound)

	// v3 crosses the threshold
	payload, _ := json.Marshal(content.RejectArticlePayload{Reason: "needs work"})
	_, err = s.exec.Submit(s.ctx, model.Command{
		CommandID:     "cmd-3",
		CommandType:   content.CmdRejectArticle,
		AggregateID:   "article-1",
		AggregateType: content.AggregateArticle,
		Payload:       payload,
	})
	s.Require().NoError(err)

	snap, err := s.store.Snapshots().Load(s.ctx, "article-1")
	s.Require().NoError(err)
	s.Equal(int64(3), snap.Version)

	// snapshot state equals a full replay
	restored := content.NewArticle("article-1")
	s.Require().NoError(restored.Restore(snap.Version, snap.State))
	s.Equal(content.ArticleDraft, restored.Status())
}

func (s *ExecutorSuite) TestNoOpCommandSucceedsWithoutEvents() {
	// cancelling a review that does not exist is an accepted no-op
	res, err := s.exec.Submit(s.ctx, model.Command{
		CommandID:     "cmd-noop",
		CommandType:   content.CmdCancelReview,
		AggregateID:   content.ReviewID("article-1"),
		AggregateType: content.AggregateReview,
	})
	s.Require().NoError(err)
	s.Equal(int64(0), res.Version)
	s.Empty(res.EventIDs)

	row, err := s.store.Ledger().Get(s.ctx, "cmd-noop")
	s.Require().NoError(err)
	s.Equal(model.CommandSuccess, row.Status)
}

func (s *ExecutorSuite) submit(commandID, articleID string) model.CommandResult {
	res, err := s.exec.Submit(s.ctx, model.Command{
		CommandID:     commandID,
		CommandType:   content.CmdSubmitArticle,
		AggregateID:   articleID,
		AggregateType: content.AggregateArticle,
	})
	s.Require().NoError(err)
	return res
}
