package content

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haven-cms/eventcore/internal/aggregate"
	"github.com/haven-cms/eventcore/internal/command"
	"github.com/haven-cms/eventcore/internal/model"
)

// RegisterHandlers wires every content command into the registry.
func RegisterHandlers(r *command.Registry) {
	r.MustRegister(draftArticleHandler{})
	r.MustRegister(submitArticleHandler{})
	r.MustRegister(publishArticleHandler{})
	r.MustRegister(rejectArticleHandler{})
	r.MustRegister(archiveArticleHandler{})
	r.MustRegister(openReviewHandler{})
	r.MustRegister(approveReviewHandler{})
	r.MustRegister(rejectReviewHandler{})
	r.MustRegister(cancelReviewHandler{})
}

// ---- article handlers ----

type draftArticleHandler struct{}

func (draftArticleHandler) CommandType() string   { return CmdDraftArticle }
func (draftArticleHandler) AggregateType() string { return AggregateArticle }
func (draftArticleHandler) NewAggregate(id string) aggregate.Aggregate {
	return NewArticle(id)
}

func (draftArticleHandler) Handle(_ context.Context, agg aggregate.Aggregate, cmd model.Command) ([]command.Proposed, error) {
	art := agg.(*Article)
	if art.Version() != 0 {
		return nil, fmt.Errorf("%w: article %s already exists", command.ErrValidation, art.AggregateID())
	}

	var p DraftArticlePayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", command.ErrValidation, err)
	}
	if p.Title == "" || p.Author == "" {
		return nil, fmt.Errorf("%w: title and author are required", command.ErrValidation)
	}

	return []command.Proposed{{
		EventType:   EventArticleDrafted,
		Payload:     cmd.Payload,
		Destination: TopicArticles,
	}}, nil
}

type submitArticleHandler struct{}

func (submitArticleHandler) CommandType() string   { return CmdSubmitArticle }
func (submitArticleHandler) AggregateType() string { return AggregateArticle }
func (submitArticleHandler) NewAggregate(id string) aggregate.Aggregate {
	return NewArticle(id)
}

func (submitArticleHandler) Handle(_ context.Context, agg aggregate.Aggregate, _ model.Command) ([]command.Proposed, error) {
	art := agg.(*Article)
	if art.Status() != ArticleDraft {
		return nil, fmt.Errorf("%w: article %s is %s, only DRAFT can be submitted",
			command.ErrValidation, art.AggregateID(), art.Status())
	}

	return []command.Proposed{{
		EventType:   EventArticleSubmitted,
		Payload:     json.RawMessage(`{}`),
		Destination: TopicArticles,
	}}, nil
}

type publishArticleHandler struct{}

func (publishArticleHandler) CommandType() string   { return CmdPublishArticle }
func (publishArticleHandler) AggregateType() string { return AggregateArticle }
func (publishArticleHandler) NewAggregate(id string) aggregate.Aggregate {
	return NewArticle(id)
}

func (publishArticleHandler) Handle(_ context.Context, agg aggregate.Aggregate, _ model.Command) ([]command.Proposed, error) {
	art := agg.(*Article)
	if art.Status() != ArticleInReview {
		return nil, fmt.Errorf("%w: article %s is %s, only IN_REVIEW can be published",
			command.ErrValidation, art.AggregateID(), art.Status())
	}

	return []command.Proposed{{
		EventType:   EventArticlePublished,
		Payload:     json.RawMessage(`{}`),
		Destination: TopicArticles,
	}}, nil
}

type rejectArticleHandler struct{}

func (rejectArticleHandler) CommandType() string   { return CmdRejectArticle }
func (rejectArticleHandler) AggregateType() string { return AggregateArticle }
func (rejectArticleHandler) NewAggregate(id string) aggregate.Aggregate {
	return NewArticle(id)
}

func (rejectArticleHandler) Handle(_ context.Context, agg aggregate.Aggregate, cmd model.Command) ([]command.Proposed, error) {
	art := agg.(*Article)
	if art.Status() == ArticleDraft {
		// already back in draft, nothing to do (compensation replay)
		return nil, nil
	}
	if art.Status() != ArticleInReview {
		return nil, fmt.Errorf("%w: article %s is %s, only IN_REVIEW can be rejected",
			command.ErrValidation, art.AggregateID(), art.Status())
	}

	payload := cmd.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	return []command.Proposed{{
		EventType:   EventArticleRejected,
		Payload:     payload,
		Destination: TopicArticles,
	}}, nil
}

type archiveArticleHandler struct{}

func (archiveArticleHandler) CommandType() string   { return CmdArchiveArticle }
func (archiveArticleHandler) AggregateType() string { return AggregateArticle }
func (archiveArticleHandler) NewAggregate(id string) aggregate.Aggregate {
	return NewArticle(id)
}

func (archiveArticleHandler) Handle(_ context.Context, agg aggregate.Aggregate, _ model.Command) ([]command.Proposed, error) {
	art := agg.(*Article)
	if art.Status() != ArticlePublished {
		return nil, fmt.Errorf("%w: article %s is %s, only PUBLISHED can be archived",
			command.ErrValidation, art.AggregateID(), art.Status())
	}

	return []command.Proposed{{
		EventType:   EventArticleArchived,
		Payload:     json.RawMessage(`{}`),
		Destination: TopicArticles,
	}}, nil
}

// ---- review handlers ----

type openReviewHandler struct{}

func (openReviewHandler) CommandType() string   { return CmdOpenReview }
func (openReviewHandler) AggregateType() string { return AggregateReview }
func (openReviewHandler) NewAggregate(id string) aggregate.Aggregate {
	return NewReview(id)
}

func (openReviewHandler) Handle(_ context.Context, agg aggregate.Aggregate, cmd model.Command) ([]command.Proposed, error) {
	rev := agg.(*Review)
	if rev.State() == ReviewOpen {
		return nil, nil
	}
	if rev.State() == ReviewApproved {
		return nil, fmt.Errorf("%w: review %s already approved", command.ErrValidation, rev.AggregateID())
	}

	var p OpenReviewPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", command.ErrValidation, err)
	}
	if p.ArticleID == "" {
		return nil, fmt.Errorf("%w: article_id is required", command.ErrValidation)
	}

	return []command.Proposed{{
		EventType:   EventReviewOpened,
		Payload:     cmd.Payload,
		Destination: TopicReviews,
	}}, nil
}

type approveReviewHandler struct{}

func (approveReviewHandler) CommandType() string   { return CmdApproveReview }
func (approveReviewHandler) AggregateType() string { return AggregateReview }
func (approveReviewHandler) NewAggregate(id string) aggregate.Aggregate {
	return NewReview(id)
}

func (approveReviewHandler) Handle(_ context.Context, agg aggregate.Aggregate, cmd model.Command) ([]command.Proposed, error) {
	return reviewVerdict(agg, cmd, EventReviewApproved)
}

type rejectReviewHandler struct{}

func (rejectReviewHandler) CommandType() string   { return CmdRejectReview }
func (rejectReviewHandler) AggregateType() string { return AggregateReview }
func (rejectReviewHandler) NewAggregate(id string) aggregate.Aggregate {
	return NewReview(id)
}

func (rejectReviewHandler) Handle(_ context.Context, agg aggregate.Aggregate, cmd model.Command) ([]command.Proposed, error) {
	return reviewVerdict(agg, cmd, EventReviewRejected)
}

func reviewVerdict(agg aggregate.Aggregate, cmd model.Command, eventType string) ([]command.Proposed, error) {
	rev := agg.(*Review)
	if rev.State() != ReviewOpen {
		return nil, fmt.Errorf("%w: review %s is %s, only OPEN can get a verdict",
			command.ErrValidation, rev.AggregateID(), rev.State())
	}

	payload := cmd.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	return []command.Proposed{{
		EventType:   eventType,
		Payload:     payload,
		Destination: TopicReviews,
	}}, nil
}

type cancelReviewHandler struct{}

func (cancelReviewHandler) CommandType() string   { return CmdCancelReview }
func (cancelReviewHandler) AggregateType() string { return AggregateReview }
func (cancelReviewHandler) NewAggregate(id string) aggregate.Aggregate {
	return NewReview(id)
}

func (cancelReviewHandler) Handle(_ context.Context, agg aggregate.Aggregate, _ model.Command) ([]command.Proposed, error) {
	rev := agg.(*Review)
	if rev.State() != ReviewOpen {
		// nothing in flight to cancel; compensation must stay re-runnable
		return nil, nil
	}

	return []command.Proposed{{
		EventType:   EventReviewCancelled,
		Payload:     json.RawMessage(`{}`),
		Destination: TopicReviews,
	}}, nil
}
