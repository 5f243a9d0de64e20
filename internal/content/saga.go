package content

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haven-cms/eventcore/internal/model"
	"github.com/haven-cms/eventcore/internal/saga"
)

// SagaArticleReview drives an article from submission to publication:
//
//	article.submitted -> review.open -> review verdict -> article.publish
//
// A rejected review fails the forward path; compensation cancels the
// review and returns the article to draft.
const SagaArticleReview = "article-review"

type reviewSagaData struct {
	ArticleID string `json:"article_id"`
	ReviewID  string `json:"review_id"`
	Reviewer  string `json:"reviewer"`
}

// RegisterSagas wires the content workflows into the saga registry.
func RegisterSagas(r *saga.Registry) {
	r.MustRegister(ReviewSaga())
}

// ReviewSaga builds the article-review definition. Step handlers are
// deterministic: redelivered events re-issue byte-identical commands.
func ReviewSaga() *saga.Definition {
	return &saga.Definition{
		SagaType:     SagaArticleReview,
		TriggerEvent: EventArticleSubmitted,

		// one workflow per article; submissions correlate by aggregate id,
		// review verdicts by the article id embedded in the review state
		Correlate: func(e model.DomainEvent) string {
			switch e.AggregateType {
			case AggregateArticle:
				return e.AggregateID
			case AggregateReview:
				return articleIDFromReview(e.AggregateID)
			default:
				return ""
			}
		},

		InitialData: func(e model.DomainEvent) json.RawMessage {
			data, _ := json.Marshal(reviewSagaData{
				ArticleID: e.AggregateID,
				ReviewID:  ReviewID(e.AggregateID),
				Reviewer:  "editor",
			})
			return data
		},

		Steps: []saga.Step{
			{
				Name:       "open-review",
				EventTypes: []string{EventArticleSubmitted},
				Handle: func(_ context.Context, s model.Saga, _ model.DomainEvent) (saga.Decision, error) {
					var data reviewSagaData
					if err := json.Unmarshal(s.Data, &data); err != nil {
						return saga.Decision{}, fmt.Errorf("decode saga data: %w", err)
					}

					payload, err := json.Marshal(OpenReviewPayload{
						ArticleID: data.ArticleID,
						Reviewer:  data.Reviewer,
					})
					if err != nil {
						return saga.Decision{}, err
					}

					return saga.Decision{
						Outcome: saga.OutcomeAdvance,
						Commands: []model.Command{{
							CommandType:   CmdOpenReview,
							AggregateID:   data.ReviewID,
							AggregateType: AggregateReview,
							Payload:       payload,
						}},
					}, nil
				},
				// undo: cancel the review and put the article back in draft
				Compensate: func(_ context.Context, s model.Saga) ([]model.Command, error) {
					var data reviewSagaData
					if err := json.Unmarshal(s.Data, &data); err != nil {
						return nil, fmt.Errorf("decode saga data: %w", err)
					}
					reason, _ := json.Marshal(RejectArticlePayload{Reason: s.LastError})
					return []model.Command{
						{
							CommandType:   CmdCancelReview,
							AggregateID:   data.ReviewID,
							AggregateType: AggregateReview,
						},
						{
							CommandType:   CmdRejectArticle,
							AggregateID:   data.ArticleID,
							AggregateType: AggregateArticle,
							Payload:       reason,
						},
					}, nil
				},
			},
			{
				Name:       "await-verdict",
				EventTypes: []string{EventReviewApproved, EventReviewRejected},
				Handle: func(_ context.Context, s model.Saga, e model.DomainEvent) (saga.Decision, error) {
					var data reviewSagaData
					if err := json.Unmarshal(s.Data, &data); err != nil {
						return saga.Decision{}, fmt.Errorf("decode saga data: %w", err)
					}
					if e.AggregateID != data.ReviewID {
						return saga.Decision{Outcome: saga.OutcomeIgnore}, nil
					}

					if e.EventType == EventReviewRejected {
						return saga.Decision{
							Outcome: saga.OutcomeFail,
							Reason:  "review rejected",
						}, nil
					}

					return saga.Decision{
						Outcome: saga.OutcomeComplete,
						Commands: []model.Command{{
							CommandType:   CmdPublishArticle,
							AggregateID:   data.ArticleID,
							AggregateType: AggregateArticle,
						}},
					}, nil
				},
			},
		},
	}
}

func articleIDFromReview(reviewID string) string {
	const prefix = "review:"
	if len(reviewID) > len(prefix) && reviewID[:len(prefix)] == prefix {
		return reviewID[len(prefix):]
	}
	return ""
}
