package content

import (
	"encoding/json"
	"fmt"

	"github.com/haven-cms/eventcore/internal/model"
)

const (
	AggregateReview = "review"

	EventReviewOpened    = "review.opened"
	EventReviewApproved  = "review.approved"
	EventReviewRejected  = "review.rejected"
	EventReviewCancelled = "review.cancelled"

	CmdOpenReview    = "review.open"
	CmdApproveReview = "review.approve"
	CmdRejectReview  = "review.reject"
	CmdCancelReview  = "review.cancel"

	TopicReviews = "cms.reviews"
)

type ReviewState string

const (
	ReviewOpen      ReviewState = "OPEN"
	ReviewApproved  ReviewState = "APPROVED"
	ReviewRejected  ReviewState = "REJECTED"
	ReviewCancelled ReviewState = "CANCELLED"
)

type reviewState struct {
	ArticleID string      `json:"article_id"`
	Reviewer  string      `json:"reviewer"`
	State     ReviewState `json:"state"`
}

// Review tracks one editorial review of an article.
type Review struct {
	id      string
	version int64
	state   reviewState
}

func NewReview(id string) *Review { return &Review{id: id} }

// ReviewID derives the review aggregate id for an article. One review
// per article; resubmission after rejection reuses the same review.
func ReviewID(articleID string) string { return "review:" + articleID }

func (r *Review) AggregateID() string   { return r.id }
func (r *Review) AggregateType() string { return AggregateReview }
func (r *Review) Version() int64        { return r.version }

func (r *Review) ArticleID() string  { return r.state.ArticleID }
func (r *Review) State() ReviewState { return r.state.State }

func (r *Review) Apply(event model.DomainEvent) error {
	switch event.EventType {
	case EventReviewOpened:
		var p OpenReviewPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("apply %s: %w", event.EventType, err)
		}
		r.state.ArticleID = p.ArticleID
		r.state.Reviewer = p.Reviewer
		r.state.State = ReviewOpen
	case EventReviewApproved:
		r.state.State = ReviewApproved
	case EventReviewRejected:
		r.state.State = ReviewRejected
	case EventReviewCancelled:
		r.state.State = ReviewCancelled
	default:
		return fmt.Errorf("review %s: unknown event type %s", r.id, event.EventType)
	}
	r.version = event.Version
	return nil
}

func (r *Review) SnapshotState() (json.RawMessage, error) {
	return json.Marshal(r.state)
}

func (r *Review) Restore(version int64, state json.RawMessage) error {
	if err := json.Unmarshal(state, &r.state); err != nil {
		return err
	}
	r.version = version
	return nil
}

// ---- command payloads ----

type OpenReviewPayload struct {
	ArticleID string `json:"article_id"`
	Reviewer  string `json:"reviewer"`
}

type ReviewVerdictPayload struct {
	Notes string `json:"notes,omitempty"`
}
