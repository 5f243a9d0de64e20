// Package content is the in-repo CMS domain: articles and their review
// workflow. It exercises the full pipeline end to end (commands, events,
// outbox delivery, the review saga, the activity projection) and is what
// the seed command drives.
package content

import (
	"encoding/json"
	"fmt"

	"github.com/haven-cms/eventcore/internal/model"
)

const (
	AggregateArticle = "article"

	EventArticleDrafted   = "article.drafted"
	EventArticleSubmitted = "article.submitted"
	EventArticlePublished = "article.published"
	EventArticleRejected  = "article.rejected"
	EventArticleArchived  = "article.archived"

	CmdDraftArticle   = "article.draft"
	CmdSubmitArticle  = "article.submit"
	CmdPublishArticle = "article.publish"
	CmdRejectArticle  = "article.reject"
	CmdArchiveArticle = "article.archive"

	// TopicArticles is the outbox destination for article events.
	TopicArticles = "cms.articles"
)

type ArticleStatus string

const (
	ArticleDraft     ArticleStatus = "DRAFT"
	ArticleInReview  ArticleStatus = "IN_REVIEW"
	ArticlePublished ArticleStatus = "PUBLISHED"
	ArticleArchived  ArticleStatus = "ARCHIVED"
)

type articleState struct {
	Title  string        `json:"title"`
	Author string        `json:"author"`
	Status ArticleStatus `json:"status"`
}

// Article folds article.* events into current state.
type Article struct {
	id      string
	version int64
	state   articleState
}

func NewArticle(id string) *Article { return &Article{id: id} }

func (a *Article) AggregateID() string   { return a.id }
func (a *Article) AggregateType() string { return AggregateArticle }
func (a *Article) Version() int64        { return a.version }

func (a *Article) Title() string         { return a.state.Title }
func (a *Article) Status() ArticleStatus { return a.state.Status }

func (a *Article) Apply(event model.DomainEvent) error {
	switch event.EventType {
	case EventArticleDrafted:
		var p DraftArticlePayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("apply %s: %w", event.EventType, err)
		}
		a.state.Title = p.Title
		a.state.Author = p.Author
		a.state.Status = ArticleDraft
	case EventArticleSubmitted:
		a.state.Status = ArticleInReview
	case EventArticlePublished:
		a.state.Status = ArticlePublished
	case EventArticleRejected:
		a.state.Status = ArticleDraft
	case EventArticleArchived:
		a.state.Status = ArticleArchived
	default:
		return fmt.Errorf("article %s: unknown event type %s", a.id, event.EventType)
	}
	a.version = event.Version
	return nil
}

func (a *Article) SnapshotState() (json.RawMessage, error) {
	return json.Marshal(a.state)
}

func (a *Article) Restore(version int64, state json.RawMessage) error {
	if err := json.Unmarshal(state, &a.state); err != nil {
		return err
	}
	a.version = version
	return nil
}

// ---- command payloads ----

type DraftArticlePayload struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

type RejectArticlePayload struct {
	Reason string `json:"reason"`
}
