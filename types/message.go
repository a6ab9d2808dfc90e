package types

import (
	"fmt"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

const (
	SentimentPositive = "POSITIVE"
	SentimentNegative = "NEGATIVE"
	SentimentNeutral  = "NEUTRAL"
)

// Sentiment is the best-effort classification attached to every message that
// passes moderation. Score is in [-1, 1].
type Sentiment struct {
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

// NeutralSentiment is the fallback used when the annotator is unavailable.
func NeutralSentiment() Sentiment {
	return Sentiment{Score: 0, Label: SentimentNeutral}
}

// Message is one chat utterance. Room is a free-form broadcast key, not
// validated against a fixed set. AuthorId is empty for guest senders, the
// display name is always set.
type Message struct {
	Id                string    `json:"id" gorm:"primaryKey"`
	Room              string    `json:"room" gorm:"index"`
	AuthorId          string    `json:"author_id,omitempty"`
	AuthorDisplayName string    `json:"author_display_name"`
	Text              string    `json:"text"`
	SourceLanguage    string    `json:"source_language,omitempty"`
	BridgeTranslation string    `json:"bridge_translation,omitempty"`
	Sentiment         Sentiment `json:"sentiment" gorm:"embedded;embeddedPrefix:sentiment_"`
	CreatedAt         time.Time `json:"created"`
}

// CreateId derives the message id from a hash over the message contents and
// creation time. Enrichment fields are excluded, so the id is stable across
// the pipeline.
func (m *Message) CreateId() error {
	h, err := hashstructure.Hash(struct {
		Room        string
		AuthorId    string
		DisplayName string
		Text        string
		Language    string
		CreatedNs   int64
	}{
		Room:        m.Room,
		AuthorId:    m.AuthorId,
		DisplayName: m.AuthorDisplayName,
		Text:        m.Text,
		Language:    m.SourceLanguage,
		CreatedNs:   m.CreatedAt.UnixNano(),
	}, hashstructure.FormatV2, nil)
	if err != nil {
		return err
	}
	m.Id = fmt.Sprintf("%016x", h)
	return nil
}
