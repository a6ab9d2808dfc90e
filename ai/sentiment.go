package ai

import (
	"context"

	language "cloud.google.com/go/language/apiv1"
	"github.com/ektasahyog/sahyog-relay/globals"
	"github.com/ektasahyog/sahyog-relay/types"
	languagepb "google.golang.org/genproto/googleapis/cloud/language/v1"
)

// Scores at or beyond these thresholds count as clearly positive/negative,
// everything in between is neutral.
const (
	positiveThreshold = 0.25
	negativeThreshold = -0.25
)

// GoogleAnalyzer classifies sentiment via the Google Cloud Natural Language
// API. Scores are in [-1, 1].
type GoogleAnalyzer struct{}

func NewGoogleAnalyzer() *GoogleAnalyzer {
	return &GoogleAnalyzer{}
}

func (a *GoogleAnalyzer) Analyze(ctx context.Context, text string) (types.Sentiment, error) {
	c, err := language.NewClient(ctx)
	if err != nil {
		globals.AppLogger.Error("could not create language client", "error", err)
		return types.NeutralSentiment(), err
	}
	defer c.Close()
	resp, err := c.AnalyzeSentiment(ctx, &languagepb.AnalyzeSentimentRequest{
		Document: &languagepb.Document{
			Type:   languagepb.Document_PLAIN_TEXT,
			Source: &languagepb.Document_Content{Content: text},
		},
	})
	if err != nil {
		globals.AppLogger.Error("could not analyze sentiment", "error", err)
		return types.NeutralSentiment(), err
	}
	score := float64(resp.DocumentSentiment.Score)
	return types.Sentiment{Score: score, Label: LabelForScore(score)}, nil
}

func LabelForScore(score float64) string {
	switch {
	case score >= positiveThreshold:
		return types.SentimentPositive
	case score <= negativeThreshold:
		return types.SentimentNegative
	}
	return types.SentimentNeutral
}
