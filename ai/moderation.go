package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ektasahyog/sahyog-relay/config"
)

const defaultBlockReason = "message flagged by moderation"

// HTTPModerator posts message text to the platform's toxicity classification
// endpoint. Errors are returned as-is, the pipeline fails open on them.
type HTTPModerator struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPModerator(cfg config.AiConfig) *HTTPModerator {
	return &HTTPModerator{
		url:    cfg.ModerationUrl,
		apiKey: cfg.ModerationKey,
		client: &http.Client{Timeout: cfg.Timeout()},
	}
}

type moderationRequest struct {
	Text string `json:"text"`
}

type moderationResponse struct {
	Toxic  bool   `json:"toxic"`
	Reason string `json:"reason"`
}

func (m *HTTPModerator) Classify(ctx context.Context, text string) (Verdict, error) {
	if text == "" || m.url == "" {
		return Verdict{}, nil
	}
	body, err := json.Marshal(moderationRequest{Text: text})
	if err != nil {
		return Verdict{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return Verdict{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("moderation endpoint returned %d", resp.StatusCode)
	}
	var res moderationResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Verdict{}, err
	}
	if !res.Toxic {
		return Verdict{}, nil
	}
	reason := res.Reason
	if reason == "" {
		reason = defaultBlockReason
	}
	return Verdict{Unsafe: true, Reason: reason}, nil
}
