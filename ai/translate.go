package ai

import (
	"context"
	"fmt"
	"html"
	"strings"

	translate "cloud.google.com/go/translate/apiv3"
	"github.com/ektasahyog/sahyog-relay/config"
	"github.com/ektasahyog/sahyog-relay/globals"
	lru "github.com/hashicorp/golang-lru"
	translatepb "google.golang.org/genproto/googleapis/cloud/translate/v3"
)

const defaultTranslationCacheSize = 1024

type cacheKey struct {
	TargetLanguage string
	Text           string
}

// GoogleTranslator translates via the Google Cloud Translation v3 API.
// Results are kept in an ARC cache keyed by (target language, text).
type GoogleTranslator struct {
	projectId      string
	bridgeLanguage string
	cache          *lru.ARCCache
}

func NewGoogleTranslator(cfg config.AiConfig) (*GoogleTranslator, error) {
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = defaultTranslationCacheSize
	}
	cache, err := lru.NewARC(cacheSize)
	if err != nil {
		return nil, err
	}
	return &GoogleTranslator{
		projectId:      cfg.ProjectId,
		bridgeLanguage: cfg.BridgeLanguage,
		cache:          cache,
	}, nil
}

func (t *GoogleTranslator) ToBridge(ctx context.Context, text, sourceLanguage string) (string, error) {
	return t.translate(ctx, text, sourceLanguage, t.bridgeLanguage)
}

func (t *GoogleTranslator) ToLanguage(ctx context.Context, text, targetLanguage string) (string, error) {
	// source language is auto-detected on this path
	return t.translate(ctx, text, "", targetLanguage)
}

func (t *GoogleTranslator) translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	k := cacheKey{
		TargetLanguage: targetLanguage,
		Text:           text,
	}
	if v, ok := t.cache.Get(k); ok {
		globals.AppLogger.Debug("found translation in cache", "target", targetLanguage)
		return v.(string), nil
	}
	c, err := translate.NewTranslationClient(ctx)
	if err != nil {
		globals.AppLogger.Error("could not create translation client", "error", err)
		return "", err
	}
	defer c.Close()
	req := &translatepb.TranslateTextRequest{
		Contents:           []string{text},
		SourceLanguageCode: sourceLanguage,
		TargetLanguageCode: targetLanguage,
		Parent:             fmt.Sprintf("projects/%s/locations/global", t.projectId),
	}
	resp, err := c.TranslateText(ctx, req)
	if err != nil {
		globals.AppLogger.Error("could not translate", "error", err)
		return "", err
	}
	if len(resp.Translations) == 0 {
		return "", fmt.Errorf("empty translation response")
	}
	translated := NormalizeTranslation(html.UnescapeString(resp.Translations[0].TranslatedText))
	t.cache.Add(k, translated)
	return translated, nil
}

// NormalizeTranslation trims whitespace and strips one pair of matching
// wrapping quote characters some upstreams add around the result.
func NormalizeTranslation(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'' || first == '`') {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
