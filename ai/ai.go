// Package ai holds the clients for the external enrichment services: the
// moderation gate, the translation bridge and the sentiment annotator. All
// calls are bounded by the configured timeout; the caller decides what a
// failure degrades to (fail-open for moderation, empty/default otherwise).
package ai

import (
	"context"
	"strings"

	"github.com/ektasahyog/sahyog-relay/types"
)

// Verdict is the moderation gate's classification of a message.
type Verdict struct {
	Unsafe bool
	Reason string
}

type Moderator interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

type Translator interface {
	// ToBridge translates text from the sender's language into the bridge
	// language.
	ToBridge(ctx context.Context, text, sourceLanguage string) (string, error)
	// ToLanguage translates text into an arbitrary reader-selected language,
	// the source language is auto-detected.
	ToLanguage(ctx context.Context, text, targetLanguage string) (string, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, text string) (types.Sentiment, error)
}

// IsoLang reduces a BCP-47-like tag ("es-ES", "en_US") to its lowercase
// two-letter language code.
func IsoLang(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if len(tag) > 2 {
		tag = tag[0:2]
	}
	return tag
}

// NeedsBridge reports whether a message in sourceLanguage has to be
// translated into the bridge language. An absent tag counts as already
// bridged.
func NeedsBridge(sourceLanguage, bridgeLanguage string) bool {
	src := IsoLang(sourceLanguage)
	if src == "" {
		return false
	}
	return src != IsoLang(bridgeLanguage)
}
