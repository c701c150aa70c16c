// Package intent decides whether a fresh mention asks the bot to create a market.
package intent

import (
	"context"
	"io"
	"log/slog"
	"regexp"

	"github.com/edgard/marketbot/internal/template"
)

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcreate\s+(?:a\s+)?(?:prediction\s+)?market\b`),
	regexp.MustCompile(`(?i)\bnew\s+(?:prediction\s+)?market\b`),
	regexp.MustCompile(`(?i)\bmake\s+(?:a\s+)?(?:prediction\s+)?market\b`),
}

// Detect reports whether text contains a create-market phrase. Mentions are
// ignored so a handle like @newmarket cannot trigger it.
func Detect(text string) bool {
	cleaned := template.StripMentions(text)
	for _, p := range patterns {
		if p.MatchString(cleaned) {
			return true
		}
	}
	return false
}

// Detector classifies mention text.
type Detector interface {
	IsCreateMarketIntent(ctx context.Context, text string) bool
}

// RegexDetector applies the fixed phrase patterns.
type RegexDetector struct{}

// IsCreateMarketIntent implements Detector.
func (RegexDetector) IsCreateMarketIntent(_ context.Context, text string) bool {
	return Detect(text)
}

// Classifier is a model-backed yes/no intent classifier.
type Classifier interface {
	ClassifyIntent(ctx context.Context, text string) (bool, error)
}

// FallbackDetector tries the phrase patterns first and asks the classifier
// only when they miss. Classifier errors count as no intent.
type FallbackDetector struct {
	classifier Classifier
	logger     *slog.Logger
}

// NewFallbackDetector returns a Detector backed by classifier. A nil
// classifier degrades to the phrase patterns alone.
func NewFallbackDetector(classifier Classifier, logger *slog.Logger) *FallbackDetector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FallbackDetector{
		classifier: classifier,
		logger:     logger.With("component", "intent"),
	}
}

// IsCreateMarketIntent implements Detector.
func (d *FallbackDetector) IsCreateMarketIntent(ctx context.Context, text string) bool {
	if Detect(text) {
		return true
	}
	if d.classifier == nil {
		return false
	}

	ok, err := d.classifier.ClassifyIntent(ctx, template.StripMentions(text))
	if err != nil {
		d.logger.WarnContext(ctx, "Intent classifier failed, treating as no intent", "error", err)
		return false
	}
	if ok {
		d.logger.InfoContext(ctx, "Intent recognized by classifier")
	}
	return ok
}
