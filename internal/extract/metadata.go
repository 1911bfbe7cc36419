package extract

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// Fallback placeholders for documents whose metadata could not be extracted.
const (
	FallbackTitle      = "Untitled document"
	FallbackAuthor     = "Unknown"
	fallbackSummaryLen = 500
)

// FallbackMetadata builds the marked placeholder used when extraction fails.
// The summary is the first 500 characters of the opening text.
func FallbackMetadata(openingText string) Metadata {
	summary := strings.Join(strings.Fields(openingText), " ")
	if utf8.RuneCountInString(summary) > fallbackSummaryLen {
		summary = string([]rune(summary)[:fallbackSummaryLen])
	}
	return Metadata{
		Title:    FallbackTitle,
		Authors:  []string{FallbackAuthor},
		Summary:  summary,
		Fallback: true,
	}
}

// ExtractMetadata asks for title, authors, year and summary of the opening
// text. Failures after retries yield FallbackMetadata; only a cancelled ctx
// is returned as an error.
func ExtractMetadata(ctx context.Context, c Completer, openingText string, policy RetryPolicy, log *slog.Logger) (Metadata, error) {
	if log == nil {
		log = slog.Default()
	}
	payload, err := CompleteWithRetry(ctx, c, BuildMetadataPrompt(openingText), MetadataSchema, policy, log)
	if err == nil {
		var m Metadata
		if m, err = DecodeMetadata(payload); err == nil {
			return m, nil
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return Metadata{}, ctx.Err()
		}
	}
	log.Warn("metadata extraction failed, using fallback", "model", c.Model(), "error", err)
	return FallbackMetadata(openingText), nil
}
