package domain

import "strings"

const maxTitleRunes = 500

// ValidateNoteInput checks a note's title/body before normalization, mirroring
// engine/domain/validate.go's NewValidationError-per-field shape.
func ValidateNoteInput(title, body string) error {
	if strings.TrimSpace(title) == "" {
		return NewFieldError(KindValidationFailed, "title", "must not be empty")
	}
	if len([]rune(title)) > maxTitleRunes {
		return NewFieldError(KindValidationFailed, "title", "exceeds maximum length")
	}
	if strings.TrimSpace(body) == "" {
		return NewFieldError(KindValidationFailed, "body", "must not be empty")
	}
	return nil
}

// ValidateEmbeddingDimension refuses a write that would mix embedding
// dimensions within the store (spec §3 Note invariants, §4.B fatal
// configuration error).
func ValidateEmbeddingDimension(embedding []float32, declaredDimension int) error {
	if len(embedding) == 0 {
		return nil
	}
	if len(embedding) != declaredDimension {
		return NewFieldError(KindDimensionMismatch, "embedding",
			"embedding dimension does not match the store's declared dimension")
	}
	return nil
}
