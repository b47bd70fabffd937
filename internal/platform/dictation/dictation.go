// Package dictation turns ward audio notes into text and structured field
// suggestions by calling external speech-to-text and extraction services.
// Both calls sit behind circuit breakers and are best effort: the caller
// saves the clinical entry whether or not a transcript came back.
package dictation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrUnavailable indicates the external service is down or its circuit
// breaker is open.
var ErrUnavailable = errors.New("dictation service unavailable")

// Transcript is the speech-to-text output for one audio clip.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	Language   string  `json:"language,omitempty"`
}

// Result is what a dictation request yields: the transcript plus, when
// extraction succeeded, a category-shaped field suggestion the client can
// prefill into the entry form.
type Result struct {
	Transcript string          `json:"transcript"`
	Confidence float64         `json:"confidence,omitempty"`
	Suggestion json.RawMessage `json:"suggestion,omitempty"`
}

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*Transcript, error)
}

// Extractor derives structured entry fields from a transcript.
type Extractor interface {
	Extract(ctx context.Context, transcript, category string) (json.RawMessage, error)
}

// Service runs the full dictation flow.
type Service interface {
	Run(ctx context.Context, audio []byte, mimeType, category string) (*Result, error)
}

// Pipeline chains transcription and extraction. Transcription failure fails
// the request; extraction failure degrades to a transcript-only result.
type Pipeline struct {
	transcriber Transcriber
	extractor   Extractor
	logger      zerolog.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(transcriber Transcriber, extractor Extractor, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		transcriber: transcriber,
		extractor:   extractor,
		logger:      logger,
	}
}

// Run transcribes the audio and attempts field extraction.
func (p *Pipeline) Run(ctx context.Context, audio []byte, mimeType, category string) (*Result, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("audio is required")
	}

	transcript, err := p.transcriber.Transcribe(ctx, audio, mimeType)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	result := &Result{
		Transcript: transcript.Text,
		Confidence: transcript.Confidence,
	}

	if p.extractor == nil || transcript.Text == "" {
		return result, nil
	}

	suggestion, err := p.extractor.Extract(ctx, transcript.Text, category)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("category", category).
			Msg("field extraction failed, returning transcript only")
		return result, nil
	}
	result.Suggestion = suggestion
	return result, nil
}
