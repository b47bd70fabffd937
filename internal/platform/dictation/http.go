package dictation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	transcribeTimeout = 60 * time.Second
	extractTimeout    = 15 * time.Second

	// breakerCooldown is how long an open breaker waits before probing.
	breakerCooldown = 30 * time.Second
)

func newBreakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:    name,
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

// HTTPTranscriber calls an external speech-to-text service.
type HTTPTranscriber struct {
	endpoint string
	apiKey   string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[*Transcript]
}

// NewHTTPTranscriber creates a transcriber for the given service endpoint.
func NewHTTPTranscriber(endpoint, apiKey string) *HTTPTranscriber {
	return &HTTPTranscriber{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: transcribeTimeout},
		breaker:  gobreaker.NewCircuitBreaker[*Transcript](newBreakerSettings("speech-to-text")),
	}
}

// Transcribe posts the audio clip and returns the transcript.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (*Transcript, error) {
	result, err := t.breaker.Execute(func() (*Transcript, error) {
		return t.doTranscribe(ctx, audio, mimeType)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return result, nil
}

func (t *HTTPTranscriber) doTranscribe(ctx context.Context, audio []byte, mimeType string) (*Transcript, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/v1/transcripts", bytes.NewReader(audio))
	if err != nil {
		return nil, err
	}
	if mimeType == "" {
		mimeType = "audio/webm"
	}
	req.Header.Set("Content-Type", mimeType)
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, body)
	}

	var transcript Transcript
	if err := json.NewDecoder(resp.Body).Decode(&transcript); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return &transcript, nil
}

// HTTPExtractor calls an external service that maps a transcript onto the
// fields of a journal category.
type HTTPExtractor struct {
	endpoint string
	apiKey   string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[json.RawMessage]
}

// NewHTTPExtractor creates an extractor for the given service endpoint.
func NewHTTPExtractor(endpoint, apiKey string) *HTTPExtractor {
	return &HTTPExtractor{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: extractTimeout},
		breaker:  gobreaker.NewCircuitBreaker[json.RawMessage](newBreakerSettings("field-extraction")),
	}
}

type extractRequest struct {
	Transcript string `json:"transcript"`
	Category   string `json:"category"`
}

type extractResponse struct {
	Fields json.RawMessage `json:"fields"`
}

// Extract posts the transcript and returns the suggested fields.
func (e *HTTPExtractor) Extract(ctx context.Context, transcript, category string) (json.RawMessage, error) {
	result, err := e.breaker.Execute(func() (json.RawMessage, error) {
		return e.doExtract(ctx, transcript, category)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return result, nil
}

func (e *HTTPExtractor) doExtract(ctx context.Context, transcript, category string) (json.RawMessage, error) {
	payload, err := json.Marshal(extractRequest{Transcript: transcript, Category: category})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/v1/extractions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, body)
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	return out.Fields, nil
}
