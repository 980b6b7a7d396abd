package transcription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hearing-processor/pkg/media"
	"hearing-processor/pkg/metrics"
	"hearing-processor/pkg/models"
)

// DefaultConfidence is used for segments the provider did not score.
const DefaultConfidence = 0.9

// Transcriber runs the provider over every chunk and stitches the results
// into one transcript on the original timeline.
type Transcriber struct {
	provider Provider
	metrics  *metrics.Metrics
}

func NewTranscriber(provider Provider, m *metrics.Metrics) *Transcriber {
	return &Transcriber{provider: provider, metrics: m}
}

// Run transcribes chunks in index order. Any chunk failure aborts the run.
func (t *Transcriber) Run(ctx context.Context, sessionID string, chunks []media.Chunk, language string) (*models.Transcript, error) {
	start := time.Now()
	transcript := &models.Transcript{
		ID:        models.NewID(),
		SessionID: sessionID,
		Segments:  []models.Segment{},
		Language:  language,
	}

	var texts []string
	for _, chunk := range chunks {
		callStart := time.Now()
		res, err := t.provider.Transcribe(ctx, ChunkRequest{
			AudioPath: chunk.Path,
			Language:  language,
			Diarize:   true,
		})
		t.metrics.RecordProviderCall(t.provider.Name(), time.Since(callStart).Seconds(), err)
		if err != nil {
			return nil, &models.ProviderError{
				Stage:       models.StageTranscription,
				Provider:    t.provider.Name(),
				Recoverable: Retryable(err),
				Err:         fmt.Errorf("chunk %d: %w", chunk.Index, err),
			}
		}

		transcript.Segments = append(transcript.Segments, Rebase(res.Segments, chunk.StartOffset)...)
		if text := strings.TrimSpace(res.Text); text != "" {
			texts = append(texts, text)
		}
		if transcript.Language == "" || strings.EqualFold(transcript.Language, "auto") {
			transcript.Language = res.Language
		}
	}

	transcript.FullText = strings.Join(texts, " ")
	transcript.Confidence = meanConfidence(transcript.Segments)
	transcript.ProcessingDuration = time.Since(start).Seconds()
	transcript.CreatedAt = time.Now().UTC()
	return transcript, nil
}

// Rebase moves chunk-local segment and word times onto the global timeline.
func Rebase(segments []Segment, offset float64) []models.Segment {
	out := make([]models.Segment, 0, len(segments))
	for _, s := range segments {
		conf := DefaultConfidence
		if s.HasConfidence {
			conf = s.Confidence
		}
		seg := models.Segment{
			Start:      s.Start + offset,
			End:        s.End + offset,
			Text:       s.Text,
			Confidence: conf,
		}
		for _, w := range s.Words {
			seg.Words = append(seg.Words, models.Word{
				Start: w.Start + offset,
				End:   w.End + offset,
				Text:  w.Text,
			})
		}
		out = append(out, seg)
	}
	return out
}

func meanConfidence(segments []models.Segment) float64 {
	if len(segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range segments {
		sum += s.Confidence
	}
	return sum / float64(len(segments))
}
