package transcription

import (
	"context"
	"fmt"
	"math"
	"strings"

	"hearing-processor/pkg/media"
)

var mockLines = []string{
	"The hearing is now in session. Please state your appearances for the record.",
	"Counsel for the claimant, your honour. We rely on the signed service agreement.",
	"The respondent disputes the delivery dates and the invoiced amount.",
	"The tribunal has reviewed the exhibits submitted by both parties.",
	"The respondent shall pay the outstanding balance within thirty days.",
	"We request an adjournment to file additional evidence.",
	"The matter is adjourned and will be listed for a further hearing.",
}

// MockProvider emits one canned segment per segmentLength seconds of audio.
// Confidence is left unreported so the placeholder value is applied.
type MockProvider struct {
	segmentLength float64
}

func NewMockProvider() *MockProvider {
	return &MockProvider{segmentLength: 10}
}

func (p *MockProvider) Name() string { return "mock-stt" }

func (p *MockProvider) Transcribe(ctx context.Context, req ChunkRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := media.ReadWAVInfo(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("mock provider: %w", err)
	}

	duration := info.Duration()
	n := int(math.Ceil(duration / p.segmentLength))
	lang := req.Language
	if lang == "" || strings.EqualFold(lang, "auto") {
		lang = "en"
	}

	out := &Result{Language: lang, Segments: make([]Segment, 0, n)}
	texts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i) * p.segmentLength
		end := math.Min(start+p.segmentLength, duration)
		text := mockLines[i%len(mockLines)]

		words := strings.Fields(text)
		step := (end - start) / float64(len(words))
		seg := Segment{Start: start, End: end, Text: text}
		for k, w := range words {
			seg.Words = append(seg.Words, Word{
				Start: start + float64(k)*step,
				End:   start + float64(k+1)*step,
				Text:  w,
			})
		}
		out.Segments = append(out.Segments, seg)
		texts = append(texts, text)
	}
	out.Text = strings.Join(texts, " ")
	return out, nil
}
