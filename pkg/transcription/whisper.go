package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WhisperConfig contains the speech-to-text API configuration
type WhisperConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
	MaxRetry time.Duration
}

// WhisperClient talks to an OpenAI-compatible /audio/transcriptions endpoint.
type WhisperClient struct {
	config     WhisperConfig
	httpClient *http.Client
}

func NewWhisperClient(config WhisperConfig) (*WhisperClient, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if config.Model == "" {
		config.Model = "whisper-1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Minute
	}
	if config.MaxRetry <= 0 {
		config.MaxRetry = 45 * time.Second
	}

	return &WhisperClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

func (c *WhisperClient) Name() string { return "whisper" }

type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start      float64  `json:"start"`
		End        float64  `json:"end"`
		Text       string   `json:"text"`
		AvgLogprob *float64 `json:"avg_logprob"`
	} `json:"segments"`
	Words []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

// Transcribe uploads one audio file and requests word and segment timestamps.
func (c *WhisperClient) Transcribe(ctx context.Context, req ChunkRequest) (*Result, error) {
	var parsed verboseResponse

	op := func() error {
		body, contentType, err := c.buildBody(req)
		if err != nil {
			return backoff.Permanent(err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
		httpReq.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("API request failed: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			serr := &StatusError{Code: resp.StatusCode, Body: string(raw)}
			if !Retryable(serr) {
				return backoff.Permanent(serr)
			}
			return serr
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("json decode error: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.config.MaxRetry
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	return toResult(parsed), nil
}

func (c *WhisperClient) buildBody(req ChunkRequest) (io.Reader, string, error) {
	file, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open audio: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("failed to copy file data: %w", err)
	}

	writer.WriteField("model", c.config.Model)
	writer.WriteField("response_format", "verbose_json")
	writer.WriteField("timestamp_granularities[]", "word")
	writer.WriteField("timestamp_granularities[]", "segment")
	if lang := strings.TrimSpace(req.Language); lang != "" && !strings.EqualFold(lang, "auto") {
		writer.WriteField("language", lang)
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

// toResult maps the verbose response; words are reported at the top level
// and attached to the segment whose range contains their start.
func toResult(resp verboseResponse) *Result {
	out := &Result{Language: resp.Language, Text: strings.TrimSpace(resp.Text)}
	out.Segments = make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		seg := Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)}
		if s.AvgLogprob != nil {
			seg.Confidence = clamp01(math.Exp(*s.AvgLogprob))
			seg.HasConfidence = true
		}
		out.Segments = append(out.Segments, seg)
	}

	j := 0
	for _, w := range resp.Words {
		for j < len(out.Segments)-1 && w.Start >= out.Segments[j].End {
			j++
		}
		if len(out.Segments) == 0 {
			break
		}
		out.Segments[j].Words = append(out.Segments[j].Words, Word{
			Start: w.Start,
			End:   w.End,
			Text:  strings.TrimSpace(w.Word),
		})
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
