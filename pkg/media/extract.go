package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"hearing-processor/pkg/models"
)

// AudioAsset is the normalized mono 16kHz PCM16 WAV produced by extraction.
type AudioAsset struct {
	Path            string  `json:"path"`
	SizeBytes       int64   `json:"sizeBytes"`
	DurationSeconds float64 `json:"durationSeconds"`
	SampleRate      int     `json:"sampleRate"`
	Info            WAVInfo `json:"-"`
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Extractor turns a media reference into a normalized audio asset.
type Extractor struct {
	ffmpegPath   string
	sampleRate   int
	fetchTimeout time.Duration
	runner       commandRunner
	httpClient   *http.Client
}

func NewExtractor(ffmpegPath string, sampleRate int, fetchTimeout time.Duration) *Extractor {
	if fetchTimeout <= 0 {
		fetchTimeout = 2 * time.Minute
	}
	return &Extractor{
		ffmpegPath:   ffmpegPath,
		sampleRate:   sampleRate,
		fetchTimeout: fetchTimeout,
		runner:       &execRunner{},
		httpClient:   &http.Client{Timeout: fetchTimeout},
	}
}

// Extract fetches remote media when needed and converts it with ffmpeg.
// Every failure is reported as *models.MediaDecodeError.
func (e *Extractor) Extract(ctx context.Context, source, workDir string) (*AudioAsset, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, &models.MediaDecodeError{Source: source, Message: "media reference is required"}
	}

	input := source
	if isRemote(source) {
		local, err := e.fetch(ctx, source, workDir)
		if err != nil {
			return nil, &models.MediaDecodeError{Source: source, Message: "failed to fetch remote media", Err: err}
		}
		input = local
	} else if _, err := os.Stat(source); err != nil {
		return nil, &models.MediaDecodeError{Source: source, Message: "cannot access input media", Err: err}
	}

	outPath := filepath.Join(workDir, "normalized-16k-mono.wav")
	args := buildFFmpegArgs(input, outPath, e.sampleRate)
	res, err := e.runner.Run(ctx, e.ffmpegPath, args...)
	if err != nil {
		return nil, &models.MediaDecodeError{
			Source:  source,
			Message: fmt.Sprintf("ffmpeg audio conversion failed (exit=%d): %s", res.ExitCode, lastLine(res.Stderr)),
			Err:     err,
		}
	}

	st, err := os.Stat(outPath)
	if err != nil {
		return nil, &models.MediaDecodeError{Source: source, Message: "ffmpeg completed but output file is missing", Err: err}
	}
	info, err := ReadWAVInfo(outPath)
	if err != nil {
		return nil, &models.MediaDecodeError{Source: source, Message: "normalized audio is not valid PCM WAV", Err: err}
	}

	return &AudioAsset{
		Path:            outPath,
		SizeBytes:       st.Size(),
		DurationSeconds: info.Duration(),
		SampleRate:      int(info.SampleRate),
		Info:            info,
	}, nil
}

func (e *Extractor) fetch(ctx context.Context, source, workDir string) (string, error) {
	dest := filepath.Join(workDir, "input"+remoteExt(source))

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := e.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("media server error: %s", resp.Status)
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("media download failed: %s", resp.Status))
		}

		f, err := os.Create(dest)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := io.Copy(f, resp.Body); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = e.fetchTimeout
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	return dest, nil
}

func isRemote(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func remoteExt(source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}

// buildFFmpegArgs builds preprocessing CLI args for mono PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string, sampleRate int) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
