package media

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Chunk is one bounded window of the normalized audio.
type Chunk struct {
	Index           int     `json:"index"`
	Path            string  `json:"path"`
	StartOffset     float64 `json:"startOffset"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Chunker splits audio that exceeds the upstream upload limit.
type Chunker struct {
	thresholdBytes int64
	window         float64
}

func NewChunker(thresholdBytes int64, windowSeconds float64) *Chunker {
	if windowSeconds <= 0 {
		windowSeconds = 300
	}
	return &Chunker{thresholdBytes: thresholdBytes, window: windowSeconds}
}

// Split returns the asset itself as a single chunk when it is under the
// threshold, otherwise ceil(duration/window) WAV files in index order.
func (c *Chunker) Split(asset *AudioAsset, outDir string) ([]Chunk, error) {
	if asset.SizeBytes <= c.thresholdBytes {
		return []Chunk{{
			Index:           0,
			Path:            asset.Path,
			StartOffset:     0,
			DurationSeconds: asset.DurationSeconds,
		}}, nil
	}

	info := asset.Info
	if info.BlockAlign == 0 {
		var err error
		if info, err = ReadWAVInfo(asset.Path); err != nil {
			return nil, err
		}
	}

	duration := info.Duration()
	count := int(math.Ceil(duration / c.window))
	if count < 1 {
		count = 1
	}
	windowBytes := int64(c.window*float64(info.SampleRate)) * int64(info.BlockAlign)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	src, err := os.Open(asset.Path)
	if err != nil {
		return nil, fmt.Errorf("open audio for chunking: %w", err)
	}
	defer src.Close()

	chunks := make([]Chunk, 0, count)
	for i := 0; i < count; i++ {
		start := int64(i) * windowBytes
		size := windowBytes
		if remaining := info.DataSize - start; remaining < size {
			size = remaining
		}
		if size <= 0 {
			break
		}

		path := filepath.Join(outDir, fmt.Sprintf("chunk_%03d.wav", i))
		if err := writeChunk(path, src, info, info.DataOffset+start, size); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		chunks = append(chunks, Chunk{
			Index:           i,
			Path:            path,
			StartOffset:     float64(i) * c.window,
			DurationSeconds: float64(size) / float64(info.BytesPerSecond()),
		})
	}
	return chunks, nil
}

func writeChunk(path string, src io.ReaderAt, info WAVInfo, offset, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeWAVHeader(f, info, size); err != nil {
		f.Close()
		return err
	}
	if _, err := io.Copy(f, io.NewSectionReader(src, offset, size)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
