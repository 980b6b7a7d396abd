package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WAVInfo describes the PCM layout of a WAV file and where its samples live.
type WAVInfo struct {
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
	BlockAlign    uint16
	DataOffset    int64
	DataSize      int64
}

// BytesPerSecond of the PCM stream.
func (w WAVInfo) BytesPerSecond() int64 {
	return int64(w.SampleRate) * int64(w.BlockAlign)
}

// Duration in seconds.
func (w WAVInfo) Duration() float64 {
	bps := w.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return float64(w.DataSize) / float64(bps)
}

type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// ReadWAVInfo walks the RIFF chunk list; ffmpeg usually emits a LIST chunk
// between "fmt " and "data", so fixed 44 byte offsets cannot be assumed.
func ReadWAVInfo(path string) (WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return WAVInfo{}, fmt.Errorf("stat wav: %w", err)
	}
	return parseWAV(f, st.Size())
}

func parseWAV(r io.ReadSeeker, fileSize int64) (WAVInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVInfo{}, fmt.Errorf("invalid WAV file: short header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" {
		return WAVInfo{}, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(riff[8:12]) != "WAVE" {
		return WAVInfo{}, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		info    WAVInfo
		haveFmt bool
		offset  int64 = 12
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return WAVInfo{}, fmt.Errorf("invalid WAV file: missing data chunk")
		}
		offset += 8
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			var fc fmtChunk
			if err := binary.Read(io.LimitReader(r, size), binary.LittleEndian, &fc); err != nil {
				return WAVInfo{}, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if fc.AudioFormat != 1 {
				return WAVInfo{}, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", fc.AudioFormat)
			}
			info.SampleRate = fc.SampleRate
			info.Channels = fc.NumChannels
			info.BitsPerSample = fc.BitsPerSample
			info.BlockAlign = fc.BlockAlign
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVInfo{}, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			info.DataOffset = offset
			info.DataSize = size
			if remaining := fileSize - offset; size > remaining {
				info.DataSize = remaining
			}
			return info, nil
		}

		next := offset + size + size%2
		if _, err := r.Seek(next, io.SeekStart); err != nil {
			return WAVInfo{}, fmt.Errorf("seek wav: %w", err)
		}
		offset = next
	}
}

// wavHeader is the canonical 44 byte PCM header.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

func writeWAVHeader(w io.Writer, info WAVInfo, dataSize int64) error {
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   info.Channels,
		SampleRate:    info.SampleRate,
		ByteRate:      uint32(info.BytesPerSecond()),
		BlockAlign:    info.BlockAlign,
		BitsPerSample: info.BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}
	return binary.Write(w, binary.LittleEndian, header)
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	info := WAVInfo{SampleRate: uint32(sampleRate), Channels: 1, BitsPerSample: 16, BlockAlign: 2}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	if err := writeWAVHeader(buf, info, int64(len(samples)*2)); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	return buf.Bytes(), nil
}
