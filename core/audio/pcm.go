package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"hibikido/logger"
)

// Fetcher pulls an audio file from remote storage into a local path. A nil
// Fetcher means local-only operation.
type Fetcher interface {
	Fetch(ctx context.Context, remotePath, localPath string) error
}

// PCMSource decodes audio files into mono float64 PCM at a fixed analysis
// sample rate, using ffmpeg as the decoder so any container or codec ffmpeg
// understands is accepted.
type PCMSource struct {
	audioDir   string
	ffmpegPath string
	sampleRate int
	fetcher    Fetcher
}

// NewPCMSource creates a PCM source rooted at audioDir. ffmpegPath may be
// empty to use the binary from PATH.
func NewPCMSource(audioDir, ffmpegPath string, sampleRate int, fetcher Fetcher) *PCMSource {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &PCMSource{
		audioDir:   audioDir,
		ffmpegPath: ffmpegPath,
		sampleRate: sampleRate,
		fetcher:    fetcher,
	}
}

// SampleRate returns the analysis sample rate all loads are resampled to.
func (p *PCMSource) SampleRate() int { return p.sampleRate }

// Resolve turns a stored relative path into the local absolute path,
// fetching from remote storage when the file is absent and a fetcher is
// configured.
func (p *PCMSource) Resolve(ctx context.Context, relPath string) (string, error) {
	local := relPath
	if !filepath.IsAbs(local) {
		local = filepath.Join(p.audioDir, relPath)
	}
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	if p.fetcher == nil {
		return "", fmt.Errorf("audio file not found: %s", local)
	}
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	logger.Info("fetching audio from remote storage", logger.String("path", relPath))
	if err := p.fetcher.Fetch(ctx, relPath, local); err != nil {
		return "", fmt.Errorf("fetch %s: %w", relPath, err)
	}
	return local, nil
}

// Load decodes the whole file into mono PCM at the analysis sample rate.
func (p *PCMSource) Load(ctx context.Context, relPath string) ([]float64, error) {
	local, err := p.Resolve(ctx, relPath)
	if err != nil {
		return nil, err
	}
	return p.decode(ctx, local)
}

// LoadRange decodes the file and returns the slice between the normalized
// start and end positions. start must lie in [0, 1) and end in (start, 1].
func (p *PCMSource) LoadRange(ctx context.Context, relPath string, start, end float64) ([]float64, error) {
	if err := ValidateRange(start, end); err != nil {
		return nil, err
	}
	signal, err := p.Load(ctx, relPath)
	if err != nil {
		return nil, err
	}
	return SliceRange(signal, start, end), nil
}

// ValidateRange checks a normalized segment boundary pair.
func ValidateRange(start, end float64) error {
	if math.IsNaN(start) || math.IsNaN(end) {
		return fmt.Errorf("segment range not a number: start=%v end=%v", start, end)
	}
	if start < 0 || start >= 1 {
		return fmt.Errorf("segment start %v outside [0, 1)", start)
	}
	if end <= start || end > 1 {
		return fmt.Errorf("segment end %v outside (%v, 1]", end, start)
	}
	return nil
}

// SliceRange cuts signal between the normalized start and end positions.
func SliceRange(signal []float64, start, end float64) []float64 {
	n := len(signal)
	lo := int(start * float64(n))
	hi := int(end * float64(n))
	if hi > n {
		hi = n
	}
	if lo >= hi {
		return nil
	}
	return signal[lo:hi]
}

// decode runs ffmpeg with raw f64le mono output on stdout and reads the
// whole stream into memory.
func (p *PCMSource) decode(ctx context.Context, path string) ([]float64, error) {
	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-f", "f64le",
		"-acodec", "pcm_f64le",
		"-ac", "1",
		"-ar", strconv.Itoa(p.sampleRate),
		"-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w: %s", path, err, stderr.String())
	}

	raw := stdout.Bytes()
	samples := make([]float64, len(raw)/8)
	for i := range samples {
		bits := binary.LittleEndian.Uint64(raw[i*8:])
		samples[i] = math.Float64frombits(bits)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("ffmpeg decode %s: empty output", path)
	}
	return samples, nil
}
