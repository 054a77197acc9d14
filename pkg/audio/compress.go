// Package audio gates recordings against the transcription provider's size
// ceiling, delegating the actual transcoding to an external ffmpeg binary.
package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"callqa-server/pkg/errors"
)

// CompressResult reports what the gate did with one asset
type CompressResult struct {
	Path         string `json:"path"`
	Compressed   bool   `json:"compressed"`
	OriginalSize int64  `json:"original_size"`
	FinalSize    int64  `json:"final_size"`
	OverCeiling  bool   `json:"over_ceiling"`
}

// CompressionGate decides whether an audio asset must be transcoded before it
// satisfies the transcription provider's size ceiling
type CompressionGate struct {
	logger     *logrus.Logger
	ffmpegPath string
	bitrateK   int
}

// NewCompressionGate creates a gate using the given ffmpeg binary
func NewCompressionGate(logger *logrus.Logger, ffmpegPath string, bitrateK int) *CompressionGate {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if bitrateK <= 0 {
		bitrateK = 64
	}

	return &CompressionGate{
		logger:     logger,
		ffmpegPath: ffmpegPath,
		bitrateK:   bitrateK,
	}
}

// Available checks whether the ffmpeg binary can be invoked
func (g *CompressionGate) Available() bool {
	cmd := exec.Command(g.ffmpegPath, "-version")
	return cmd.Run() == nil
}

// CompressIfNeeded transcodes the asset to MP3 when it exceeds the size
// ceiling, otherwise returns it untouched. A post-compression asset still
// over the ceiling is logged as a warning and returned anyway; downstream
// transcription is attempted best-effort.
func (g *CompressionGate) CompressIfNeeded(ctx context.Context, path string, sizeCeiling int64) (*CompressResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat audio asset", map[string]interface{}{"path": path})
	}

	result := &CompressResult{
		Path:         path,
		OriginalSize: info.Size(),
		FinalSize:    info.Size(),
	}

	if info.Size() <= sizeCeiling {
		g.logger.WithFields(logrus.Fields{
			"path":    path,
			"size":    info.Size(),
			"ceiling": sizeCeiling,
		}).Debug("Audio asset under size ceiling, no compression needed")
		return result, nil
	}

	outputPath := compressedPath(path)
	if err := g.transcode(ctx, path, outputPath); err != nil {
		return nil, err
	}

	compressed, err := os.Stat(outputPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat compressed asset", map[string]interface{}{"path": outputPath})
	}

	result.Path = outputPath
	result.Compressed = true
	result.FinalSize = compressed.Size()

	g.logger.WithFields(logrus.Fields{
		"input":         path,
		"output":        outputPath,
		"original_size": result.OriginalSize,
		"final_size":    result.FinalSize,
	}).Info("Audio asset compressed")

	// SizeLimitExceeded is advisory: warn and proceed best-effort
	if compressed.Size() > sizeCeiling {
		result.OverCeiling = true
		g.logger.WithError(errors.NewSizeLimitExceeded(outputPath, compressed.Size(), sizeCeiling)).
			Warn("Asset still over size ceiling after compression, proceeding")
	}

	return result, nil
}

// transcode shells out to ffmpeg for the actual conversion
func (g *CompressionGate) transcode(ctx context.Context, inputPath, outputPath string) error {
	args := []string{
		"-i", inputPath,
		"-y", // Overwrite output
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", g.bitrateK),
		"-ac", "1",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, g.ffmpegPath, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"error":  err,
			"output": string(output),
			"input":  inputPath,
		}).Error("FFmpeg transcode failed")
		return errors.Wrap(err, "ffmpeg transcode failed", map[string]interface{}{"input": inputPath})
	}

	return nil
}

// compressedPath derives the MP3 output path alongside the input
func compressedPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	base := strings.TrimSuffix(inputPath, ext)
	return base + "_compressed.mp3"
}
