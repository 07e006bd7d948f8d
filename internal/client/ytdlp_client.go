package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// FetchProgress is one best-effort progress event from the download tool.
// Events may arrive out of strict order.
type FetchProgress struct {
	DownloadedBytes int64
	TotalBytes      int64
}

// FetchOutput describes the transcoded audio file produced on local disk.
type FetchOutput struct {
	Title string
	Path  string
}

// MediaFetcher defines the interface for the external download/transcode
// capability.
type MediaFetcher interface {
	Fetch(ctx context.Context, url, destDir string, onProgress func(FetchProgress)) (*FetchOutput, error)
}

// YtdlpClient implements MediaFetcher on top of the yt-dlp binary: single
// best audio stream, converted to a fixed codec and bitrate.
type YtdlpClient struct {
	audioFormat  string
	audioQuality string
}

// NewYtdlpClient creates a fetcher producing audioFormat files (e.g. "mp3")
// at audioQuality (e.g. "192K").
func NewYtdlpClient(audioFormat, audioQuality string) *YtdlpClient {
	return &YtdlpClient{
		audioFormat:  audioFormat,
		audioQuality: audioQuality,
	}
}

// Fetch downloads url into destDir and transcodes it to audio, reporting
// raw byte progress through onProgress.
func (c *YtdlpClient) Fetch(ctx context.Context, url, destDir string, onProgress func(FetchProgress)) (*FetchOutput, error) {
	dl := ytdlp.New().
		Format("bestaudio/best").
		ExtractAudio().
		AudioFormat(c.audioFormat).
		AudioQuality(c.audioQuality).
		NoPlaylist().
		Output(filepath.Join(destDir, "%(title)s.%(ext)s"))

	if onProgress != nil {
		dl.ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
			onProgress(FetchProgress{
				DownloadedBytes: int64(update.DownloadedBytes),
				TotalBytes:      int64(update.TotalBytes),
			})
		})
	}

	result, err := dl.Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}

	title := ""
	if infos, err := result.GetExtractedInfo(); err == nil && len(infos) > 0 {
		if infos[0].Title != nil {
			title = *infos[0].Title
		}
	}

	path, err := c.findOutput(destDir, title)
	if err != nil {
		return nil, err
	}
	if title == "" {
		base := filepath.Base(path)
		title = base[:len(base)-len(filepath.Ext(base))]
	}

	return &FetchOutput{Title: title, Path: path}, nil
}

// findOutput locates the transcoded file. The post-processor renames the
// download to the audio extension, so the extracted-info filename cannot be
// trusted; prefer <title>.<format> and fall back to scanning the directory.
func (c *YtdlpClient) findOutput(destDir, title string) (string, error) {
	if title != "" {
		path := filepath.Join(destDir, title+"."+c.audioFormat)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	matches, err := filepath.Glob(filepath.Join(destDir, "*."+c.audioFormat))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("no %s output found in %s", c.audioFormat, destDir)
	}
	return matches[0], nil
}
