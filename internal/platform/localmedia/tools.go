package localmedia

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/podscribe-backend/internal/pkg/ctxutil"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Tools wraps the yt-dlp binary and the local audio directory.
//
// REQUIRED BINARIES in worker runtime:
// - yt-dlp
// - ffmpeg (used by yt-dlp to extract mp3)
type Tools interface {
	AssertReady(ctx context.Context) error
	DownloadAudio(ctx context.Context, youtubeID string) (string, error)
	Remove(path string) error
	// StaleAudio lists *.mp3 files in the audio dir last modified before cutoff.
	StaleAudio(cutoff time.Time) ([]string, error)
	AudioDir() string
}

type Options struct {
	AudioDir string
	YtDlpBin string
	Timeout  time.Duration
}

type tools struct {
	log            *logger.Logger
	audioDir       string
	ytDlpPath      string
	defaultTimeout time.Duration
}

func New(log *logger.Logger, opts Options) Tools {
	if opts.AudioDir == "" {
		opts.AudioDir = "./data/audio"
	}
	if opts.YtDlpBin == "" {
		opts.YtDlpBin = "yt-dlp"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	return &tools{
		log:            log.With("service", "MediaTools"),
		audioDir:       opts.AudioDir,
		ytDlpPath:      opts.YtDlpBin,
		defaultTimeout: opts.Timeout,
	}
}

func (m *tools) AudioDir() string { return m.audioDir }

func (m *tools) AssertReady(ctx context.Context) error {
	if _, err := exec.LookPath(m.ytDlpPath); err != nil {
		return fmt.Errorf("missing required binary %q in PATH: %w", m.ytDlpPath, err)
	}
	if err := os.MkdirAll(m.audioDir, 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	return nil
}

// DownloadAudio fetches the episode's best audio stream and converts it to
// <audioDir>/<youtubeID>.mp3.
func (m *tools) DownloadAudio(ctx context.Context, youtubeID string) (string, error) {
	ctx = ctxutil.Default(ctx)
	youtubeID = strings.TrimSpace(youtubeID)
	if youtubeID == "" {
		return "", fmt.Errorf("youtubeID required")
	}
	if strings.ContainsAny(youtubeID, `/\`) {
		return "", fmt.Errorf("invalid youtubeID %q", youtubeID)
	}
	if err := os.MkdirAll(m.audioDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir audio dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	outPath := filepath.Join(m.audioDir, youtubeID+".mp3")
	url := "https://www.youtube.com/watch?v=" + youtubeID
	args := []string{
		"--format", "bestaudio[ext=m4a]/bestaudio/best",
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", "192K",
		"--output", filepath.Join(m.audioDir, youtubeID+".%(ext)s"),
		"--user-agent", userAgent,
		"--socket-timeout", "60",
		"--retries", "5",
		"--fragment-retries", "10",
		"--quiet",
		"--no-warnings",
		url,
	}

	m.log.Info("Downloading audio", "youtube_id", youtubeID)
	cmd := exec.CommandContext(ctx, m.ytDlpPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("yt-dlp download failed: %w; out=%s", err, strings.TrimSpace(string(out)))
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("audio file not found after download: %s", outPath)
	}
	m.log.Info("Downloaded audio", "youtube_id", youtubeID, "path", outPath)
	return outPath, nil
}

// Remove deletes a downloaded file; a missing file is not an error.
func (m *tools) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (m *tools) StaleAudio(cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(m.audioDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.ToLower(filepath.Ext(e.Name())) != ".mp3" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			out = append(out, filepath.Join(m.audioDir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
