package localmedia

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

// fakeYtDlp writes a script that creates the mp3 named by the --output
// template, or fails when the url contains "broken".
func fakeYtDlp(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake needs a POSIX shell")
	}
	dir := t.TempDir()
	script := `#!/bin/sh
out=""
url=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output) out="$2"; shift 2 ;;
    *) url="$1"; shift ;;
  esac
done
case "$url" in
  *broken*) echo "ERROR: video unavailable" >&2; exit 1 ;;
esac
target=$(echo "$out" | sed 's/%(ext)s/mp3/')
printf 'ID3' > "$target"
`
	path := filepath.Join(dir, "yt-dlp")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake yt-dlp: %v", err)
	}
	return path
}

func TestDownloadAudioWritesMP3(t *testing.T) {
	audioDir := filepath.Join(t.TempDir(), "audio")
	m := New(logger.Nop(), Options{AudioDir: audioDir, YtDlpBin: fakeYtDlp(t)})

	path, err := m.DownloadAudio(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("DownloadAudio: %v", err)
	}
	if path != filepath.Join(audioDir, "abc123.mp3") {
		t.Fatalf("path: got=%q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := m.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := m.Remove(path); err != nil {
		t.Fatalf("second Remove should be a no-op: %v", err)
	}
}

func TestDownloadAudioReportsCLIFailure(t *testing.T) {
	m := New(logger.Nop(), Options{AudioDir: t.TempDir(), YtDlpBin: fakeYtDlp(t)})
	_, err := m.DownloadAudio(context.Background(), "broken")
	if err == nil || !strings.Contains(err.Error(), "video unavailable") {
		t.Fatalf("expected CLI failure, got %v", err)
	}
}

func TestDownloadAudioRejectsPathLikeIDs(t *testing.T) {
	m := New(logger.Nop(), Options{AudioDir: t.TempDir(), YtDlpBin: "yt-dlp"})
	if _, err := m.DownloadAudio(context.Background(), "../etc"); err == nil {
		t.Fatalf("expected invalid id error")
	}
	if _, err := m.DownloadAudio(context.Background(), " "); err == nil {
		t.Fatalf("expected required id error")
	}
}

func TestStaleAudioFiltersByAgeAndExtension(t *testing.T) {
	dir := t.TempDir()
	m := New(logger.Nop(), Options{AudioDir: dir})
	old := time.Now().Add(-48 * time.Hour)
	write := func(name string, mod time.Time) {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := os.Chtimes(p, mod, mod); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	write("old.mp3", old)
	write("new.mp3", time.Now())
	write("old.json", old)

	stale, err := m.StaleAudio(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("StaleAudio: %v", err)
	}
	if len(stale) != 1 || filepath.Base(stale[0]) != "old.mp3" {
		t.Fatalf("stale: %v", stale)
	}
}

func TestStaleAudioMissingDir(t *testing.T) {
	m := New(logger.Nop(), Options{AudioDir: filepath.Join(t.TempDir(), "missing")})
	stale, err := m.StaleAudio(time.Now())
	if err != nil || len(stale) != 0 {
		t.Fatalf("expected empty result, got %v %v", stale, err)
	}
}
