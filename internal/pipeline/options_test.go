package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/podscribe-backend/internal/domain"
)

func TestDecodeRunOptions(t *testing.T) {
	opts, err := DecodeRunOptions(nil)
	if err != nil {
		t.Fatalf("DecodeRunOptions(nil): %v", err)
	}
	if opts.SpeakersExpected != 2 || opts.Language != "en" {
		t.Fatalf("defaults = %+v", opts)
	}

	opts, err = DecodeRunOptions(datatypes.JSON(`{"speakers_expected":"3","language":" de ","speakers":["Ann","Ben"],"extra":true}`))
	if err != nil {
		t.Fatalf("DecodeRunOptions: %v", err)
	}
	if opts.SpeakersExpected != 3 || opts.Language != "de" || len(opts.Speakers) != 2 {
		t.Fatalf("decoded = %+v", opts)
	}

	if _, err := DecodeRunOptions(datatypes.JSON(`[1,2]`)); err == nil {
		t.Fatalf("expected error for non-object config")
	}
}

func TestBackupWriterWritesIndentedJSON(t *testing.T) {
	dir := t.TempDir()
	w := NewBackupWriter(dir)
	w.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	ep := &types.Episode{ID: uuid.New(), YoutubeID: "abc123", Title: "Pilot"}

	path, err := w.Write(ep, "deepgram", []LabeledUtterance{{Speaker: "Alice", Text: "hi"}}, json.RawMessage(`{"ok":true}`))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if path != filepath.Join(dir, "abc123.json") {
		t.Fatalf("path = %s", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["processed_at"] != "2024-01-02T03:04:05Z" || got["provider"] != "deepgram" {
		t.Fatalf("unexpected backup: %v", got)
	}
	if raw[1] != '\n' || raw[2] != ' ' || raw[3] != ' ' {
		t.Fatalf("expected two-space indentation")
	}
}
