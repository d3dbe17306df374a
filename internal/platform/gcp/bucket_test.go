package gcp

import "testing"

func TestAudioKeyAndURI(t *testing.T) {
	key := AudioKey("dQw4w9WgXcQ", "/data/audio/dQw4w9WgXcQ.MP3")
	if key != "audio/dQw4w9WgXcQ.mp3" {
		t.Fatalf("unexpected key %q", key)
	}
	if got := AudioKey("abc", "/tmp/abc"); got != "audio/abc.mp3" {
		t.Fatalf("default extension: %q", got)
	}
	if got := ObjectURI("pods", "/"+key); got != "gs://pods/audio/dQw4w9WgXcQ.mp3" {
		t.Fatalf("unexpected uri %q", got)
	}
}

func TestAudioContentType(t *testing.T) {
	cases := map[string]string{
		"a.mp3":  "audio/mpeg",
		"a.FLAC": "audio/flac",
		"a.opus": "audio/ogg",
		"a.bin":  "application/octet-stream",
	}
	for key, want := range cases {
		if got := AudioContentType(key); got != want {
			t.Fatalf("AudioContentType(%q)=%q want %q", key, got, want)
		}
	}
}

func TestClientOptionsFromEnv(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS_JSON", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	if opts := ClientOptionsFromEnv(); len(opts) != 0 {
		t.Fatalf("expected no options, got %d", len(opts))
	}
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS_JSON", `{"type":"service_account"}`)
	if opts := ClientOptionsFromEnv(); len(opts) != 1 {
		t.Fatalf("expected inline credentials option")
	}
}
