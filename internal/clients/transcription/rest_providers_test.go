package transcription

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/podscribe-backend/internal/pkg/httpx"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ep1.mp3")
	require.NoError(t, os.WriteFile(p, []byte("ID3fakeaudio"), 0o644))
	return p
}

func TestAssemblyAIUploadSubmitPoll(t *testing.T) {
	var polls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v2/upload":
			body, _ := io.ReadAll(r.Body)
			require.Equal(t, "ID3fakeaudio", string(body))
			_, _ = w.Write([]byte(`{"upload_url":"https://cdn.example/u1"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v2/transcript":
			var req aaiTranscriptRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "https://cdn.example/u1", req.AudioURL)
			require.True(t, req.SpeakerLabels)
			require.Equal(t, 3, req.SpeakersExpected)
			_, _ = w.Write([]byte(`{"id":"tr_1","status":"queued"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v2/transcript/tr_1":
			polls++
			if polls < 2 {
				_, _ = w.Write([]byte(`{"id":"tr_1","status":"processing"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"tr_1","status":"completed","text":"hi there","audio_duration":7200,
				"utterances":[{"speaker":"A","text":"hi","start":0,"end":900,"confidence":0.9},
				{"speaker":"B","text":"there","start":900,"end":1500}]}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := Config{AssemblyAIMaxConcurrent: 32}
	caps, _ := cfg.Capabilities(ProviderAssemblyAI)
	p := NewAssemblyAI("secret", srv.URL, caps, nil)

	res, err := Transcribe(context.Background(), p, AudioSource{LocalPath: writeAudio(t)}, 3, "en", fastWait())
	require.NoError(t, err)
	require.Equal(t, "tr_1", res.ProviderJobID)
	require.Len(t, res.Utterances, 2)
	require.Equal(t, "B", res.Utterances[1].Speaker)
	require.Equal(t, 7200_000, res.DurationMs)
	require.NotNil(t, res.CostCents)
	require.Equal(t, 74, *res.CostCents)
}

func TestAssemblyAIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"tr_2","status":"error","error":"audio too short"}`))
	}))
	defer srv.Close()
	p := NewAssemblyAI("k", srv.URL, Capabilities{}, nil)
	res, err := p.Poll(context.Background(), "tr_2")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, "audio too short", res.ErrorMessage)
}

func TestDeepgramSynchronousListen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/listen", r.URL.Path)
		require.Equal(t, "Token dg", r.Header.Get("Authorization"))
		require.Equal(t, "audio/mpeg", r.Header.Get("Content-Type"))
		q := r.URL.Query()
		require.Equal(t, "nova-2", q.Get("model"))
		require.Equal(t, "true", q.Get("diarize"))
		require.Equal(t, "true", q.Get("utterances"))
		_, _ = w.Write([]byte(`{"metadata":{"duration":3600.5},
			"results":{"channels":[{"alternatives":[{"transcript":"hello world"}]}],
			"utterances":[{"speaker":0,"transcript":"hello","start":0.0,"end":1.25},
			{"speaker":1,"transcript":"world","start":1.25,"end":2.5,"confidence":0.8}]}}`))
	}))
	defer srv.Close()

	p := NewDeepgram("dg", srv.URL, Capabilities{Name: ProviderDeepgram, CostPerHourCents: 26}, nil)
	id, err := p.Submit(context.Background(), AudioSource{LocalPath: writeAudio(t)}, 2, "en")
	require.NoError(t, err)
	res, err := p.Poll(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, "hello world", res.FullText)
	require.Equal(t, []string{"A", "B"}, []string{res.Utterances[0].Speaker, res.Utterances[1].Speaker})
	require.Equal(t, 1250, res.Utterances[0].EndMs)
	require.Equal(t, 26, *res.CostCents)

	_, err = p.Poll(context.Background(), id)
	require.Error(t, err, "results are handed out once")
}

func TestDeepgramNoChannelsFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":{"channels":[]}}`))
	}))
	defer srv.Close()
	p := NewDeepgram("dg", srv.URL, Capabilities{}, nil)
	_, err := Transcribe(context.Background(), p, AudioSource{LocalPath: writeAudio(t)}, 2, "en", fastWait())
	require.Error(t, err)
	require.Contains(t, err.Error(), "No channels in Deepgram response")
}

func TestRestClientRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if calls == 2 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("bad key"))
			return
		}
	}))
	defer srv.Close()

	p := NewAssemblyAI("k", srv.URL, Capabilities{}, nil).(*assemblyAI)
	p.rest.retry.Initial = time.Millisecond
	p.rest.retry.Max = 2 * time.Millisecond

	_, err := p.Poll(context.Background(), "x")
	var se *httpx.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusUnauthorized, se.StatusCode)
	require.Equal(t, 2, calls, "502 retried once, 401 not retried")
}
