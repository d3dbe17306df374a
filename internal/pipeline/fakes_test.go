package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/podscribe-backend/internal/platform/qdrant"
)

// fakeAI embeds each text as {len(text), call#} and answers GenerateJSON with
// a canned object.
type fakeAI struct {
	mu        sync.Mutex
	calls     [][]string
	embedErr  error
	json      map[string]any
	jsonErr   error
	jsonCalls int
}

func (f *fakeAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{}, texts...))
	f.mu.Unlock()
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

func (f *fakeAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	f.mu.Lock()
	f.jsonCalls++
	f.mu.Unlock()
	if f.jsonErr != nil {
		return nil, f.jsonErr
	}
	return f.json, nil
}

func (f *fakeAI) embeddedTexts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += len(c)
	}
	return n
}

type fakeStore struct {
	mu       sync.Mutex
	points   map[uuid.UUID][]qdrant.Point
	deletes  int
	failures int
}

func newFakeStore() *fakeStore { return &fakeStore{points: map[uuid.UUID][]qdrant.Point{}} }

func (s *fakeStore) EnsureCollection(ctx context.Context) error { return nil }

func (s *fakeStore) Upsert(ctx context.Context, points []qdrant.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return &qdrant.OperationError{Code: qdrant.OperationErrorRequestFailed, Operation: "upsert", StatusCode: 503, Message: "unavailable"}
	}
	for _, p := range points {
		ep, _ := uuid.Parse(p.Payload["episode_id"].(string))
		s.points[ep] = append(s.points[ep], p)
	}
	return nil
}

func (s *fakeStore) DeleteByEpisode(ctx context.Context, episodeID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	delete(s.points, episodeID)
	return nil
}

func (s *fakeStore) CountByEpisode(ctx context.Context, episodeID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points[episodeID]), nil
}

var errBoom = errors.New("boom")
