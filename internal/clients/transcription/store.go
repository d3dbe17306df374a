package transcription

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// resultStore holds finished results of providers that transcribe
// synchronously inside Submit, so Poll can hand them back. Entries are
// dropped when read or after ttl.
type resultStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	results map[string]storedResult
}

type storedResult struct {
	res *TranscriptResult
	at  time.Time
}

func newResultStore(ttl time.Duration) *resultStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &resultStore{ttl: ttl, results: map[string]storedResult{}}
}

func (s *resultStore) put(res *TranscriptResult) string {
	if res.ProviderJobID == "" {
		res.ProviderJobID = uuid.NewString()
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.results {
		if now.Sub(r.at) > s.ttl {
			delete(s.results, id)
		}
	}
	s.results[res.ProviderJobID] = storedResult{res: res, at: now}
	return res.ProviderJobID
}

func (s *resultStore) take(id string) (*TranscriptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	if !ok {
		return nil, fmt.Errorf("unknown transcription job %q", id)
	}
	delete(s.results, id)
	return r.res, nil
}
