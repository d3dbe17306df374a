package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

const (
	maxErrorBodyBytes = 1024
	upsertBatchSize   = 100
)

// Payload fields indexed for filtering.
var indexedFields = []string{"channel_id", "episode_id", "speaker", "published_at"}

type Point struct {
	ID      uuid.UUID
	Vector  []float32
	Payload map[string]any
}

// Store is the chunk vector index.
type Store interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, points []Point) error
	DeleteByEpisode(ctx context.Context, episodeID uuid.UUID) error
	CountByEpisode(ctx context.Context, episodeID uuid.UUID) (int, error)
}

type vectorStore struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

func NewVectorStore(log *logger.Logger, cfg Config) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	s := &vectorStore{
		log:  log.With("service", "QdrantVectorStore"),
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
	s.log.Info("Qdrant vector store selected", "url", cfg.URL, "collection", cfg.Collection, "vector_dim", cfg.VectorDim)
	return s, nil
}

// EnsureCollection creates the cosine collection and its payload indexes
// when missing, and rejects an existing collection of another dimension.
func (s *vectorStore) EnsureCollection(ctx context.Context) error {
	const op = "ensure_collection"
	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &info)
	if err == nil {
		if size := info.Config.Params.Vectors.Size; size != 0 && size != s.cfg.VectorDim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("collection %q vector size mismatch: expected=%d actual=%d", s.cfg.Collection, s.cfg.VectorDim, size), nil)
		}
		return nil
	}
	var oe *OperationError
	if !errors.As(err, &oe) || oe.StatusCode != http.StatusNotFound {
		return err
	}

	s.log.Info("Creating Qdrant collection", "collection", s.cfg.Collection)
	create := map[string]any{
		"vectors": map[string]any{"size": s.cfg.VectorDim, "distance": "Cosine"},
	}
	if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), create, nil); err != nil {
		return err
	}
	for _, field := range indexedFields {
		idx := map[string]any{"field_name": field, "field_schema": "keyword"}
		if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/index?wait=true"), idx, nil); err != nil {
			return err
		}
	}
	return nil
}

// Upsert writes points in batches of 100.
func (s *vectorStore) Upsert(ctx context.Context, points []Point) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if p.ID == uuid.Nil {
			return opErr(op, OperationErrorValidation, "point id is required", nil)
		}
		if len(p.Vector) != s.cfg.VectorDim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("point %s dimension mismatch: expected=%d got=%d", p.ID, s.cfg.VectorDim, len(p.Vector)), nil)
		}
	}
	for start := 0; start < len(points); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		batch := make([]map[string]any, 0, end-start)
		for _, p := range points[start:end] {
			payload := p.Payload
			if payload == nil {
				payload = map[string]any{}
			}
			batch = append(batch, map[string]any{
				"id":      p.ID.String(),
				"vector":  p.Vector,
				"payload": payload,
			})
		}
		req := map[string]any{"points": batch}
		if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil); err != nil {
			return err
		}
	}
	s.log.Debug("Upserted vectors", "count", len(points))
	return nil
}

func (s *vectorStore) DeleteByEpisode(ctx context.Context, episodeID uuid.UUID) error {
	req := map[string]any{"filter": episodeFilter(episodeID)}
	return s.doJSON(ctx, "delete", http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil)
}

func (s *vectorStore) CountByEpisode(ctx context.Context, episodeID uuid.UUID) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	req := map[string]any{"filter": episodeFilter(episodeID), "exact": true}
	if err := s.doJSON(ctx, "count", http.MethodPost, s.collectionPath("/points/count"), req, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func episodeFilter(episodeID uuid.UUID) map[string]any {
	return map[string]any{
		"must": []any{
			map[string]any{"key": "episode_id", "match": map[string]any{"value": episodeID.String()}},
		},
	}
}

func (s *vectorStore) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.URL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorRequestFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{Code: OperationErrorRequestFailed, Operation: op, StatusCode: resp.StatusCode, Message: statusErr}
	}
	if out == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}
	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") || strings.EqualFold(statusString, "acknowledged") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}
	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil && strings.TrimSpace(statusObject.Error) != "" {
		return strings.TrimSpace(statusObject.Error)
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func (s *vectorStore) collectionPath(suffix string) string {
	return "/collections/" + s.cfg.Collection + suffix
}
