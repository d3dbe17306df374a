package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/podscribe-backend/internal/domain"
	"github.com/yungbote/podscribe-backend/internal/platform/envutil"
	"github.com/yungbote/podscribe-backend/internal/services"
)

const defaultAPIURL = "http://localhost:8080"

// APIError is a non-2xx answer from the server, decoded from its error
// envelope when one is present.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

type APIClient struct {
	base string
	hc   *http.Client
}

func NewAPIClient(base string, hc *http.Client) *APIClient {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = defaultAPIURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &APIClient{base: base, hc: hc}
}

func apiClientFromEnv() *APIClient {
	return NewAPIClient(envutil.String("PODSCRIBE_API_URL", defaultAPIURL), nil)
}

type JobQuery struct {
	BatchID *uuid.UUID
	Status  string
	Limit   int
}

type jobList struct {
	Jobs  []types.Job `json:"jobs"`
	Total int64       `json:"total"`
}

func (c *APIClient) ListJobs(ctx context.Context, q JobQuery) ([]types.Job, int64, error) {
	v := url.Values{}
	if q.BatchID != nil {
		v.Set("batch_id", q.BatchID.String())
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Limit > 0 {
		v.Set("page_size", strconv.Itoa(q.Limit))
	}
	var out jobList
	if err := c.do(ctx, http.MethodGet, "/api/jobs", v, &out); err != nil {
		return nil, 0, err
	}
	return out.Jobs, out.Total, nil
}

func (c *APIClient) GetBatch(ctx context.Context, id uuid.UUID) (*services.BatchDetail, error) {
	var out struct {
		Batch *services.BatchDetail `json:"batch"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/batches/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	if out.Batch == nil || out.Batch.BatchView.Batch == nil {
		return nil, fmt.Errorf("batch %s: empty response", id)
	}
	return out.Batch, nil
}

// BatchAction posts one of the lifecycle verbs and returns the decoded body.
func (c *APIClient) BatchAction(ctx context.Context, id uuid.UUID, action string) (map[string]any, error) {
	out := map[string]any{}
	if err := c.do(ctx, http.MethodPost, "/api/batches/"+id.String()+"/"+action, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var env struct {
			Error struct {
				Message string `json:"message"`
				Code    string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}
