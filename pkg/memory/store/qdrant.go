package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jlwestsr/nebulus-gantry/pkg/memory/model"
)

// qdrantStatus supports both `status: "ok"` and `status: {"error":"..."}`.
type qdrantStatus struct {
	State string
	Error string
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Time   float64      `json:"time"`
	Result T            `json:"result"`
}

type qdrantPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
	Vector  []float32       `json:"vector"`
}

type qdrantScroll struct {
	Points []qdrantPoint   `json:"points"`
	Offset json.RawMessage `json:"next_page_offset"`
}

type qdrantCount struct {
	Count int `json:"count"`
}

// QdrantSemanticStore implements SemanticStore against Qdrant's HTTP API.
// Fragments live as points whose payload carries the fragment fields; every
// request filters on the owner_id payload key.
type QdrantSemanticStore struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

var _ SemanticStore = (*QdrantSemanticStore)(nil)

// NewQdrantSemanticStore creates a Qdrant-backed semantic store.
func NewQdrantSemanticStore(baseURL, collection, apiKey string) *QdrantSemanticStore {
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	return &QdrantSemanticStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func ownerFilter(ownerID string, extra ...map[string]any) map[string]any {
	must := []map[string]any{{
		"key":   "owner_id",
		"match": map[string]any{"value": ownerID},
	}}
	must = append(must, extra...)
	return map[string]any{"must": must}
}

func (qs *QdrantSemanticStore) Write(ctx context.Context, frag model.MemoryFragment) (model.MemoryFragment, error) {
	if qs.collection == "" {
		return model.MemoryFragment{}, errors.New("qdrant collection is empty")
	}
	if frag.ID == "" {
		frag.ID = uuid.NewString()
	}
	if frag.CreatedAt.IsZero() {
		frag.CreatedAt = time.Now().UTC()
	}
	if frag.Kind == "" {
		frag.Kind = model.KindRaw
	}
	req := map[string]any{
		"points": []map[string]any{{
			"id":      frag.ID,
			"vector":  frag.Embedding,
			"payload": model.PayloadFromFragment(frag),
		}},
	}
	var resp qdrantEnvelope[json.RawMessage]
	if err := qs.do(ctx, http.MethodPut, qs.pointsPath(""), req, &resp); err != nil {
		return model.MemoryFragment{}, err
	}
	if !strings.EqualFold(resp.Status.State, "ok") && resp.Status.Error != "" {
		return model.MemoryFragment{}, errors.New(resp.Status.Error)
	}
	return frag, nil
}

func (qs *QdrantSemanticStore) Query(ctx context.Context, ownerID string, embedding []float32, topK int) ([]model.MemoryFragment, error) {
	if topK <= 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"vector":       embedding,
		"limit":        topK,
		"with_vector":  true,
		"with_payload": true,
		"filter":       ownerFilter(ownerID),
	}
	var resp qdrantEnvelope[[]qdrantPoint]
	if err := qs.do(ctx, http.MethodPost, qs.pointsPath("/search"), reqBody, &resp); err != nil {
		return nil, err
	}
	fragments := make([]model.MemoryFragment, 0, len(resp.Result))
	for _, point := range resp.Result {
		frag, err := model.FragmentFromPayload(point.Payload)
		if err != nil {
			// Unknown-shape payloads stop at the adapter boundary.
			continue
		}
		frag.ID = qdrantIDString(point.ID)
		if len(point.Vector) > 0 {
			frag.Embedding = point.Vector
		}
		frag.Score = model.CosineSimilarity(embedding, frag.Embedding)
		fragments = append(fragments, frag)
	}
	sort.SliceStable(fragments, func(i, j int) bool { return fragments[i].Score > fragments[j].Score })
	return fragments, nil
}

func (qs *QdrantSemanticStore) ListUnconsolidated(ctx context.Context, ownerID string, olderThan time.Time, limit int) ([]model.MemoryFragment, error) {
	filter := ownerFilter(ownerID, map[string]any{
		"key":   "kind",
		"match": map[string]any{"value": string(model.KindRaw)},
	})
	var fragments []model.MemoryFragment
	err := qs.scroll(ctx, filter, func(point qdrantPoint) bool {
		frag, err := model.FragmentFromPayload(point.Payload)
		if err != nil {
			return true
		}
		frag.ID = qdrantIDString(point.ID)
		if len(point.Vector) > 0 {
			frag.Embedding = point.Vector
		}
		if frag.CreatedAt.Before(olderThan) {
			fragments = append(fragments, frag)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(fragments, func(i, j int) bool { return fragments[i].CreatedAt.Before(fragments[j].CreatedAt) })
	if limit > 0 && len(fragments) > limit {
		fragments = fragments[:limit]
	}
	return fragments, nil
}

func (qs *QdrantSemanticStore) MarkConsolidated(ctx context.Context, ownerID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	// Addressing by filter instead of raw point IDs keeps the write owner
	// scoped at the adapter boundary.
	req := map[string]any{
		"payload": map[string]any{"kind": string(model.KindConsolidated)},
		"filter":  ownerFilter(ownerID, map[string]any{"has_id": ids}),
	}
	return qs.do(ctx, http.MethodPost, qs.pointsPath("/payload"), req, nil)
}

func (qs *QdrantSemanticStore) Owners(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	err := qs.scroll(ctx, nil, func(point qdrantPoint) bool {
		if owner := model.StringFromAny(point.Payload["owner_id"]); owner != "" {
			seen[owner] = struct{}{}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	owners := make([]string, 0, len(seen))
	for owner := range seen {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners, nil
}

func (qs *QdrantSemanticStore) Count(ctx context.Context, ownerID string) (int, error) {
	req := map[string]any{"exact": true, "filter": ownerFilter(ownerID)}
	var resp qdrantEnvelope[qdrantCount]
	if err := qs.do(ctx, http.MethodPost, qs.pointsPath("/count"), req, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (qs *QdrantSemanticStore) scroll(ctx context.Context, filter map[string]any, fn func(qdrantPoint) bool) error {
	var offset json.RawMessage
	prevOffset := ""
	const pageLimit = 128
	for {
		req := map[string]any{
			"limit":        pageLimit,
			"with_payload": true,
			"with_vector":  true,
		}
		if filter != nil {
			req["filter"] = filter
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp qdrantEnvelope[qdrantScroll]
		if err := qs.do(ctx, http.MethodPost, qs.pointsPath("/scroll"), req, &resp); err != nil {
			return err
		}
		for _, point := range resp.Result.Points {
			if !fn(point) {
				return nil
			}
		}
		raw := strings.TrimSpace(string(resp.Result.Offset))
		if len(resp.Result.Points) == 0 || raw == "" || strings.EqualFold(raw, "null") || raw == prevOffset {
			return nil
		}
		prevOffset = raw
		offset = resp.Result.Offset
	}
}

func (qs *QdrantSemanticStore) pointsPath(suffix string) string {
	return fmt.Sprintf("/collections/%s/points%s", url.PathEscape(qs.collection), suffix)
}

func (qs *QdrantSemanticStore) do(ctx context.Context, method, path string, body any, out any) error {
	u := qs.baseURL + path
	var buf io.ReadWriter = bytes.NewBuffer(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewBuffer(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if qs.apiKey != "" {
		req.Header.Set("api-key", qs.apiKey)
	}
	resp, err := qs.client.Do(req)
	if err != nil {
		return asUnavailable(err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: qdrant %s %s -> http %d", ErrStoreUnavailable, method, u, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("qdrant %s %s -> http %d: %s", method, u, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return err
		}
	}
	return nil
}

func qdrantIDString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
