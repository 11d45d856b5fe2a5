// Package memory provides the in-process repository implementation used by
// tests and single-node development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/google/uuid"

	"github.com/R3E-Network/entity_gateway/internal/registry"
	"github.com/R3E-Network/entity_gateway/internal/storage"
	"github.com/R3E-Network/entity_gateway/internal/tenant"
)

// Repository keeps every entity collection in a map guarded by one RWMutex.
// Transactions apply to a scratch copy that is swapped in on success, which
// makes the multi-op path all-or-nothing.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]storage.Record
}

var _ storage.Repository = (*Repository)(nil)
var _ storage.VectorSearcher = (*Repository)(nil)

// New creates an empty repository.
func New() *Repository {
	return &Repository{data: make(map[string]map[string]storage.Record)}
}

// Seed inserts a record directly, bypassing tenant assignment. Test helper.
func (r *Repository) Seed(collection string, rec storage.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data[collection] == nil {
		r.data[collection] = make(map[string]storage.Record)
	}
	id, _ := rec["id"].(string)
	if id == "" {
		id = uuid.NewString()
		rec["id"] = id
	}
	r.data[collection][id] = deepCopy(rec)
}

// Count returns the number of records in a collection. Test helper.
func (r *Repository) Count(collection string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data[collection])
}

func (r *Repository) List(_ context.Context, cfg registry.EntityConfig, filter storage.Filter, rctx *tenant.RequestCtx) ([]storage.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []storage.Record
	for _, rec := range r.data[cfg.Collection] {
		if !tenantVisible(cfg, rec, rctx) {
			continue
		}
		if !matchesFilter(rec, filter) {
			continue
		}
		out = append(out, deepCopy(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprint(out[i]["createdAt"]) < fmt.Sprint(out[j]["createdAt"])
	})
	if out == nil {
		out = []storage.Record{}
	}
	return out, nil
}

func (r *Repository) Get(_ context.Context, cfg registry.EntityConfig, id string, rctx *tenant.RequestCtx) (storage.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return getLocked(r.data, cfg, id, rctx)
}

func (r *Repository) Create(_ context.Context, cfg registry.EntityConfig, data storage.Record, rctx *tenant.RequestCtx) (storage.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return createLocked(r.data, cfg, data, rctx)
}

func (r *Repository) Update(_ context.Context, cfg registry.EntityConfig, id string, data storage.Record, rctx *tenant.RequestCtx) (storage.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return updateLocked(r.data, cfg, id, data, rctx)
}

func (r *Repository) Delete(_ context.Context, cfg registry.EntityConfig, id string, rctx *tenant.RequestCtx) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return deleteLocked(r.data, cfg, id, rctx)
}

func (r *Repository) Transact(_ context.Context, ops []storage.ResolvedOp, rctx *tenant.RequestCtx) ([]storage.OpResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	scratch := make(map[string]map[string]storage.Record, len(r.data))
	for coll, recs := range r.data {
		scratch[coll] = make(map[string]storage.Record, len(recs))
		for id, rec := range recs {
			scratch[coll][id] = deepCopy(rec)
		}
	}

	results := make([]storage.OpResult, 0, len(ops))
	for _, op := range ops {
		res := storage.OpResult{Op: op.Op, Entity: op.Config.Collection, ID: op.ID}
		switch op.Op {
		case storage.OpCreate:
			rec, err := createLocked(scratch, op.Config, op.Data, rctx)
			if err != nil {
				return nil, err
			}
			res.ID, _ = rec["id"].(string)
			res.Record = rec
		case storage.OpUpdate:
			rec, err := updateLocked(scratch, op.Config, op.ID, op.Data, rctx)
			if err != nil {
				return nil, err
			}
			res.Record = rec
		case storage.OpDelete:
			if err := deleteLocked(scratch, op.Config, op.ID, rctx); err != nil {
				return nil, err
			}
		default:
			return nil, &storage.DomainRuleError{Rule: "unsupported transaction op " + string(op.Op)}
		}
		results = append(results, res)
	}

	r.data = scratch
	return results, nil
}

func (r *Repository) SearchEmbedding(_ context.Context, cfg registry.EntityConfig, vector []float64, k int, filter storage.Filter, rctx *tenant.RequestCtx) ([]storage.Record, error) {
	if cfg.Vector == nil {
		return nil, &storage.DomainRuleError{Rule: "entity has no vector field"}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	type scored struct {
		rec   storage.Record
		score float64
	}
	var candidates []scored
	for _, rec := range r.data[cfg.Collection] {
		if !tenantVisible(cfg, rec, rctx) || !matchesFilter(rec, filter) {
			continue
		}
		candidate := toVector(rec[cfg.Vector.Field])
		if candidate == nil {
			continue
		}
		candidates = append(candidates, scored{rec: deepCopy(rec), score: cosine(vector, candidate)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]storage.Record, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.rec)
	}
	return out, nil
}

// --- shared helpers operating on a dataset map -----------------------------

func getLocked(data map[string]map[string]storage.Record, cfg registry.EntityConfig, id string, rctx *tenant.RequestCtx) (storage.Record, error) {
	rec, ok := data[cfg.Collection][id]
	if !ok || !tenantVisible(cfg, rec, rctx) {
		return nil, storage.ErrNotFound
	}
	return deepCopy(rec), nil
}

func createLocked(data map[string]map[string]storage.Record, cfg registry.EntityConfig, in storage.Record, rctx *tenant.RequestCtx) (storage.Record, error) {
	rec := deepCopy(in)
	id, _ := rec["id"].(string)
	if id == "" {
		id = uuid.NewString()
		rec["id"] = id
	}
	if cfg.TenantScoped() {
		rec[cfg.TenantField] = rctx.TenantID
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rec["createdAt"] = now
	rec["updatedAt"] = now

	if data[cfg.Collection] == nil {
		data[cfg.Collection] = make(map[string]storage.Record)
	}
	if _, exists := data[cfg.Collection][id]; exists {
		return nil, &storage.DomainRuleError{Rule: "duplicate primary key " + id}
	}
	data[cfg.Collection][id] = rec
	return deepCopy(rec), nil
}

func updateLocked(data map[string]map[string]storage.Record, cfg registry.EntityConfig, id string, patch storage.Record, rctx *tenant.RequestCtx) (storage.Record, error) {
	rec, ok := data[cfg.Collection][id]
	if !ok || !tenantVisible(cfg, rec, rctx) {
		return nil, storage.ErrNotFound
	}
	for k, v := range patch {
		rec[k] = v
	}
	if cfg.TenantScoped() {
		rec[cfg.TenantField] = rctx.TenantID
	}
	rec["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	data[cfg.Collection][id] = rec
	return deepCopy(rec), nil
}

func deleteLocked(data map[string]map[string]storage.Record, cfg registry.EntityConfig, id string, rctx *tenant.RequestCtx) error {
	rec, ok := data[cfg.Collection][id]
	if !ok || !tenantVisible(cfg, rec, rctx) {
		return storage.ErrNotFound
	}
	delete(data[cfg.Collection], id)
	return nil
}

func tenantVisible(cfg registry.EntityConfig, rec storage.Record, rctx *tenant.RequestCtx) bool {
	if !cfg.TenantScoped() {
		return true
	}
	owner, _ := rec[cfg.TenantField].(string)
	return owner == rctx.TenantID
}

// matchesFilter evaluates equality predicates. Dotted keys are resolved as
// JSONPath expressions into nested documents.
func matchesFilter(rec storage.Record, filter storage.Filter) bool {
	for key, want := range filter {
		var got interface{}
		if strings.Contains(key, ".") {
			v, err := jsonpath.Get("$."+key, map[string]interface{}(rec))
			if err != nil {
				return false
			}
			got = v
		} else {
			got = rec[key]
		}
		if got == nil || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

func deepCopy(rec storage.Record) storage.Record {
	raw, err := json.Marshal(rec)
	if err != nil {
		cp := make(storage.Record, len(rec))
		for k, v := range rec {
			cp[k] = v
		}
		return cp
	}
	var cp storage.Record
	if err := json.Unmarshal(raw, &cp); err != nil {
		return rec
	}
	return cp
}

func toVector(v interface{}) []float64 {
	switch vec := v.(type) {
	case []float64:
		return vec
	case []interface{}:
		out := make([]float64, 0, len(vec))
		for _, e := range vec {
			f, ok := e.(float64)
			if !ok {
				return nil
			}
			out = append(out, f)
		}
		return out
	default:
		return nil
	}
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
