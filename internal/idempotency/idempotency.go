// Package idempotency implements the durable idempotency-key guard for
// mutating requests: deterministic request hashing, replay detection and
// conflict rejection.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/R3E-Network/entity_gateway/internal/errors"
)

// HeaderKey is the header carrying the client-supplied idempotency key.
const HeaderKey = "idempotency-key"

// HeaderReplay marks a response served from a stored record.
const HeaderReplay = "x-idempotent-replay"

// Record is the durable state held per idempotency key. RequestHash is
// append-only-immutable after first write; Status and Response capture the
// original successful execution. Status zero means the hash was recorded but
// the execution never completed, so an empty-bodied success (a delete's 204)
// stays distinguishable from a dead first attempt.
type Record struct {
	RequestHash string
	Status      int
	Response    []byte
}

// Store is the durable key → record mapping. Save must be first-writer-wins
// on the key: of two concurrent writers, exactly one observes "no prior
// hash". Records are never deleted here; retention is a collaborator
// concern.
type Store interface {
	// Find returns the record for key, or nil when the key is unknown.
	Find(ctx context.Context, key string) (*Record, error)
	// GetRequestHash returns the stored hash for key, or "" when unknown.
	GetRequestHash(ctx context.Context, key string) (string, error)
	// Save persists (key, hash, status, response) after a successful
	// execution. Saving a different hash under an existing key fails with an
	// idempotency conflict.
	Save(ctx context.Context, key, hash string, status int, response []byte) error
}

// ComputeHash produces a deterministic digest over the logical request.
// Bodies and query strings are canonicalized first, so transport-level
// differences (key order, whitespace) do not change the digest.
func ComputeHash(method, route, tenantID string, body []byte, query url.Values) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(route))
	h.Write([]byte{0})
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write(canonicalBody(body))
	h.Write([]byte{0})
	h.Write([]byte(canonicalQuery(query)))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalBody re-encodes JSON bodies so that object key order and
// incidental whitespace do not affect the digest. Non-JSON bodies are hashed
// as-is.
func canonicalBody(body []byte) []byte {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return []byte(trimmed)
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return []byte(trimmed)
	}
	return canonical
}

func canonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
			b.WriteByte('&')
		}
	}
	return b.String()
}

// Check runs the pre-execution guard for a mutating request. It returns the
// stored record when the request is a replay (same hash, outcome already
// persisted), an idempotency conflict when the key was used with a different
// hash, and (nil, nil) when execution should proceed.
func Check(ctx context.Context, store Store, key, hash string) (*Record, error) {
	prior, err := store.GetRequestHash(ctx, key)
	if err != nil {
		return nil, errors.Internal("idempotency lookup failed", err)
	}
	if prior == "" {
		return nil, nil
	}
	if prior != hash {
		return nil, errors.IdempotencyConflict(key)
	}
	rec, err := store.Find(ctx, key)
	if err != nil {
		return nil, errors.Internal("idempotency lookup failed", err)
	}
	if rec == nil || rec.Status == 0 {
		// Hash recorded but no outcome yet: previous attempt died before
		// persisting. Execute normally.
		return nil, nil
	}
	return rec, nil
}

// MemoryStore is the in-process Store used by tests and single-node dev
// setups.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Find(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	cp.Response = append([]byte(nil), rec.Response...)
	return &cp, nil
}

func (s *MemoryStore) GetRequestHash(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok {
		return rec.RequestHash, nil
	}
	return "", nil
}

func (s *MemoryStore) Save(_ context.Context, key, hash string, status int, response []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[key]; ok {
		if existing.RequestHash != hash {
			return errors.IdempotencyConflict(key)
		}
		if existing.Status == 0 {
			existing.Status = status
			existing.Response = append([]byte(nil), response...)
		}
		return nil
	}
	s.records[key] = &Record{RequestHash: hash, Status: status, Response: append([]byte(nil), response...)}
	return nil
}
