// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"sync"

	"github.com/R3E-Network/entity_gateway/internal/registry"
	"github.com/R3E-Network/entity_gateway/internal/storage"
	"github.com/R3E-Network/entity_gateway/internal/tenant"
)

// SpyRepository wraps a storage.Repository and records every call, so tests
// can assert that short-circuit paths never reach storage.
type SpyRepository struct {
	mu    sync.Mutex
	inner storage.Repository
	calls []string
}

var _ storage.Repository = (*SpyRepository)(nil)

// NewSpyRepository wraps inner. A nil inner makes every call fail before
// delegation is attempted, which is fine for tests that expect zero calls.
func NewSpyRepository(inner storage.Repository) *SpyRepository {
	return &SpyRepository{inner: inner}
}

// Calls returns the recorded call names in order.
func (s *SpyRepository) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns the number of recorded storage invocations.
func (s *SpyRepository) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *SpyRepository) record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
}

func (s *SpyRepository) List(ctx context.Context, cfg registry.EntityConfig, filter storage.Filter, rctx *tenant.RequestCtx) ([]storage.Record, error) {
	s.record("list")
	return s.inner.List(ctx, cfg, filter, rctx)
}

func (s *SpyRepository) Get(ctx context.Context, cfg registry.EntityConfig, id string, rctx *tenant.RequestCtx) (storage.Record, error) {
	s.record("get")
	return s.inner.Get(ctx, cfg, id, rctx)
}

func (s *SpyRepository) Create(ctx context.Context, cfg registry.EntityConfig, data storage.Record, rctx *tenant.RequestCtx) (storage.Record, error) {
	s.record("create")
	return s.inner.Create(ctx, cfg, data, rctx)
}

func (s *SpyRepository) Update(ctx context.Context, cfg registry.EntityConfig, id string, data storage.Record, rctx *tenant.RequestCtx) (storage.Record, error) {
	s.record("update")
	return s.inner.Update(ctx, cfg, id, data, rctx)
}

func (s *SpyRepository) Delete(ctx context.Context, cfg registry.EntityConfig, id string, rctx *tenant.RequestCtx) error {
	s.record("delete")
	return s.inner.Delete(ctx, cfg, id, rctx)
}

func (s *SpyRepository) Transact(ctx context.Context, ops []storage.ResolvedOp, rctx *tenant.RequestCtx) ([]storage.OpResult, error) {
	s.record("transact")
	return s.inner.Transact(ctx, ops, rctx)
}
