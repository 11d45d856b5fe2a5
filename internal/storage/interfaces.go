// Package storage defines the repository port the gateway depends on. The
// concrete backend owns consistency; the gateway owns tenant and idempotency
// correctness.
package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/entity_gateway/internal/registry"
	"github.com/R3E-Network/entity_gateway/internal/tenant"
)

// Record is one stored document.
type Record map[string]interface{}

// Filter is a set of field → value equality predicates. Keys may be dotted
// paths into nested documents.
type Filter map[string]string

// Sentinel errors signaled by adapters. A tenant-invisible record surfaces
// as ErrNotFound so existence is never confirmed across tenants.
var (
	ErrNotFound  = errors.New("storage: record not found")
	ErrForbidden = errors.New("storage: access denied")
)

// DomainRuleError marks a backend-rejected domain rule violation, which the
// dispatch layer renders as a validation error rather than a 500.
type DomainRuleError struct {
	Rule string
}

func (e *DomainRuleError) Error() string {
	return "storage: domain rule violated: " + e.Rule
}

// OpType is one transactional operation kind.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// TransactionOp is one step of a multi-op request as received on the wire.
type TransactionOp struct {
	Op     OpType                 `json:"op"`
	Entity string                 `json:"entity"`
	ID     string                 `json:"id,omitempty"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// ResolvedOp is a TransactionOp whose entity already resolved in the
// registry. Dispatch resolves every op before execution begins, so adapters
// never see an unknown entity.
type ResolvedOp struct {
	Op     OpType
	Config registry.EntityConfig
	ID     string
	Data   Record
}

// OpResult reports the outcome of one transactional step, in input order.
type OpResult struct {
	Op     OpType `json:"op"`
	Entity string `json:"entity"`
	ID     string `json:"id"`
	Record Record `json:"record,omitempty"`
}

// Repository is the abstract single- and multi-entity storage port. Every
// call receives the request context so the backend can enforce tenant
// scoping at the storage boundary as a second line of defense.
type Repository interface {
	List(ctx context.Context, cfg registry.EntityConfig, filter Filter, rctx *tenant.RequestCtx) ([]Record, error)
	Get(ctx context.Context, cfg registry.EntityConfig, id string, rctx *tenant.RequestCtx) (Record, error)
	Create(ctx context.Context, cfg registry.EntityConfig, data Record, rctx *tenant.RequestCtx) (Record, error)
	Update(ctx context.Context, cfg registry.EntityConfig, id string, data Record, rctx *tenant.RequestCtx) (Record, error)
	Delete(ctx context.Context, cfg registry.EntityConfig, id string, rctx *tenant.RequestCtx) error
	// Transact applies the ordered op list as one atomic unit: all ops
	// visible, or none.
	Transact(ctx context.Context, ops []ResolvedOp, rctx *tenant.RequestCtx) ([]OpResult, error)
}

// VectorSearcher is the optional similarity-search capability. Dispatch
// checks for it once at construction, not per call.
type VectorSearcher interface {
	SearchEmbedding(ctx context.Context, cfg registry.EntityConfig, vector []float64, k int, filter Filter, rctx *tenant.RequestCtx) ([]Record, error)
}
