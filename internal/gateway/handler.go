// Package gateway wires the entity registry, authorization, tenant
// resolution, idempotency guard and repository port into the HTTP operation
// dispatch layer.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/entity_gateway/internal/authz"
	gwerrors "github.com/R3E-Network/entity_gateway/internal/errors"
	"github.com/R3E-Network/entity_gateway/internal/httputil"
	"github.com/R3E-Network/entity_gateway/internal/idempotency"
	"github.com/R3E-Network/entity_gateway/internal/logging"
	"github.com/R3E-Network/entity_gateway/internal/metrics"
	"github.com/R3E-Network/entity_gateway/internal/middleware"
	"github.com/R3E-Network/entity_gateway/internal/registry"
	"github.com/R3E-Network/entity_gateway/internal/storage"
	"github.com/R3E-Network/entity_gateway/internal/tenant"
)

// Bounds for the similarity search result count.
const (
	searchKMin     = 1
	searchKMax     = 100
	searchKDefault = 10
)

// Handler bundles the gateway's HTTP endpoints.
type Handler struct {
	registry *registry.Registry
	repo     storage.Repository
	vector   storage.VectorSearcher // nil when the backend lacks the capability
	idem     idempotency.Store
	audit    *auditLog
	logger   *logging.Logger
}

// Options tunes handler construction.
type Options struct {
	AuditMaxEntries int
	AuditSink       auditSink
}

// NewHandler builds the gateway router. The vector-search capability is
// probed once here, never per request.
func NewHandler(reg *registry.Registry, repo storage.Repository, idem idempotency.Store, logger *logging.Logger, opts Options) http.Handler {
	if logger == nil {
		logger = logging.NewDefault("gateway")
	}
	h := &Handler{
		registry: reg,
		repo:     repo,
		idem:     idem,
		audit:    newAuditLog(opts.AuditMaxEntries, opts.AuditSink),
		logger:   logger,
	}
	if vs, ok := repo.(storage.VectorSearcher); ok {
		h.vector = vs
	}

	r := mux.NewRouter()
	// Registered on the router so mux.CurrentRoute resolves the route
	// template for the path label.
	r.Use(middleware.MetricsMiddleware())
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/v1/_transact", h.transact).Methods(http.MethodPost)
	r.HandleFunc("/v1/_audit", h.auditEntries).Methods(http.MethodGet)
	r.HandleFunc("/v1/{entity}/_search-embedding", h.searchEmbedding).Methods(http.MethodPost)
	r.HandleFunc("/v1/{entity}", h.list).Methods(http.MethodGet)
	r.HandleFunc("/v1/{entity}", h.create).Methods(http.MethodPost)
	r.HandleFunc("/v1/{entity}/{id}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/v1/{entity}/{id}", h.update).Methods(http.MethodPatch)
	r.HandleFunc("/v1/{entity}/{id}", h.delete).Methods(http.MethodDelete)
	return h.withAudit(r)
}

// begin builds the per-request context. It is the only place tenant
// resolution happens; handlers downstream treat rctx as immutable.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request, exempt bool) (*tenant.RequestCtx, *http.Request, bool) {
	rctx, err := tenant.Build(r.Header, middleware.GetClaims(r.Context()), exempt)
	if err != nil {
		httputil.WriteError(w, r, err)
		return nil, r, false
	}
	ctx := logging.WithTenantID(r.Context(), rctx.TenantID)
	ctx = logging.WithUserID(ctx, rctx.Actor.ID)
	if logging.GetRequestID(ctx) == "" {
		ctx = logging.WithRequestID(ctx, rctx.RequestID)
	}
	if info, ok := r.Context().Value(auditInfoKey{}).(*auditInfo); ok {
		info.requestID = logging.GetRequestID(ctx)
		info.tenant = rctx.TenantID
		info.user = rctx.Actor.ID
	}
	return rctx, r.WithContext(ctx), true
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	actor := tenant.Actor{}
	if claims != nil {
		actor = tenant.Actor{ID: claims.UserID, Roles: claims.Roles}
	}
	if !actor.HasRole("admin") {
		httputil.WriteError(w, r, gwerrors.Forbidden("_audit", "list"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": h.audit.list()})
}

// --- single-entity reads ----------------------------------------------------

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	rctx, r, ok := h.begin(w, r, false)
	if !ok {
		return
	}
	cfg, err := h.registry.Resolve(mux.Vars(r)["entity"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := authz.Authorize(cfg, registry.ActionList, rctx); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	filter := queryFilter(r)
	if err := cfg.ValidateFilter(filter); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	records, err := h.repo.List(r.Context(), cfg, filter, rctx)
	if err != nil {
		httputil.WriteError(w, r, h.mapStorageError(r, err, cfg.Collection, ""))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": records})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	rctx, r, ok := h.begin(w, r, false)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	cfg, err := h.registry.Resolve(vars["entity"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := authz.Authorize(cfg, registry.ActionGet, rctx); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	record, err := h.repo.Get(r.Context(), cfg, vars["id"], rctx)
	if err != nil {
		httputil.WriteError(w, r, h.mapStorageError(r, err, cfg.Collection, vars["id"]))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

// --- single-entity writes ---------------------------------------------------

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	rctx, r, ok := h.begin(w, r, false)
	if !ok {
		return
	}
	cfg, err := h.registry.Resolve(mux.Vars(r)["entity"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := authz.Authorize(cfg, registry.ActionCreate, rctx); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	body, err := readBody(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := cfg.ValidateCreate(body); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	var data storage.Record
	if err := json.Unmarshal(body, &data); err != nil {
		httputil.WriteError(w, r, gwerrors.Validation("invalid JSON body"))
		return
	}
	// The tenant field is server-assigned; a client-supplied value is
	// ignored, never an error.
	if cfg.TenantScoped() {
		data[cfg.TenantField] = rctx.TenantID
	}

	h.mutate(w, r, rctx, body, func(ctx context.Context) (int, interface{}, error) {
		record, err := h.repo.Create(ctx, cfg, data, rctx)
		if err != nil {
			return 0, nil, h.mapStorageError(r, err, cfg.Collection, "")
		}
		return http.StatusCreated, record, nil
	})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	rctx, r, ok := h.begin(w, r, false)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	cfg, err := h.registry.Resolve(vars["entity"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := authz.Authorize(cfg, registry.ActionUpdate, rctx); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	id := strings.TrimSpace(vars["id"])
	if id == "" {
		httputil.WriteError(w, r, gwerrors.Validation("identifier is required"))
		return
	}

	body, err := readBody(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := cfg.ValidateUpdate(body); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	var data storage.Record
	if err := json.Unmarshal(body, &data); err != nil {
		httputil.WriteError(w, r, gwerrors.Validation("invalid JSON body"))
		return
	}
	if cfg.TenantScoped() {
		data[cfg.TenantField] = rctx.TenantID
	}

	h.mutate(w, r, rctx, body, func(ctx context.Context) (int, interface{}, error) {
		record, err := h.repo.Update(ctx, cfg, id, data, rctx)
		if err != nil {
			return 0, nil, h.mapStorageError(r, err, cfg.Collection, id)
		}
		return http.StatusOK, record, nil
	})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	rctx, r, ok := h.begin(w, r, false)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	cfg, err := h.registry.Resolve(vars["entity"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := authz.Authorize(cfg, registry.ActionDelete, rctx); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	id := strings.TrimSpace(vars["id"])
	if id == "" {
		httputil.WriteError(w, r, gwerrors.Validation("identifier is required"))
		return
	}

	h.mutate(w, r, rctx, nil, func(ctx context.Context) (int, interface{}, error) {
		if err := h.repo.Delete(ctx, cfg, id, rctx); err != nil {
			return 0, nil, h.mapStorageError(r, err, cfg.Collection, id)
		}
		return http.StatusNoContent, nil, nil
	})
}

// --- transact ---------------------------------------------------------------

func (h *Handler) transact(w http.ResponseWriter, r *http.Request) {
	rctx, r, ok := h.begin(w, r, false)
	if !ok {
		return
	}

	body, err := readBody(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var payload struct {
		Ops []storage.TransactionOp `json:"ops"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		httputil.WriteError(w, r, gwerrors.Validation("invalid JSON body"))
		return
	}
	if len(payload.Ops) == 0 {
		httputil.WriteError(w, r, gwerrors.Validation("ops must be a non-empty list"))
		return
	}

	// Resolve and check every op before executing anything: one bad op
	// aborts the whole request with zero storage effects.
	resolved := make([]storage.ResolvedOp, 0, len(payload.Ops))
	for i, op := range payload.Ops {
		cfg, err := h.registry.Resolve(op.Entity)
		if err != nil {
			httputil.WriteError(w, r, gwerrors.Validationf("ops[%d]: unknown entity %q", i, op.Entity))
			return
		}
		var action registry.Action
		switch op.Op {
		case storage.OpCreate:
			action = registry.ActionCreate
		case storage.OpUpdate:
			action = registry.ActionUpdate
		case storage.OpDelete:
			action = registry.ActionDelete
		default:
			httputil.WriteError(w, r, gwerrors.Validationf("ops[%d]: unsupported op %q", i, op.Op))
			return
		}
		if err := authz.Authorize(cfg, action, rctx); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if (op.Op == storage.OpUpdate || op.Op == storage.OpDelete) && strings.TrimSpace(op.ID) == "" {
			httputil.WriteError(w, r, gwerrors.Validationf("ops[%d]: identifier is required for %s", i, op.Op))
			return
		}

		data := storage.Record(op.Data)
		if op.Op != storage.OpDelete {
			raw, err := json.Marshal(op.Data)
			if err != nil {
				httputil.WriteError(w, r, gwerrors.Validationf("ops[%d]: invalid payload", i))
				return
			}
			if op.Op == storage.OpCreate {
				err = cfg.ValidateCreate(raw)
			} else {
				err = cfg.ValidateUpdate(raw)
			}
			if err != nil {
				httputil.WriteError(w, r, err)
				return
			}
			if cfg.TenantScoped() {
				if data == nil {
					data = storage.Record{}
				}
				data[cfg.TenantField] = rctx.TenantID
			}
		}
		resolved = append(resolved, storage.ResolvedOp{Op: op.Op, Config: cfg, ID: op.ID, Data: data})
	}

	metrics.RecordTransactOps(len(resolved))

	h.mutate(w, r, rctx, body, func(ctx context.Context) (int, interface{}, error) {
		results, err := h.repo.Transact(ctx, resolved, rctx)
		if err != nil {
			return 0, nil, h.mapStorageError(r, err, "_transact", "")
		}
		return http.StatusOK, map[string]interface{}{"results": results}, nil
	})
}

// --- similarity search ------------------------------------------------------

func (h *Handler) searchEmbedding(w http.ResponseWriter, r *http.Request) {
	rctx, r, ok := h.begin(w, r, false)
	if !ok {
		return
	}
	cfg, err := h.registry.Resolve(mux.Vars(r)["entity"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := authz.Authorize(cfg, registry.ActionSearch, rctx); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if h.vector == nil || cfg.Vector == nil {
		httputil.WriteError(w, r, gwerrors.NotImplemented("vector search"))
		return
	}

	var payload struct {
		Vector []float64         `json:"vector"`
		K      *int              `json:"k"`
		Filter map[string]string `json:"filter"`
	}
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if len(payload.Vector) == 0 {
		httputil.WriteError(w, r, gwerrors.Validation("vector must be a non-empty numeric array"))
		return
	}
	k := searchKDefault
	if payload.K != nil {
		k = *payload.K
	}
	if k < searchKMin || k > searchKMax {
		httputil.WriteError(w, r, gwerrors.Validationf("k must be between %d and %d", searchKMin, searchKMax))
		return
	}
	if err := cfg.ValidateFilter(payload.Filter); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	records, err := h.vector.SearchEmbedding(r.Context(), cfg, payload.Vector, k, payload.Filter, rctx)
	if err != nil {
		httputil.WriteError(w, r, h.mapStorageError(r, err, cfg.Collection, ""))
		return
	}
	// Backend order is best-match-first; no re-ranking here.
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": records})
}

// --- shared plumbing --------------------------------------------------------

// mutate runs the idempotency guard around a mutating execution: key
// required, replay served verbatim, conflicting reuse rejected, and the
// record persisted only after success. The execution itself runs on a
// detached context so a client disconnect cannot abort a mutation that
// already reached the repository.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, rctx *tenant.RequestCtx, body []byte, fn func(ctx context.Context) (int, interface{}, error)) {
	key := r.Header.Get(idempotency.HeaderKey)
	if strings.TrimSpace(key) == "" {
		httputil.WriteError(w, r, gwerrors.IdempotencyRequired())
		return
	}

	hash := idempotency.ComputeHash(r.Method, r.URL.Path, rctx.TenantID, body, r.URL.Query())
	replay, err := idempotency.Check(r.Context(), h.idem, key, hash)
	if err != nil {
		if gwerrors.Is(err, gwerrors.CodeIdempotencyConflict) {
			metrics.RecordIdempotencyConflict()
		}
		httputil.WriteError(w, r, err)
		return
	}
	if replay != nil {
		metrics.RecordIdempotentReplay()
		w.Header().Set(idempotency.HeaderReplay, "true")
		if len(replay.Response) == 0 {
			// Empty-bodied successes (deletes) replay their original status.
			w.WriteHeader(replay.Status)
			return
		}
		httputil.WriteRawJSON(w, http.StatusOK, replay.Response)
		return
	}

	execCtx := context.WithoutCancel(r.Context())
	status, result, err := fn(execCtx)
	if err != nil {
		// Failed executions never poison the key; a retry with the same
		// key re-executes.
		httputil.WriteError(w, r, err)
		return
	}

	var response []byte
	if result != nil {
		response, err = json.Marshal(result)
		if err != nil {
			httputil.WriteError(w, r, gwerrors.Internal("encode response", err))
			return
		}
	}
	if err := h.idem.Save(execCtx, key, hash, status, response); err != nil {
		if gwerrors.Is(err, gwerrors.CodeIdempotencyConflict) {
			metrics.RecordIdempotencyConflict()
			httputil.WriteError(w, r, err)
			return
		}
		h.logger.WithContext(r.Context()).WithError(err).Error("persist idempotency record failed")
	}

	if status == http.StatusNoContent || response == nil {
		w.WriteHeader(status)
		return
	}
	httputil.WriteRawJSON(w, status, response)
}

// mapStorageError translates repository sentinels into the error taxonomy.
// Tenant-invisible records arrive as ErrNotFound from the adapters, so a
// cross-tenant identifier is indistinguishable from a missing one.
func (h *Handler) mapStorageError(r *http.Request, err error, entity, id string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return gwerrors.NotFound(entity, id)
	case errors.Is(err, storage.ErrForbidden):
		return gwerrors.Forbidden(entity, "access")
	}
	var rule *storage.DomainRuleError
	if errors.As(err, &rule) {
		return gwerrors.Validation(rule.Rule)
	}
	if se := gwerrors.GetServiceError(err); se != nil {
		return se
	}
	h.logger.WithContext(r.Context()).WithError(err).Error("repository call failed")
	return gwerrors.Internal("storage operation failed", err)
}

func queryFilter(r *http.Request) storage.Filter {
	filter := storage.Filter{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			filter[key] = values[0]
		}
	}
	return filter
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, gwerrors.Validation("unable to read request body")
	}
	return body, nil
}

// auditInfo is a mutable holder planted in the request context before
// dispatch. Handlers derive their own request copies, so identity resolved
// in begin would never reach the outer audit middleware otherwise.
type auditInfo struct {
	requestID string
	user      string
	tenant    string
}

type auditInfoKey struct{}

// withAudit records every request outcome in the audit log.
func (h *Handler) withAudit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := &auditInfo{}
		r = r.WithContext(context.WithValue(r.Context(), auditInfoKey{}, info))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// Requests rejected before tenant resolution fall back to what the
		// wire carried.
		user := info.user
		if user == "" {
			if claims := middleware.GetClaims(r.Context()); claims != nil {
				user = claims.UserID
			}
		}
		tenantID := info.tenant
		if tenantID == "" {
			tenantID = r.Header.Get(tenant.HeaderTenantID)
		}
		requestID := info.requestID
		if requestID == "" {
			requestID = logging.GetRequestID(r.Context())
		}
		h.audit.add(auditEntry{
			Time:      time.Now().UTC(),
			RequestID: requestID,
			User:      user,
			Tenant:    tenantID,
			Path:      r.URL.Path,
			Method:    r.Method,
			Status:    rec.status,
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.written {
		s.status = code
		s.written = true
		s.ResponseWriter.WriteHeader(code)
	}
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.written {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}
