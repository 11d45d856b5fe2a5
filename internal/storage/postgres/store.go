// Package postgres implements the repository port on PostgreSQL. Each entity
// is stored as a document table:
//
//	CREATE TABLE gw_<collection> (
//	    id         TEXT PRIMARY KEY,
//	    tenant_id  TEXT NOT NULL DEFAULT '',
//	    doc        JSONB NOT NULL,
//	    embedding  vector,        -- pgvector, only for entities with a vector spec
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
// Provisioning the tables (and the pgvector extension) is deployment
// tooling's concern; this adapter never runs DDL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/entity_gateway/internal/registry"
	"github.com/R3E-Network/entity_gateway/internal/storage"
	"github.com/R3E-Network/entity_gateway/internal/tenant"
)

// Store implements storage.Repository and storage.VectorSearcher backed by
// PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Repository = (*Store)(nil)
var _ storage.VectorSearcher = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func tableName(cfg registry.EntityConfig) string {
	return pq.QuoteIdentifier("gw_" + cfg.Collection)
}

func (s *Store) List(ctx context.Context, cfg registry.EntityConfig, filter storage.Filter, rctx *tenant.RequestCtx) ([]storage.Record, error) {
	query, args := buildListQuery(cfg, filter, rctx)
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []storage.Record{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rec, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, cfg registry.EntityConfig, id string, rctx *tenant.RequestCtx) (storage.Record, error) {
	return getDoc(ctx, s.db, cfg, id, rctx)
}

func (s *Store) Create(ctx context.Context, cfg registry.EntityConfig, data storage.Record, rctx *tenant.RequestCtx) (storage.Record, error) {
	return createDoc(ctx, s.db, cfg, data, rctx)
}

func (s *Store) Update(ctx context.Context, cfg registry.EntityConfig, id string, data storage.Record, rctx *tenant.RequestCtx) (storage.Record, error) {
	return updateDoc(ctx, s.db, cfg, id, data, rctx)
}

func (s *Store) Delete(ctx context.Context, cfg registry.EntityConfig, id string, rctx *tenant.RequestCtx) error {
	return deleteDoc(ctx, s.db, cfg, id, rctx)
}

func (s *Store) Transact(ctx context.Context, ops []storage.ResolvedOp, rctx *tenant.RequestCtx) ([]storage.OpResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	results := make([]storage.OpResult, 0, len(ops))
	for _, op := range ops {
		res := storage.OpResult{Op: op.Op, Entity: op.Config.Collection, ID: op.ID}
		switch op.Op {
		case storage.OpCreate:
			rec, err := createDoc(ctx, tx, op.Config, op.Data, rctx)
			if err != nil {
				return nil, err
			}
			res.ID, _ = rec["id"].(string)
			res.Record = rec
		case storage.OpUpdate:
			rec, err := updateDoc(ctx, tx, op.Config, op.ID, op.Data, rctx)
			if err != nil {
				return nil, err
			}
			res.Record = rec
		case storage.OpDelete:
			if err := deleteDoc(ctx, tx, op.Config, op.ID, rctx); err != nil {
				return nil, err
			}
		default:
			return nil, &storage.DomainRuleError{Rule: "unsupported transaction op " + string(op.Op)}
		}
		results = append(results, res)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) SearchEmbedding(ctx context.Context, cfg registry.EntityConfig, vector []float64, k int, filter storage.Filter, rctx *tenant.RequestCtx) ([]storage.Record, error) {
	if cfg.Vector == nil {
		return nil, &storage.DomainRuleError{Rule: "entity has no vector field"}
	}

	where := []string{"embedding IS NOT NULL"}
	args := []interface{}{vectorLiteral(vector)}
	n := 2
	if cfg.TenantScoped() {
		where = append(where, fmt.Sprintf("tenant_id = $%d", n))
		args = append(args, rctx.TenantID)
		n++
	}
	for _, key := range sortedKeys(filter) {
		where = append(where, fmt.Sprintf("%s = $%d", docPathExpr(key), n))
		args = append(args, filter[key])
		n++
	}

	// Nearest first per pgvector distance ordering; the gateway does not
	// re-rank.
	query := fmt.Sprintf(
		"SELECT doc FROM %s WHERE %s ORDER BY embedding <-> $1::vector LIMIT %d",
		tableName(cfg), strings.Join(where, " AND "), k,
	)
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []storage.Record{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rec, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- single-document operations, shared between DB and Tx ------------------

func getDoc(ctx context.Context, q sqlx.QueryerContext, cfg registry.EntityConfig, id string, rctx *tenant.RequestCtx) (storage.Record, error) {
	query := fmt.Sprintf("SELECT doc FROM %s WHERE id = $1", tableName(cfg))
	args := []interface{}{id}
	if cfg.TenantScoped() {
		query += " AND tenant_id = $2"
		args = append(args, rctx.TenantID)
	}
	var raw []byte
	err := sqlx.GetContext(ctx, q, &raw, query, args...)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeDoc(raw)
}

func createDoc(ctx context.Context, e sqlx.ExtContext, cfg registry.EntityConfig, data storage.Record, rctx *tenant.RequestCtx) (storage.Record, error) {
	rec := make(storage.Record, len(data)+4)
	for k, v := range data {
		rec[k] = v
	}
	id, _ := rec["id"].(string)
	if id == "" {
		id = uuid.NewString()
		rec["id"] = id
	}
	tenantID := ""
	if cfg.TenantScoped() {
		tenantID = rctx.TenantID
		rec[cfg.TenantField] = tenantID
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rec["createdAt"] = now
	rec["updatedAt"] = now

	doc, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	if cfg.Vector != nil {
		var embedding interface{}
		if vec := toVector(rec[cfg.Vector.Field]); vec != nil {
			embedding = vectorLiteral(vec)
		}
		_, err = e.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, tenant_id, doc, embedding)
			VALUES ($1, $2, $3, $4::vector)
		`, tableName(cfg)), id, tenantID, doc, embedding)
	} else {
		_, err = e.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, tenant_id, doc)
			VALUES ($1, $2, $3)
		`, tableName(cfg)), id, tenantID, doc)
	}
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, &storage.DomainRuleError{Rule: "duplicate primary key " + id}
		}
		return nil, err
	}
	return rec, nil
}

func updateDoc(ctx context.Context, e sqlx.ExtContext, cfg registry.EntityConfig, id string, patch storage.Record, rctx *tenant.RequestCtx) (storage.Record, error) {
	merged := make(storage.Record, len(patch)+1)
	for k, v := range patch {
		merged[k] = v
	}
	if cfg.TenantScoped() {
		merged[cfg.TenantField] = rctx.TenantID
	}
	merged["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)

	patchJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("UPDATE %s SET doc = doc || $2, updated_at = now() WHERE id = $1", tableName(cfg))
	args := []interface{}{id, patchJSON}
	if cfg.TenantScoped() {
		query += " AND tenant_id = $3"
		args = append(args, rctx.TenantID)
	}
	query += " RETURNING doc"

	var raw []byte
	err = sqlx.GetContext(ctx, e, &raw, query, args...)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeDoc(raw)
}

func deleteDoc(ctx context.Context, e sqlx.ExtContext, cfg registry.EntityConfig, id string, rctx *tenant.RequestCtx) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", tableName(cfg))
	args := []interface{}{id}
	if cfg.TenantScoped() {
		query += " AND tenant_id = $2"
		args = append(args, rctx.TenantID)
	}
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- helpers ----------------------------------------------------------------

func buildListQuery(cfg registry.EntityConfig, filter storage.Filter, rctx *tenant.RequestCtx) (string, []interface{}) {
	where := []string{"TRUE"}
	args := []interface{}{}
	n := 1
	if cfg.TenantScoped() {
		where = append(where, fmt.Sprintf("tenant_id = $%d", n))
		args = append(args, rctx.TenantID)
		n++
	}
	for _, key := range sortedKeys(filter) {
		where = append(where, fmt.Sprintf("%s = $%d", docPathExpr(key), n))
		args = append(args, filter[key])
		n++
	}
	query := fmt.Sprintf(
		"SELECT doc FROM %s WHERE %s ORDER BY created_at",
		tableName(cfg), strings.Join(where, " AND "),
	)
	return query, args
}

// docPathExpr renders a (possibly dotted) filter key as a jsonb text
// extraction expression. Keys come from the entity's filter schema, never
// raw from the wire.
func docPathExpr(key string) string {
	parts := strings.Split(key, ".")
	if len(parts) == 1 {
		return fmt.Sprintf("doc->>%s", pq.QuoteLiteral(key))
	}
	return fmt.Sprintf("doc #>> %s", pq.QuoteLiteral("{"+strings.Join(parts, ",")+"}"))
}

func sortedKeys(filter storage.Filter) []string {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func decodeDoc(raw []byte) (storage.Record, error) {
	var rec storage.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func vectorLiteral(vec []float64) string {
	parts := make([]string, len(vec))
	for i, f := range vec {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
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
