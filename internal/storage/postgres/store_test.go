package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/entity_gateway/internal/registry"
	"github.com/R3E-Network/entity_gateway/internal/storage"
	"github.com/R3E-Network/entity_gateway/internal/tenant"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func usersConfig(t *testing.T) registry.EntityConfig {
	t.Helper()
	cfg, err := registry.Builtin().Resolve("users")
	require.NoError(t, err)
	return cfg
}

func messagesConfig(t *testing.T) registry.EntityConfig {
	t.Helper()
	cfg, err := registry.Builtin().Resolve("messages")
	require.NoError(t, err)
	return cfg
}

func rctxFor(tenantID string) *tenant.RequestCtx {
	return &tenant.RequestCtx{RequestID: "req-1", TenantID: tenantID}
}

func TestGetScopesByTenant(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT doc FROM "gw_users" WHERE id = .+ AND tenant_id =`).
		WithArgs("u1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).
			AddRow([]byte(`{"id":"u1","tenantId":"t1","email":"a@b.c"}`)))

	rec, err := store.Get(context.Background(), usersConfig(t), "u1", rctxFor("t1"))
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", rec["email"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingRowIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT doc FROM "gw_users"`).
		WithArgs("u1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}))

	_, err := store.Get(context.Background(), usersConfig(t), "u1", rctxFor("t1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInsertsDocRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO "gw_users"`).
		WithArgs(sqlmock.AnyArg(), "t1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := store.Create(context.Background(), usersConfig(t), storage.Record{
		"email":    "a@b.c",
		"tenantId": "spoofed",
	}, rctxFor("t1"))
	require.NoError(t, err)
	assert.Equal(t, "t1", rec["tenantId"])
	assert.NotEmpty(t, rec["id"])
	assert.NotEmpty(t, rec["createdAt"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateVectorEntityBindsEmbedding(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO "gw_messages"`).
		WithArgs(sqlmock.AnyArg(), "t1", sqlmock.AnyArg(), "[0.5,0.5]").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := store.Create(context.Background(), messagesConfig(t), storage.Record{
		"userId": "u1", "conversationId": "c1", "role": "user", "content": "hi",
		"embedding": []interface{}{0.5, 0.5},
	}, rctxFor("t1"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDuplicateKey(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO "gw_users"`).
		WithArgs("u1", "t1", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := store.Create(context.Background(), usersConfig(t), storage.Record{
		"id": "u1", "email": "a@b.c",
	}, rctxFor("t1"))
	var domainErr *storage.DomainRuleError
	require.ErrorAs(t, err, &domainErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMergesAndReturnsDoc(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`UPDATE "gw_users" SET doc = doc`).
		WithArgs("u1", sqlmock.AnyArg(), "t1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).
			AddRow([]byte(`{"id":"u1","tenantId":"t1","email":"a@b.c","name":"new"}`)))

	rec, err := store.Update(context.Background(), usersConfig(t), "u1", storage.Record{"name": "new"}, rctxFor("t1"))
	require.NoError(t, err)
	assert.Equal(t, "new", rec["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMissingRowIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM "gw_users" WHERE id =`).
		WithArgs("u1", "t1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), usersConfig(t), "u1", rctxFor("t1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAppliesTenantAndFilter(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT doc FROM "gw_users" WHERE TRUE AND tenant_id =`).
		WithArgs("t1", "a@b.c").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).
			AddRow([]byte(`{"id":"u1","tenantId":"t1","email":"a@b.c"}`)))

	out, err := store.List(context.Background(), usersConfig(t), storage.Filter{"email": "a@b.c"}, rctxFor("t1"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "u1", out[0]["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactCommitsAllOps(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "gw_users"`).
		WithArgs(sqlmock.AnyArg(), "t1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "gw_users"`).
		WithArgs("u2", "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	cfg := usersConfig(t)
	results, err := store.Transact(context.Background(), []storage.ResolvedOp{
		{Op: storage.OpCreate, Config: cfg, Data: storage.Record{"email": "a@b.c"}},
		{Op: storage.OpDelete, Config: cfg, ID: "u2"},
	}, rctxFor("t1"))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotEmpty(t, results[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactRollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "gw_users"`).
		WithArgs(sqlmock.AnyArg(), "t1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "gw_users"`).
		WithArgs("missing", "t1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	cfg := usersConfig(t)
	_, err := store.Transact(context.Background(), []storage.ResolvedOp{
		{Op: storage.OpCreate, Config: cfg, Data: storage.Record{"email": "a@b.c"}},
		{Op: storage.OpDelete, Config: cfg, ID: "missing"},
	}, rctxFor("t1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchEmbeddingQuery(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT doc FROM "gw_messages" WHERE embedding IS NOT NULL AND tenant_id =`).
		WithArgs("[1,0]", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).
			AddRow([]byte(`{"id":"m1","tenantId":"t1","content":"near"}`)))

	out, err := store.SearchEmbedding(context.Background(), messagesConfig(t), []float64{1, 0}, 5, nil, rctxFor("t1"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "m1", out[0]["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchEmbeddingRequiresVectorConfig(t *testing.T) {
	store, _ := newMockStore(t)
	_, err := store.SearchEmbedding(context.Background(), usersConfig(t), []float64{1}, 5, nil, rctxFor("t1"))
	var domainErr *storage.DomainRuleError
	require.ErrorAs(t, err, &domainErr)
}

func TestDocPathExpr(t *testing.T) {
	assert.Equal(t, "doc->>'email'", docPathExpr("email"))
	assert.Equal(t, "doc #>> '{profile,city}'", docPathExpr("profile.city"))
}
