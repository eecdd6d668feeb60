package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suteetoe/taskapp/internal/journal"
	"github.com/suteetoe/taskapp/internal/maintenance"
	"github.com/suteetoe/taskapp/internal/middleware"
	"github.com/suteetoe/taskapp/internal/model"
	"github.com/suteetoe/taskapp/internal/service"
	"github.com/suteetoe/taskapp/internal/store/memstore"
	"github.com/suteetoe/taskapp/internal/tenancy"
	"github.com/suteetoe/taskapp/pkg/jwtutil"
	"go.uber.org/zap"
)

type testServer struct {
	e      *echo.Echo
	store  *memstore.Store
	user   string
	other  string
	admin  string
	shared string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	const shared = "taskapp"
	s := memstore.New()
	log := zap.NewNop()

	resolver := tenancy.NewResolver(s, shared, log)
	provisioner := tenancy.NewProvisioner(s, log)
	runs := journal.NewMemoryRepository()
	migrator := tenancy.NewMigrator(s, shared, provisioner, runs, log)
	indexes := maintenance.NewIndexService(s, resolver, log)

	apps := service.NewAppService(resolver, provisioner, migrator, indexes, log)
	todos := service.NewTodoService(resolver, tenancy.NewOwnershipVerifier(resolver.Apps()), log)

	jwtUtil := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "test", ExpirationHours: 1})
	token := func(id string, role jwtutil.Role) string {
		tok, err := jwtUtil.GenerateToken(id+"@example.com", id, role)
		require.NoError(t, err)
		return tok
	}

	e := echo.New()
	e.Use(middleware.RequestIDMiddleware)
	RegisterRoutes(e, jwtUtil,
		NewAppHandler(apps),
		NewTodoHandler(todos),
		NewMigrationHandler(
			maintenance.NewBackfillService(resolver, indexes, log),
			indexes,
			maintenance.NewReaper(s, resolver, log),
			runs,
		),
	)

	return &testServer{
		e:      e,
		store:  s,
		user:   token("u1", jwtutil.RoleUser),
		other:  token("u2", jwtutil.RoleUser),
		admin:  token("root", jwtutil.RoleAdmin),
		shared: shared,
	}
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestAppAndTodoFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/apps", ts.user, `{"name":"Launch"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	app := decode[model.App](t, rec)
	appID := app.ID.Hex()
	assert.Equal(t, model.TenantModeShared, app.TenantMode)

	rec = ts.do(t, http.MethodPost, "/api/lists", ts.user, `{"name":"Week 1","appId":"`+appID+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	list := decode[model.TodoList](t, rec)

	rec = ts.do(t, http.MethodPost, "/api/lists/"+list.ID.Hex()+"/items?appId="+appID, ts.user, `{"title":"Ship it","priority":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := decode[model.TodoItem](t, rec)

	rec = ts.do(t, http.MethodPatch, "/api/items/"+item.ID.Hex()+"/status?appId="+appID, ts.user, `{"status":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.StatusDone, decode[model.TodoItem](t, rec).Status)

	rec = ts.do(t, http.MethodPost, "/api/apps/"+appID+"/mode", ts.user, `{"tenantMode":"separate"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	switched := decode[struct {
		App       model.App             `json:"app"`
		Migration model.MigrationResult `json:"migration"`
	}](t, rec)
	assert.Equal(t, model.TenantModeSeparate, switched.App.TenantMode)
	assert.EqualValues(t, 1, switched.Migration.ListsMigrated)
	assert.EqualValues(t, 1, switched.Migration.ItemsMigrated)

	rec = ts.do(t, http.MethodGet, "/api/lists/"+list.ID.Hex()+"/items?appId="+appID, ts.user, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	items := decode[[]model.TodoItem](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, model.StatusDone, items[0].Status)

	rec = ts.do(t, http.MethodGet, "/api/lists?appId="+appID, ts.other, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/apps/"+appID, ts.other, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/lists/"+list.ID.Hex()+"?appId="+appID, ts.user, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/apps/"+appID, ts.user, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/apps", ts.user, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]model.App](t, rec))
}

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/apps", ts.user, `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/apps", ts.user, `{"name":"x","tenantMode":"hybrid"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/apps", "", `{"name":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/apps/not-an-id", ts.user, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFailedModeSwitchReturnsConflict(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/apps", ts.user, `{"name":"A"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	app := decode[model.App](t, rec)
	rec = ts.do(t, http.MethodPost, "/api/lists", ts.user, `{"name":"L","appId":"`+app.ID.Hex()+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	ts.store.DiscardWrites(tenancy.DeriveDatabaseName(app.ID.Hex()), model.CollectionTodoLists)
	rec = ts.do(t, http.MethodPost, "/api/apps/"+app.ID.Hex()+"/mode", ts.user, `{"tenantMode":"separate"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "integrity check failed")
}

func TestAdminEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/admin/migration/status", ts.user, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/admin/migration/status", ts.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[model.MigrationStatus](t, rec).IsMigrationNeeded)

	rec = ts.do(t, http.MethodPost, "/api/admin/migration/run", ts.admin, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 10, decode[model.BackfillResult](t, rec).IndexesCreated)

	rec = ts.do(t, http.MethodPost, "/api/admin/migration/run", ts.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[model.BackfillResult](t, rec).IndexesCreated)

	rec = ts.do(t, http.MethodPost, "/api/admin/migration/create-indexes?databaseName=app_t1", ts.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	created := decode[model.IndexCreationResult](t, rec)
	assert.Equal(t, 6, created.Total())
	assert.Zero(t, created.UserAppsIndexesCreated)

	rec = ts.do(t, http.MethodPost, "/api/admin/migration/create-indexes?databaseName=admin", ts.admin, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/admin/migration/index-status?databaseName=admin", ts.admin, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	names, err := ts.store.ListDatabaseNames(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, names, "admin")

	rec = ts.do(t, http.MethodGet, "/api/admin/migration/index-status", ts.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[model.IndexStatus](t, rec).UserAppsIndexes, 5)

	rec = ts.do(t, http.MethodPost, "/api/apps", ts.user, `{"name":"Iso","tenantMode":"separate"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/admin/migration/create-indexes-all-apps", ts.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"databases":1`)

	rec = ts.do(t, http.MethodGet, "/api/admin/migration/databases/orphaned", ts.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "app_t1")

	rec = ts.do(t, http.MethodDelete, "/api/admin/migration/databases/app_t1", ts.admin, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/admin/migration/databases/"+ts.shared, ts.admin, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/admin/migration/history?limit=abc", ts.admin, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/admin/migration/history", ts.admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]journal.Run](t, rec))
}
