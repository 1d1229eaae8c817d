package audit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"licensing-controlplane/pkg/db/pagination"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/tenant"
	"licensing-controlplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &AuditLog{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node}), db
}

func TestRecordRequiresTenant(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Record(tenant.Clear(testutil.TenantContext(t, "tenant-a")), nil, Entry{
		EntityType: EntityLicense, EntityID: "lic-1", Action: ActionCreate, UserID: "u1",
	})
	require.True(t, errors.Is(err, errutil.ErrTenantNotSet))
}

func TestRecordRejectsIncompleteEntry(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Record(testutil.TenantContext(t, "tenant-a"), nil, Entry{EntityType: EntityLicense, EntityID: "lic-1"})
	require.True(t, errors.Is(err, errutil.ErrInvalidArgument))
}

func TestRecordAndFind(t *testing.T) {
	svc, db := newTestService(t)
	ctxA := testutil.TenantContext(t, "tenant-a")
	ctxB := testutil.TenantContext(t, "tenant-b")

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.Record(ctxA, tx, Entry{EntityType: EntityLicense, EntityID: "lic-1", Action: ActionCreate, UserID: "alice"}); err != nil {
			return err
		}
		_, err := svc.Record(ctxA, tx, Entry{
			EntityType: EntityLicense, EntityID: "lic-1", Action: ActionSuspend, UserID: "bob",
			Details: map[string]any{"previous_status": "ACTIVE"},
		})
		return err
	})
	require.NoError(t, err)

	_, err = svc.Record(ctxB, nil, Entry{EntityType: EntityLicense, EntityID: "lic-9", Action: ActionCreate, UserID: "carol"})
	require.NoError(t, err)

	logs, err := svc.FindByEntity(ctxA, EntityLicense, "lic-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, ActionCreate, logs[0].Action)
	require.Equal(t, ActionSuspend, logs[1].Action)
	require.Equal(t, "ACTIVE", logs[1].Details["previous_status"])

	logs, err = svc.FindByEntity(ctxB, EntityLicense, "lic-1")
	require.NoError(t, err)
	require.Empty(t, logs)

	logs, err = svc.FindByUser(ctxA, "bob")
	require.NoError(t, err)
	require.Len(t, logs, 1)

	logs, err = svc.FindByAction(ctxB, ActionCreate)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "lic-9", logs[0].EntityID)
}

func TestRecordRolledBackWithTransaction(t *testing.T) {
	svc, db := newTestService(t)
	ctx := testutil.TenantContext(t, "tenant-a")

	boom := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.Record(ctx, tx, Entry{EntityType: EntityLicense, EntityID: "lic-1", Action: ActionCreate, UserID: "alice"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	logs, err := svc.FindByEntity(ctx, EntityLicense, "lic-1")
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestListPaginatesAndFilters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := testutil.TenantContext(t, "tenant-a")

	for i := 0; i < 5; i++ {
		_, err := svc.Record(ctx, nil, Entry{EntityType: EntityOrganization, EntityID: "org-1", Action: ActionUpdate, UserID: "alice"})
		require.NoError(t, err)
	}
	_, err := svc.Record(ctx, nil, Entry{EntityType: EntityLicense, EntityID: "lic-1", Action: ActionCreate, UserID: "alice"})
	require.NoError(t, err)

	first, err := svc.List(ctx, ListParams{EntityType: EntityOrganization})
	require.NoError(t, err)
	require.Len(t, first.Logs, 5)
	require.False(t, first.PageInfo.HasMore)

	page, err := svc.List(ctx, ListParams{EntityType: EntityOrganization, Pagination: pagination.Pagination{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, page.Logs, 2)
	require.True(t, page.PageInfo.HasMore)

	next, err := svc.List(ctx, ListParams{EntityType: EntityOrganization, Pagination: pagination.Pagination{Cursor: page.PageInfo.NextCursor, Limit: 2}})
	require.NoError(t, err)
	require.Len(t, next.Logs, 2)
	require.Greater(t, next.Logs[0].ID, page.Logs[1].ID)

	none, err := svc.List(ctx, ListParams{From: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.Empty(t, none.Logs)
}

func TestHandleList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := testutil.TenantContext(t, "tenant-a")
	_, err := svc.Record(ctx, nil, Entry{EntityType: EntityLicense, EntityID: "lic-1", Action: ActionCreate, UserID: "alice"})
	require.NoError(t, err)

	mux := runtime.NewServeMux()
	require.NoError(t, registerHandlers(mux, svc))
	handler := tenant.Middleware(func(w http.ResponseWriter, err error) {
		w.WriteHeader(http.StatusBadRequest)
	})(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs?entity_type=LICENSE&entity_id=lic-1", nil)
	req.Header.Set(tenant.HeaderTenantID, "tenant-a")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"entity_id":"lic-1"`)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs?limit=abc", nil)
	req.Header.Set(tenant.HeaderTenantID, "tenant-a")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
