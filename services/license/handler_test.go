package license

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"licensing-controlplane/pkg/httpapi"
	"licensing-controlplane/pkg/tenant"
	"licensing-controlplane/services/organization"
	"licensing-controlplane/services/testutil"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/stretchr/testify/require"
)

func TestHandlers(t *testing.T) {
	f := newFixture(t, nil)
	org := f.org(t, testutil.TenantContext(t, "tenant-a"), organization.Basic)

	mux := runtime.NewServeMux()
	require.NoError(t, registerHandlers(mux, f.svc))
	handler := tenant.Middleware(httpapi.WriteError)(mux)

	do := func(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	headers := map[string]string{tenant.HeaderTenantID: "tenant-a", httpapi.HeaderUserID: "alice"}
	readOnly := map[string]string{tenant.HeaderTenantID: "tenant-a"}

	body, err := json.Marshal(map[string]any{
		"organization_id": org.ID,
		"product_name":    "Pro",
		"customer_email":  "a@b.com",
		"expires_at":      f.clock.Add(365 * 24 * time.Hour),
		"features":        map[string]any{"seats": 5},
	})
	require.NoError(t, err)

	rec := do(http.MethodPost, "/api/v1/licenses", string(body), headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created License
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, Active, created.Status)
	require.NotEmpty(t, created.Token)

	rec = do(http.MethodPost, "/api/v1/licenses", string(body), readOnly)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodGet, "/api/v1/licenses/"+created.ID, "", readOnly)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodGet, "/api/v1/licenses/"+created.ID, "", map[string]string{tenant.HeaderTenantID: "tenant-b"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodPost, "/api/v1/licenses/"+created.ID+"/verify", `{"signature":"`+created.Signature+`"}`, readOnly)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"license_id":"`+created.ID+`","valid":true}`, rec.Body.String())

	rec = do(http.MethodPatch, "/api/v1/licenses/"+created.ID+"/suspend", "", headers)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"SUSPENDED"`)

	rec = do(http.MethodPost, "/api/v1/licenses/"+created.ID+"/verify", `{"signature":"`+created.Signature+`"}`, readOnly)
	require.JSONEq(t, `{"license_id":"`+created.ID+`","valid":false}`, rec.Body.String())

	rec = do(http.MethodPatch, "/api/v1/licenses/"+created.ID+"/suspend", "", headers)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(http.MethodPatch, "/api/v1/licenses/"+created.ID+"/extend", `{"expires_at":"2020-01-01T00:00:00Z"}`, headers)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPatch, "/api/v1/licenses/"+created.ID+"/features", `{"features":{"sso":true}}`, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodPatch, "/api/v1/licenses/"+created.ID+"/features", `{}`, headers)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodGet, "/api/v1/licenses/"+created.ID+"/token", "", readOnly)
	require.Equal(t, http.StatusOK, rec.Code)
	var token TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))

	rec = do(http.MethodPost, "/api/v1/license-tokens/verify", `{"token":"`+token.Token+`"}`, readOnly)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"current":true`)

	rec = do(http.MethodGet, "/api/v1/licenses/"+created.ID+"/entitlements/sso", "", readOnly)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"granted":false`)

	rec = do(http.MethodGet, "/api/v1/organizations/"+org.ID+"/licenses", "", readOnly)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), created.ID)

	rec = do(http.MethodGet, "/api/v1/licenses?status=SUSPENDED", "", readOnly)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), created.ID)

	rec = do(http.MethodGet, "/api/v1/licenses", "", readOnly)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPatch, "/api/v1/licenses/"+created.ID+"/revoke", "", headers)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodPatch, "/api/v1/licenses/"+created.ID+"/reactivate", "", headers)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
