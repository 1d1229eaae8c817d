package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/tenant"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestHandlerBindsTenant(t *testing.T) {
	mux := runtime.NewServeMux()
	require.NoError(t, mux.HandlePath(http.MethodGet, "/whoami", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		id, ok := tenant.FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(id))
	}))
	handler := NewHandler(mux)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(tenant.HeaderTenantID, "tenant-a")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "tenant-a", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(tenant.HeaderTenantID, "  ")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNewHttpServer(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Addr = "0"

	srv := NewHttpServer(Params{Config: cfg, Handler: runtime.NewServeMux()})
	require.Equal(t, ":0", srv.server.Addr)
	require.Nil(t, srv.server.TLSConfig)

	_, err := srv.certificate(nil)
	require.Error(t, err)
}

func TestNewServerOptions(t *testing.T) {
	cfg := &config.Config{}

	opts, err := NewServerOptions(OptionParams{Config: cfg})
	require.NoError(t, err)
	require.Len(t, opts, 3)
	require.NotNil(t, NewGRPCServer(opts))

	cfg.TLS.Enable = true
	cfg.TLS.CertPath = "/nonexistent/cert.pem"
	cfg.TLS.KeyPath = "/nonexistent/key.pem"
	_, err = NewServerOptions(OptionParams{Config: cfg})
	require.Error(t, err)
}

func TestInterceptorLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := InterceptorLogger(zap.New(core))

	logger.Log(context.Background(), logging.LevelWarn, "finished call", "grpc.code", "NotFound", "grpc.time_ms", 12, "ok", false)

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "finished call", entries[0].Message)
	require.Equal(t, zap.WarnLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	require.Equal(t, "NotFound", fields["grpc.code"])
	require.EqualValues(t, 12, fields["grpc.time_ms"])
	require.Equal(t, false, fields["ok"])
}
