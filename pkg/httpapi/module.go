package httpapi

import (
	"net/http"

	"licensing-controlplane/pkg/health"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("httpapi",
	health.Module,
	fx.Invoke(RegisterHealthEndpoints),
)

// RegisterHealthEndpoints serves /healthz and /readyz. Neither needs a tenant.
func RegisterHealthEndpoints(mux *runtime.ServeMux, checker *health.Checker) error {
	if err := mux.HandlePath(http.MethodGet, "/healthz", func(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
		WriteJSON(w, http.StatusOK, checker.Liveness())
	}); err != nil {
		zap.L().Error("failed to register health endpoint", zap.Error(err))
		return err
	}

	if err := mux.HandlePath(http.MethodGet, "/readyz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		h := checker.Readiness(r.Context())
		if !h.Healthy() {
			zap.L().Warn("readiness check failed", zap.Any("deps", h.Deps))
			WriteJSON(w, http.StatusServiceUnavailable, h)
			return
		}
		WriteJSON(w, http.StatusOK, h)
	}); err != nil {
		zap.L().Error("failed to register readiness endpoint", zap.Error(err))
		return err
	}

	return nil
}
