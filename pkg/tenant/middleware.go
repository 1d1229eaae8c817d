package tenant

import (
	"context"
	"net/http"

	"licensing-controlplane/pkg/errutil"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	HeaderTenantID   = "X-TENANT-ID"
	MetadataTenantID = "x-tenant-id"
)

// ErrorWriter renders an error produced by the middleware.
type ErrorWriter func(w http.ResponseWriter, err error)

// Middleware binds the X-TENANT-ID header to the request context. Requests
// without the header pass through untouched so that unscoped routes
// (health checks) keep working; data routes fail later with ErrTenantNotSet.
func Middleware(onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, present := r.Header[http.CanonicalHeaderKey(HeaderTenantID)]
			if !present {
				next.ServeHTTP(w, r)
				return
			}

			var id string
			if len(raw) > 0 {
				id = raw[0]
			}

			ctx, err := WithTenant(r.Context(), id)
			if err != nil {
				zap.L().Warn("rejected request with blank tenant header", zap.String("path", r.URL.Path))
				onError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UnaryServerInterceptor binds the x-tenant-id metadata to the handler
// context.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return handler(ctx, req)
		}

		ids := md.Get(MetadataTenantID)
		if len(ids) == 0 {
			return handler(ctx, req)
		}

		ctx, err = WithTenant(ctx, ids[0])
		if err != nil {
			return nil, errutil.ToGRPCError(err)
		}

		return handler(ctx, req)
	}
}
