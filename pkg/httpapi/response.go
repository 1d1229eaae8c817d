package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"licensing-controlplane/pkg/db/pagination"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/logger"

	"go.uber.org/zap"
)

const HeaderUserID = "X-USER-ID"

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

// WriteError renders err as the BaseError JSON body. Errors outside the
// taxonomy are reported as internal without their message.
func WriteError(w http.ResponseWriter, err error) {
	var be errutil.BaseError
	if !errors.As(err, &be) {
		zap.L().Error("unhandled error", zap.Error(err))
		be = errutil.Internal("internal error", err).(errutil.BaseError)
	}
	WriteJSON(w, be.Code.HTTPStatus(), be.JSON())
}

// Handle adapts a handler returning an error to a HandlePath callback.
func Handle(fn func(w http.ResponseWriter, r *http.Request, params map[string]string) error) func(http.ResponseWriter, *http.Request, map[string]string) {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		if err := fn(w, r, params); err != nil {
			if errutil.StatusOf(err) == errutil.StatusInternal {
				logger.WithTrace(r.Context()).Error("request failed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err))
			}
			WriteError(w, err)
		}
	}
}

// DecodeJSON reads the request body into v. Unknown fields are rejected.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errutil.BadRequest("invalid request body", errors.Join(errutil.ErrInvalidArgument, err))
	}
	return nil
}

// Actor returns the X-USER-ID header required by mutating routes.
func Actor(r *http.Request) (string, error) {
	actor := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if actor == "" {
		return "", errutil.BadRequest("X-USER-ID header is required", errutil.ErrInvalidArgument)
	}
	return actor, nil
}

// Pagination reads the cursor and limit query parameters.
func Pagination(r *http.Request) (pagination.Pagination, error) {
	q := r.URL.Query()
	p := pagination.Pagination{Cursor: q.Get("cursor")}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return p, errutil.BadRequest("limit must be a positive number", errutil.ErrInvalidArgument)
		}
		p.Limit = limit
	}
	return p, nil
}
