package audit

import (
	"net/http"
	"time"

	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/httpapi"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
)

func registerHandlers(mux *runtime.ServeMux, s *Service) error {
	if err := mux.HandlePath(http.MethodGet, "/api/v1/audit-logs", httpapi.Handle(s.handleList)); err != nil {
		zap.L().Error("failed to register audit http handler", zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	q := r.URL.Query()

	page, err := httpapi.Pagination(r)
	if err != nil {
		return err
	}

	p := ListParams{
		EntityType: EntityType(q.Get("entity_type")),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
		Action:     Action(q.Get("action")),
		Pagination: page,
	}

	for key, dst := range map[string]*time.Time{"from": &p.From, "to": &p.To} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return errutil.BadRequest(key+" must be an RFC3339 timestamp", errutil.ErrInvalidArgument)
			}
			*dst = t
		}
	}

	res, err := s.List(r.Context(), p)
	if err != nil {
		return err
	}

	httpapi.WriteJSON(w, http.StatusOK, res)
	return nil
}
