package organization

import (
	"net/http"
	"strconv"

	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/httpapi"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
)

func registerHandlers(mux *runtime.ServeMux, s *Service) error {
	routes := []struct {
		method  string
		path    string
		handler func(http.ResponseWriter, *http.Request, map[string]string) error
	}{
		{http.MethodPost, "/api/v1/organizations", s.handleCreate},
		{http.MethodGet, "/api/v1/organizations", s.handleList},
		{http.MethodGet, "/api/v1/organizations/{id}", s.handleGet},
		{http.MethodPut, "/api/v1/organizations/{id}", s.handleUpdate},
		{http.MethodPatch, "/api/v1/organizations/{id}/activate", s.handleActivate},
		{http.MethodPatch, "/api/v1/organizations/{id}/deactivate", s.handleDeactivate},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, httpapi.Handle(rt.handler)); err != nil {
			zap.L().Error("failed to register organization http handler", zap.String("path", rt.path), zap.Error(err))
			return err
		}
	}
	return nil
}

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	actor, err := httpapi.Actor(r)
	if err != nil {
		return err
	}

	var req CreateParams
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		return err
	}

	org, err := s.Create(r.Context(), req, actor)
	if err != nil {
		return err
	}

	httpapi.WriteJSON(w, http.StatusCreated, org)
	return nil
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	q := r.URL.Query()

	if plan := q.Get("plan"); plan != "" {
		orgs, err := s.ListByPlan(r.Context(), Plan(plan))
		if err != nil {
			return err
		}
		httpapi.WriteJSON(w, http.StatusOK, ListResult{Organizations: orgs})
		return nil
	}

	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil || !active {
			return errutil.BadRequest("active only supports true", errutil.ErrInvalidArgument)
		}
		orgs, err := s.ListActive(r.Context())
		if err != nil {
			return err
		}
		httpapi.WriteJSON(w, http.StatusOK, ListResult{Organizations: orgs})
		return nil
	}

	page, err := httpapi.Pagination(r)
	if err != nil {
		return err
	}

	res, err := s.List(r.Context(), page)
	if err != nil {
		return err
	}

	httpapi.WriteJSON(w, http.StatusOK, res)
	return nil
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	org, err := s.FindByID(r.Context(), params["id"])
	if err != nil {
		return err
	}

	httpapi.WriteJSON(w, http.StatusOK, org)
	return nil
}

func (s *Service) handleUpdate(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	actor, err := httpapi.Actor(r)
	if err != nil {
		return err
	}

	var req UpdateParams
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		return err
	}

	org, err := s.Update(r.Context(), params["id"], req, actor)
	if err != nil {
		return err
	}

	httpapi.WriteJSON(w, http.StatusOK, org)
	return nil
}

func (s *Service) handleActivate(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	return s.handleSetActive(w, r, params["id"], true)
}

func (s *Service) handleDeactivate(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	return s.handleSetActive(w, r, params["id"], false)
}

func (s *Service) handleSetActive(w http.ResponseWriter, r *http.Request, id string, active bool) error {
	actor, err := httpapi.Actor(r)
	if err != nil {
		return err
	}

	org, err := s.setActive(r.Context(), id, active, actor)
	if err != nil {
		return err
	}

	httpapi.WriteJSON(w, http.StatusOK, org)
	return nil
}
