package license

import (
	"context"
	"net/http"
	"strconv"
	"time"

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
		{http.MethodPost, "/api/v1/licenses", s.handleCreate},
		{http.MethodGet, "/api/v1/licenses", s.handleList},
		{http.MethodGet, "/api/v1/licenses/{id}", s.handleGet},
		{http.MethodGet, "/api/v1/organizations/{organization_id}/licenses", s.handleListByOrganization},
		{http.MethodPatch, "/api/v1/licenses/{id}/suspend", s.transition(s.Suspend)},
		{http.MethodPatch, "/api/v1/licenses/{id}/reactivate", s.transition(s.Reactivate)},
		{http.MethodPatch, "/api/v1/licenses/{id}/revoke", s.transition(s.Revoke)},
		{http.MethodPatch, "/api/v1/licenses/{id}/expire", s.transition(s.Expire)},
		{http.MethodPatch, "/api/v1/licenses/{id}/extend", s.handleExtend},
		{http.MethodPatch, "/api/v1/licenses/{id}/features", s.handleUpdateFeatures},
		{http.MethodGet, "/api/v1/licenses/{id}/token", s.handleToken},
		{http.MethodPost, "/api/v1/licenses/{id}/verify", s.handleVerify},
		{http.MethodGet, "/api/v1/licenses/{id}/entitlements/{feature}", s.handleEntitlement},
		{http.MethodPost, "/api/v1/license-tokens/verify", s.handleVerifyToken},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, httpapi.Handle(rt.handler)); err != nil {
			zap.L().Error("failed to register license http handler", zap.String("path", rt.path), zap.Error(err))
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

	l, err := s.Create(r.Context(), req, actor)
	if err != nil {
		return err
	}

	httpapi.WriteJSON(w, http.StatusCreated, l)
	return nil
}

// handleList serves the filtered listings. Exactly one filter is applied, in
// the order status, customer_email, expiring_before, active.
func (s *Service) handleList(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	q := r.URL.Query()
	ctx := r.Context()

	var (
		licenses []*License
		err      error
	)
	switch {
	case q.Get("status") != "":
		licenses, err = s.ListByStatus(ctx, Status(q.Get("status")))
	case q.Get("customer_email") != "":
		licenses, err = s.ListByCustomerEmail(ctx, q.Get("customer_email"))
	case q.Get("expiring_before") != "":
		cutoff, perr := time.Parse(time.RFC3339, q.Get("expiring_before"))
		if perr != nil {
			return errutil.BadRequest("expiring_before must be an RFC3339 timestamp", errutil.ErrInvalidArgument)
		}
		licenses, err = s.ListExpiringBefore(ctx, cutoff)
	case q.Get("active") != "":
		active, perr := strconv.ParseBool(q.Get("active"))
		if perr != nil || !active {
			return errutil.BadRequest("active only supports true", errutil.ErrInvalidArgument)
		}
		licenses, err = s.ListActive(ctx)
	default:
		return errutil.BadRequest("a status, customer_email, expiring_before or active filter is required", errutil.ErrInvalidArgument)
	}
	if err != nil {
		return err
	}

	httpapi.WriteJSON(w, http.StatusOK, ListResult{Licenses: licenses})
	return nil
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	l, err := s.FindByID(r.Context(), params["id"])
	if err != nil {
		return err
	}

	httpapi.WriteJSON(w, http.StatusOK, l)
	return nil
}

func (s *Service) handleListByOrganization(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	page, err := httpapi.Pagination(r)
	if err != nil {
		return err
	}

	res, err := s.ListByOrganization(r.Context(), params["organization_id"], page)
	if err != nil {
		return err
	}

	httpapi.WriteJSON(w, http.StatusOK, res)
	return nil
}

func (s *Service) transition(fn func(ctx context.Context, id, actorID string) (*License, error)) func(http.ResponseWriter, *http.Request, map[string]string) error {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) error {
		actor, err := httpapi.Actor(r)
		if err != nil {
			return err
		}

		l, err := fn(r.Context(), params["id"], actor)
		if err != nil {
			return err
		}

		httpapi.WriteJSON(w, http.StatusOK, l)
		return nil
	}
}

type ExtendRequest struct {
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Service) handleExtend(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	actor, err := httpapi.Actor(r)
	if err != nil {
		return err
	}

	var req ExtendRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		return err
	}
	if req.ExpiresAt.IsZero() {
		return errutil.BadRequest("expires_at is required", errutil.ErrInvalidArgument)
	}

	l, err := s.Extend(r.Context(), params["id"], req.ExpiresAt, actor)
	if err != nil {
		return err
	}

	httpapi.WriteJSON(w, http.StatusOK, l)
	return nil
}

type FeaturesRequest struct {
	Features map[string]any `json:"features"`
}

func (s *Service) handleUpdateFeatures(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	actor, err := httpapi.Actor(r)
	if err != nil {
		return err
	}

	var req FeaturesRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		return err
	}

	l, err := s.UpdateFeatures(r.Context(), params["id"], req.Features, actor)
	if err != nil {
		return err
	}

	httpapi.WriteJSON(w, http.StatusOK, l)
	return nil
}

type TokenResponse struct {
	LicenseID string `json:"license_id"`
	Token     string `json:"token"`
}

func (s *Service) handleToken(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	token, err := s.GetSignedToken(r.Context(), params["id"])
	if err != nil {
		return err
	}

	httpapi.WriteJSON(w, http.StatusOK, TokenResponse{LicenseID: params["id"], Token: token})
	return nil
}

type VerifyRequest struct {
	Signature string `json:"signature"`
}

type VerifyResponse struct {
	LicenseID string `json:"license_id"`
	Valid     bool   `json:"valid"`
}

func (s *Service) handleVerify(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	var req VerifyRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		return err
	}

	ok, err := s.Verify(r.Context(), params["id"], req.Signature)
	if err != nil {
		return err
	}

	httpapi.WriteJSON(w, http.StatusOK, VerifyResponse{LicenseID: params["id"], Valid: ok})
	return nil
}

func (s *Service) handleEntitlement(w http.ResponseWriter, r *http.Request, params map[string]string) error {
	e, err := s.CheckEntitlement(r.Context(), params["id"], params["feature"])
	if err != nil {
		return err
	}

	httpapi.WriteJSON(w, http.StatusOK, e)
	return nil
}

type VerifyTokenRequest struct {
	Token string `json:"token"`
}

func (s *Service) handleVerifyToken(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	var req VerifyTokenRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		return err
	}

	res, err := s.VerifyToken(r.Context(), req.Token)
	if err != nil {
		return err
	}

	httpapi.WriteJSON(w, http.StatusOK, res)
	return nil
}
