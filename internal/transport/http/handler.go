// Package http exposes identity resolution over an authenticated JSON API
// plus health and metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rolodex/internal/recipient/models"
	"rolodex/internal/recipient/resolve"
	"rolodex/internal/recipient/service"
	"rolodex/pkg/domain"
	"rolodex/pkg/platform/sentinel"
)

// Resolver is the slice of the orchestrator the transport needs.
type Resolver interface {
	Resolve(ctx context.Context, req service.Request) (service.Result, error)
	Lookup(ctx context.Context, id domain.RecipientID) (models.Record, error)
}

type Handler struct {
	resolver Resolver
	tokens   *TokenService
	logger   *slog.Logger
}

func NewHandler(resolver Resolver, tokens *TokenService, logger *slog.Logger) *Handler {
	return &Handler{resolver: resolver, tokens: tokens, logger: logger}
}

// Router builds the full route tree.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(h.tokens, h.logger))
		r.Post("/v1/recipients/resolve", h.handleResolve)
		r.Get("/v1/recipients/{id}", h.handleGet)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type resolveRequest struct {
	E164        string `json:"e164,omitempty"`
	PNI         string `json:"pni,omitempty"`
	ACI         string `json:"aci,omitempty"`
	PNIVerified bool   `json:"pni_verified,omitempty"`
	ChangeSelf  bool   `json:"change_self,omitempty"`
}

type resolveResponse struct {
	ID      int64    `json:"id"`
	Outcome string   `json:"outcome"`
	Retired []int64  `json:"retired,omitempty"`
	Trace   []string `json:"trace,omitempty"`
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := buildRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.resolver.Resolve(ctx, req)
	switch {
	case errors.Is(err, resolve.ErrNoIdentifiers):
		writeError(w, http.StatusBadRequest, "at least one identifier is required")
		return
	case errors.Is(err, sentinel.ErrConflict):
		writeError(w, http.StatusConflict, "resolution conflicted, retry")
		return
	case err != nil:
		h.logger.ErrorContext(ctx, "resolve failed",
			slog.String("request_id", middleware.GetReqID(ctx)),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "resolution failed")
		return
	}

	resp := resolveResponse{
		ID:      int64(result.ID),
		Outcome: string(result.Outcome),
	}
	for _, retired := range result.Retired {
		resp.Retired = append(resp.Retired, int64(retired))
	}
	for _, tag := range result.Trace {
		resp.Trace = append(resp.Trace, string(tag))
	}
	writeJSON(w, http.StatusOK, resp)
}

type recordResponse struct {
	ID         int64  `json:"id"`
	ACI        string `json:"aci,omitempty"`
	PNI        string `json:"pni,omitempty"`
	E164       string `json:"e164,omitempty"`
	Registered bool   `json:"registered"`
	Blocked    bool   `json:"blocked"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid recipient id")
		return
	}

	rec, err := h.resolver.Lookup(ctx, domain.RecipientID(id))
	if errors.Is(err, sentinel.ErrNotFound) {
		writeError(w, http.StatusNotFound, "recipient not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "lookup failed",
			slog.String("request_id", middleware.GetReqID(ctx)),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	resp := recordResponse{
		ID:         int64(rec.ID),
		Registered: rec.Registered,
		Blocked:    rec.Blocked,
		GivenName:  rec.ProfileGivenName,
		FamilyName: rec.ProfileFamilyName,
	}
	if !rec.ACI.IsNil() {
		resp.ACI = rec.ACI.String()
	}
	if !rec.PNI.IsNil() {
		resp.PNI = rec.PNI.String()
	}
	if !rec.E164.IsNil() {
		resp.E164 = string(rec.E164)
	}
	writeJSON(w, http.StatusOK, resp)
}

func buildRequest(body resolveRequest) (service.Request, error) {
	var req service.Request
	if body.E164 != "" {
		e164, err := domain.ParseE164(body.E164)
		if err != nil {
			return service.Request{}, err
		}
		req.E164 = e164
	}
	if body.PNI != "" {
		pni, err := domain.ParsePNI(body.PNI)
		if err != nil {
			return service.Request{}, err
		}
		req.PNI = pni
	}
	if body.ACI != "" {
		aci, err := domain.ParseACI(body.ACI)
		if err != nil {
			return service.Request{}, err
		}
		req.ACI = aci
	}
	req.PNIVerified = body.PNIVerified
	req.ChangeSelf = body.ChangeSelf
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
