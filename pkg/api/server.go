// Package api exposes the registry and organisation store over HTTP for
// the membership UI.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/citylight-dev/congregate/pkg/core/model"
)

// maxServiceDates bounds the ?count parameter on the service-dates
// endpoint to roughly a year of weekly services.
const maxServiceDates = 52

// Registry is the data-access surface the handlers consume. Implemented
// by services.Registry.
type Registry interface {
	GetMembers(ctx context.Context, orgID string) ([]model.Member, error)
	GetServicePlans(ctx context.Context, orgID string) (model.PlanCollection, error)
	CreateServicePlan(ctx context.Context, date string, programs []model.Program, orgID string) error
	UpdateServicePlan(ctx context.Context, originalDate, newDate string, programs []model.Program, orgID string) error
	UpcomingServiceDates(from time.Time, count int) ([]string, error)
	ClearCache()
	CleanupCache() int
}

// OrgDirectory is the organisation admin surface. Implemented by
// orgstore.Store.
type OrgDirectory interface {
	Get(ctx context.Context, orgID string) (model.Organisation, error)
	Create(ctx context.Context, org model.Organisation) error
	Update(ctx context.Context, orgID string, fields map[string]any) error
	ListByOwner(ctx context.Context, ownerUID string) ([]model.Organisation, error)
}

// Handler holds the HTTP handlers and their dependencies.
type Handler struct {
	registry    Registry
	orgs        OrgDirectory
	validate    *validator.Validate
	logger      *zap.Logger
	corsOrigins []string
}

// NewHandler wires the HTTP surface.
func NewHandler(registry Registry, orgs OrgDirectory, logger *zap.Logger, corsOrigins []string) *Handler {
	return &Handler{
		registry:    registry,
		orgs:        orgs,
		validate:    validator.New(),
		logger:      logger,
		corsOrigins: corsOrigins,
	}
}

// Router builds the chi router for the full API surface.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogger(h.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/members", h.handleGetMembers)

		r.Route("/service-plans", func(r chi.Router) {
			r.Get("/", h.handleGetServicePlans)
			r.Post("/", h.handleCreateServicePlan)
			r.Patch("/", h.handleUpdateServicePlan)
		})

		r.Get("/service-dates", h.handleServiceDates)

		r.Route("/cache", func(r chi.Router) {
			r.Post("/clear", h.handleClearCache)
			r.Delete("/cleanup", h.handleCleanupCache)
		})

		r.Route("/organisations", func(r chi.Router) {
			r.Get("/", h.handleListOrganisations)
			r.Post("/", h.handleCreateOrganisation)
			r.Get("/{orgID}", h.handleGetOrganisation)
			r.Patch("/{orgID}", h.handleUpdateOrganisation)
		})
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (h *Handler) handleGetMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.registry.GetMembers(r.Context(), r.URL.Query().Get("orgId"))
	if err != nil {
		h.writeError(w, "getMembers", err)
		return
	}

	writeJSON(w, http.StatusOK, membersResponse{Members: members})
}

func (h *Handler) handleGetServicePlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.registry.GetServicePlans(r.Context(), r.URL.Query().Get("orgId"))
	if err != nil {
		h.writeError(w, "getServicePlans", err)
		return
	}

	writeJSON(w, http.StatusOK, plansResponse{Plans: plans})
}

func (h *Handler) handleCreateServicePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.registry.CreateServicePlan(r.Context(), req.Date, req.Programs, req.OrgID); err != nil {
		h.writeError(w, "createServicePlan", err)
		return
	}

	writeJSON(w, http.StatusCreated, statusResponse{Status: "created"})
}

func (h *Handler) handleUpdateServicePlan(w http.ResponseWriter, r *http.Request) {
	var req updatePlanRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.registry.UpdateServicePlan(r.Context(), req.OriginalDate, req.NewDate, req.Programs, req.OrgID); err != nil {
		h.writeError(w, "updateServicePlan", err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "updated"})
}

func (h *Handler) handleServiceDates(w http.ResponseWriter, r *http.Request) {
	count := 4
	if raw := r.URL.Query().Get("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeRequestError(w, http.StatusBadRequest, "bad_request", "count must be an integer")
			return
		}
		count = parsed
	}
	if count < 1 || count > maxServiceDates {
		h.writeRequestError(w, http.StatusBadRequest, "bad_request", "count must be between 1 and 52")
		return
	}

	dates, err := h.registry.UpcomingServiceDates(time.Now(), count)
	if err != nil {
		h.writeError(w, "serviceDates", err)
		return
	}

	writeJSON(w, http.StatusOK, serviceDatesResponse{Dates: dates})
}

func (h *Handler) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	h.registry.ClearCache()
	writeJSON(w, http.StatusOK, statusResponse{Status: "cleared"})
}

func (h *Handler) handleCleanupCache(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, cleanupResponse{Evicted: h.registry.CleanupCache()})
}

func (h *Handler) handleCreateOrganisation(w http.ResponseWriter, r *http.Request) {
	var req createOrgRequest
	if !h.decode(w, r, &req) {
		return
	}

	org := model.Organisation{
		ID:       req.ID,
		Name:     req.Name,
		OwnerUID: req.OwnerUID,
		SheetURL: req.SheetURL,
		FormURL:  req.FormURL,
	}
	if org.ID == "" {
		org.ID = uuid.NewString()
	}

	if err := h.orgs.Create(r.Context(), org); err != nil {
		h.writeError(w, "createOrganisation", err)
		return
	}

	writeJSON(w, http.StatusCreated, orgResponse{Organisation: org})
}

func (h *Handler) handleGetOrganisation(w http.ResponseWriter, r *http.Request) {
	org, err := h.orgs.Get(r.Context(), chi.URLParam(r, "orgID"))
	if err != nil {
		h.writeError(w, "getOrganisation", err)
		return
	}

	writeJSON(w, http.StatusOK, orgResponse{Organisation: org})
}

func (h *Handler) handleUpdateOrganisation(w http.ResponseWriter, r *http.Request) {
	var req updateOrgRequest
	if !h.decode(w, r, &req) {
		return
	}

	fields := make(map[string]any)
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.SheetURL != nil {
		fields["sheetUrl"] = *req.SheetURL
	}
	if req.FormURL != nil {
		fields["formUrl"] = *req.FormURL
	}
	if len(fields) == 0 {
		h.writeRequestError(w, http.StatusBadRequest, "bad_request", "no fields to update")
		return
	}

	orgID := chi.URLParam(r, "orgID")
	if err := h.orgs.Update(r.Context(), orgID, fields); err != nil {
		h.writeError(w, "updateOrganisation", err)
		return
	}

	org, err := h.orgs.Get(r.Context(), orgID)
	if err != nil {
		h.writeError(w, "updateOrganisation", err)
		return
	}

	writeJSON(w, http.StatusOK, orgResponse{Organisation: org})
}

func (h *Handler) handleListOrganisations(w http.ResponseWriter, r *http.Request) {
	ownerUID := r.URL.Query().Get("ownerUid")
	if ownerUID == "" {
		h.writeRequestError(w, http.StatusBadRequest, "bad_request", "ownerUid query parameter is required")
		return
	}

	orgs, err := h.orgs.ListByOwner(r.Context(), ownerUID)
	if err != nil {
		h.writeError(w, "listOrganisations", err)
		return
	}

	writeJSON(w, http.StatusOK, orgListResponse{Organisations: orgs})
}

// decode parses and validates a JSON request body, writing the error
// response itself when the body is unusable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeRequestError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeRequestError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return false
	}
	return true
}
