package campaign

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/outreach/internal/pkg/httputil"
)

// Handlers exposes the campaign lifecycle API.
type Handlers struct {
	orchestrator *Orchestrator
}

// NewHandlers creates campaign HTTP handlers.
func NewHandlers(orchestrator *Orchestrator) *Handlers {
	return &Handlers{orchestrator: orchestrator}
}

// Routes mounts the campaign lifecycle endpoints.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/campaigns", h.HandleCreate)
	r.Post("/campaigns/{id}/start", h.HandleStart)
	r.Post("/campaigns/{id}/pause", h.HandlePause)
	r.Post("/campaigns/{id}/complete", h.HandleComplete)
	return r
}

// orgID extracts the tenant id set by the upstream auth layer.
func orgID(r *http.Request) uuid.UUID {
	id, _ := uuid.Parse(r.Header.Get("X-Organization-ID"))
	return id
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case IsValidation(err):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, ErrNotFound):
		httputil.NotFound(w, "not found")
	case errors.Is(err, ErrInvalidTransition):
		httputil.Error(w, http.StatusConflict, err.Error())
	default:
		if ae, ok := IsAdmission(err); ok {
			httputil.JSON(w, http.StatusPaymentRequired, map[string]interface{}{
				"error":     ae.Error(),
				"required":  ae.Required,
				"remaining": ae.Remaining,
				"shortfall": ae.Shortfall(),
			})
			return
		}
		httputil.InternalError(w, err)
	}
}

// HandleCreate creates a campaign in draft.
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	org := orgID(r)
	if org == uuid.Nil {
		httputil.Error(w, http.StatusUnauthorized, "organization not found")
		return
	}

	var req CreateCampaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	c, err := h.orchestrator.Create(r.Context(), org, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.Created(w, c)
}

func campaignID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "invalid campaign id")
		return uuid.Nil, false
	}
	return id, true
}

// HandleStart starts or resumes a campaign and returns the estimated
// completion date.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	org := orgID(r)
	if org == uuid.Nil {
		httputil.Error(w, http.StatusUnauthorized, "organization not found")
		return
	}
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	result, err := h.orchestrator.Start(r.Context(), org, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.OK(w, result)
}

// HandlePause pauses a running campaign.
func (h *Handlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	org := orgID(r)
	if org == uuid.Nil {
		httputil.Error(w, http.StatusUnauthorized, "organization not found")
		return
	}
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	c, err := h.orchestrator.Pause(r.Context(), org, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.OK(w, c)
}

// HandleComplete marks a campaign completed.
func (h *Handlers) HandleComplete(w http.ResponseWriter, r *http.Request) {
	org := orgID(r)
	if org == uuid.Nil {
		httputil.Error(w, http.StatusUnauthorized, "organization not found")
		return
	}
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	c, err := h.orchestrator.Complete(r.Context(), org, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.OK(w, c)
}
