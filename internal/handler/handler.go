// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/signup-sheets/internal/i18n"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/ledger"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/model"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/service"
)

const defaultHeartbeat = 25 * time.Second

// EventHandler holds all HTTP handlers for the signup sheet API.
type EventHandler struct {
	svc       *service.EventService
	tr        *i18n.Translator
	heartbeat time.Duration
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *service.EventService, tr *i18n.Translator) *EventHandler {
	return &EventHandler{svc: svc, tr: tr, heartbeat: defaultHeartbeat}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeError maps a service error to a status code and a localized message.
func (h *EventHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, key := classify(err)
	var data map[string]any
	if key == i18n.KeyInvalidInput {
		data = map[string]any{"Detail": strings.TrimPrefix(err.Error(), model.ErrInvalidInput.Error()+": ")}
	}
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, model.ErrorResponse{
		Error: h.tr.T(r.Header.Get("Accept-Language"), key, data),
		Code:  strings.TrimPrefix(key, "error."),
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, i18n.KeyInvalidInput
	case errors.Is(err, model.ErrEventNotFound):
		return http.StatusNotFound, i18n.KeyEventNotFound
	case errors.Is(err, model.ErrNameNotFound):
		return http.StatusNotFound, i18n.KeyNameNotFound
	case errors.Is(err, model.ErrDuplicateName):
		return http.StatusConflict, i18n.KeyDuplicateName
	case errors.Is(err, model.ErrIDGenerationExhausted):
		return http.StatusServiceUnavailable, i18n.KeyIDExhausted
	case errors.Is(err, model.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, i18n.KeyStorageUnavailable
	default:
		return http.StatusInternalServerError, i18n.KeyInternal
	}
}

func (h *EventHandler) eventResponse(detail *model.EventDetail) model.EventResponse {
	signups := ledger.Sorted(detail.Signups)
	confirmed, waitlisted := ledger.Partition(signups, detail.Event.Capacity)
	return model.EventResponse{
		Event:      detail.Event,
		Signups:    signups,
		Confirmed:  confirmed,
		Waitlisted: waitlisted,
		IsFull:     ledger.IsFull(signups, detail.Event.Capacity),
		Viewers:    h.svc.SubscriberCount(detail.Event.ID),
	}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, invalidBody(err))
		return
	}

	event, err := h.svc.CreateEvent(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
// Returns event summaries, newest first.
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.eventResponse(detail))
}

// DeleteEvent handles DELETE /events/{id}
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddSignup handles POST /events/{id}/signups
// A full event still accepts the name onto its waitlist.
func (h *EventHandler) AddSignup(w http.ResponseWriter, r *http.Request) {
	var req model.SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, invalidBody(err))
		return
	}

	detail, err := h.svc.AddSignup(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.eventResponse(detail))
}

// RemoveSignup handles DELETE /events/{id}/signups
func (h *EventHandler) RemoveSignup(w http.ResponseWriter, r *http.Request) {
	var req model.SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, invalidBody(err))
		return
	}

	detail, err := h.svc.RemoveSignup(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.eventResponse(detail))
}

func invalidBody(err error) error {
	return fmt.Errorf("%w: request body: %v", model.ErrInvalidInput, err)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
