package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dawgdevv/bitespeed/internal/logger"
	"github.com/dawgdevv/bitespeed/internal/models"
	"github.com/dawgdevv/bitespeed/internal/service"
)

// Reconciler is the part of the reconciliation service the HTTP layer uses.
type Reconciler interface {
	Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentifyResponse, error)
	ListContacts(ctx context.Context) ([]*models.Contact, error)
}

// IdentifyHandler handles the /identify and /contacts endpoints
type IdentifyHandler struct {
	service Reconciler
	log     *logger.Logger
}

// NewIdentifyHandler creates a new identify handler
func NewIdentifyHandler(svc Reconciler, log *logger.Logger) *IdentifyHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &IdentifyHandler{service: svc, log: log}
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
}

// Handle processes the identify request
func (h *IdentifyHandler) Handle(w http.ResponseWriter, r *http.Request) {
	log := h.log.With("request_id", RequestID(r.Context()))

	var req models.IdentifyRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Debug("invalid identify payload", "error", err)
			writeJSON(w, log, http.StatusBadRequest, errorBody{Error: "invalid JSON"})
			return
		}
	}

	response, err := h.service.Identify(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.Error("identify failed", "kind", service.KindOf(err).String(), "error", err)
			writeJSON(w, log, status, errorBody{Error: "internal server error"})
			return
		}
		writeJSON(w, log, status, errorBody{Error: err.Error()})
		return
	}

	writeJSON(w, log, http.StatusOK, response)
}

// ListContacts returns every stored contact row.
func (h *IdentifyHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	log := h.log.With("request_id", RequestID(r.Context()))

	contacts, err := h.service.ListContacts(r.Context())
	if err != nil {
		log.Error("list contacts failed", "error", err)
		writeJSON(w, log, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		return
	}
	writeJSON(w, log, http.StatusOK, contacts)
}

// statusFor maps a reconciliation error kind onto an HTTP status.
func statusFor(err error) int {
	switch service.KindOf(err) {
	case service.KindValidation:
		return http.StatusBadRequest
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, log *logger.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn("error encoding response", "error", err)
	}
}
