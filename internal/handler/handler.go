// Package handler exposes the reservation service over HTTP: chi handlers,
// middleware and the route table.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sayuricruzv/project-YeyosFitness/internal/auth"
	"github.com/sayuricruzv/project-YeyosFitness/internal/model"
	"github.com/sayuricruzv/project-YeyosFitness/internal/repository"
	"github.com/sayuricruzv/project-YeyosFitness/internal/service"
)

// ClassHandler holds all HTTP handlers for the reservation API.
type ClassHandler struct {
	svc    *service.ReservationService
	checks *CheckInSigner
}

// NewClassHandler constructs a ClassHandler.
func NewClassHandler(svc *service.ReservationService, checks *CheckInSigner) *ClassHandler {
	return &ClassHandler{svc: svc, checks: checks}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Code: code})
}

// writeServiceError maps the error taxonomy onto HTTP statuses. Each kind asks
// the client for a different action, so none of them are folded together.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := service.Code(err)
	switch code {
	case service.CodeFull:
		writeError(w, http.StatusConflict, code, "class is fully booked")
	case service.CodeDuplicate:
		writeError(w, http.StatusConflict, code, "already exists: "+err.Error())
	case service.CodeNotFound:
		writeError(w, http.StatusNotFound, code, "not found")
	case service.CodeInvalidState:
		writeError(w, http.StatusConflict, code, err.Error())
	case service.CodeTimeout:
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, code, "class is busy, try again")
	case service.CodeUnavailable:
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, code, "service temporarily unavailable")
	case service.CodeInvalidInput:
		writeError(w, http.StatusBadRequest, code, err.Error())
	case service.CodeForbidden:
		writeError(w, http.StatusForbidden, code, "not allowed")
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, service.CodeInternal, "internal error")
	}
}

// decodeJSON decodes an optional JSON body. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// actingUser resolves whose behalf the request is made on. Only admins may
// name another user.
func actingUser(r *http.Request, requested string) (string, error) {
	id := identity(r)
	if requested == "" || requested == id.UserID {
		return id.UserID, nil
	}
	if id.IsAdmin() {
		return requested, nil
	}
	return "", fmt.Errorf("acting for another user: %w", service.ErrForbidden)
}

// ownedReservation loads a reservation the caller may act on.
func (h *ClassHandler) ownedReservation(r *http.Request) (*model.Reservation, error) {
	res, err := h.svc.GetReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	id := identity(r)
	if res.UserID != id.UserID && !id.IsAdmin() {
		return nil, fmt.Errorf("reservation of another user: %w", service.ErrForbidden)
	}
	return res, nil
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339 or YYYY-MM-DD", service.ErrInvalidInput, name)
	}
	return t, nil
}

// ─── Classes ──────────────────────────────────────────────────────────────────

// ListClasses handles GET /classes?from=&to=
// Returns the classes in the range with their availability.
func (h *ClassHandler) ListClasses(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	classes, err := h.svc.ListClasses(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classes)
}

// GetClass handles GET /classes/{id}
func (h *ClassHandler) GetClass(w http.ResponseWriter, r *http.Request) {
	class, err := h.svc.GetClass(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, class)
}

// PublishClass handles POST /classes (admin)
func (h *ClassHandler) PublishClass(w http.ResponseWriter, r *http.Request) {
	var req model.PublishClassRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, service.CodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	class, err := h.svc.PublishClass(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, class)
}

// ClassRoster handles GET /classes/{id}/roster (admin)
func (h *ClassHandler) ClassRoster(w http.ResponseWriter, r *http.Request) {
	roster, err := h.svc.ClassRoster(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roster)
}

// ─── Reservations ─────────────────────────────────────────────────────────────

// Reserve handles POST /classes/{id}/reservations
// Takes a seat; with waitlist_on_full a full class queues the caller instead
// and answers 202 with the waitlist entry.
func (h *ClassHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req model.ReserveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, service.CodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	userID, err := actingUser(r, req.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	classID := chi.URLParam(r, "id")

	res, err := h.svc.Reserve(r.Context(), userID, classID)
	if errors.Is(err, repository.ErrClassFull) && req.WaitlistOnFull {
		entry, err := h.svc.JoinWaitlist(r.Context(), userID, classID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, entry)
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetReservation handles GET /reservations/{id}
func (h *ClassHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.ownedReservation(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelReservation handles POST /reservations/{id}/cancel
func (h *ClassHandler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	owned, err := h.ownedReservation(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	res, err := h.svc.CancelReservation(r.Context(), owned.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// MarkAttendance handles POST /reservations/{id}/attendance (admin)
func (h *ClassHandler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	var req model.AttendanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, service.CodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.Attended == nil {
		writeError(w, http.StatusBadRequest, service.CodeInvalidInput, "attended is required")
		return
	}

	res, err := h.svc.MarkAttendance(r.Context(), chi.URLParam(r, "id"), *req.Attended)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListMyReservations handles GET /me/reservations
func (h *ClassHandler) ListMyReservations(w http.ResponseWriter, r *http.Request) {
	userID, err := actingUser(r, r.URL.Query().Get("user_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	list, err := h.svc.ListMyReservations(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	// Return an empty array rather than null for better client compatibility.
	if list == nil {
		list = []model.Reservation{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ─── Waitlist ─────────────────────────────────────────────────────────────────

// JoinWaitlist handles POST /classes/{id}/waitlist
func (h *ClassHandler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	var req model.WaitlistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, service.CodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	userID, err := actingUser(r, req.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	entry, err := h.svc.JoinWaitlist(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// LeaveWaitlist handles DELETE /classes/{id}/waitlist
// Idempotent: leaving a waitlist the caller is not on still answers 204.
func (h *ClassHandler) LeaveWaitlist(w http.ResponseWriter, r *http.Request) {
	userID, err := actingUser(r, r.URL.Query().Get("user_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if err := h.svc.LeaveWaitlist(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMyWaitlist handles GET /me/waitlist
func (h *ClassHandler) ListMyWaitlist(w http.ResponseWriter, r *http.Request) {
	userID, err := actingUser(r, r.URL.Query().Get("user_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	entries, err := h.svc.ListMyWaitlist(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.WaitlistEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// PromoteWaitlist handles POST /classes/{id}/waitlist/promote (admin)
// Retries a promotion that failed after a cancellation.
func (h *ClassHandler) PromoteWaitlist(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.PromoteNext(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.PromotionResult{Promoted: res})
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck returns a GET /health handler running the given probes.
func HealthCheck(probes ...func(r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, probe := range probes {
			if err := probe(r); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
