package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cabinethq/scheduling-platform/internal/appointments"
	"github.com/cabinethq/scheduling-platform/internal/tenancy"
	"github.com/cabinethq/scheduling-platform/pkg/logging"
)

// AppointmentsHandler exposes the appointment lifecycle over HTTP.
type AppointmentsHandler struct {
	service *appointments.Service
	logger  *logging.Logger
}

// NewAppointmentsHandler creates a new appointments handler.
func NewAppointmentsHandler(service *appointments.Service, logger *logging.Logger) *AppointmentsHandler {
	if service == nil {
		panic("handlers: appointments service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentsHandler{
		service: service,
		logger:  logger,
	}
}

// AppointmentResponse represents an appointment in API responses.
type AppointmentResponse struct {
	ID                  string  `json:"id"`
	PatientID           string  `json:"patient_id"`
	PractitionerID      *string `json:"practitioner_id,omitempty"`
	Start               string  `json:"start"`
	End                 string  `json:"end"`
	Timezone            string  `json:"timezone"`
	DurationMinutes     int     `json:"duration_minutes"`
	ServiceType         string  `json:"service_type"`
	Title               string  `json:"title,omitempty"`
	Notes               string  `json:"notes,omitempty"`
	Price               string  `json:"price,omitempty"`
	Status              string  `json:"status"`
	CancellationReason  string  `json:"cancellation_reason,omitempty"`
	RescheduledCount    int     `json:"rescheduled_count"`
	OriginalScheduledAt *string `json:"original_scheduled_at,omitempty"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

func toAppointmentResponse(a *appointments.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:                 a.ID.String(),
		PatientID:          a.PatientID.String(),
		Start:              a.StartUTC.Format(time.RFC3339),
		End:                a.EndUTC.Format(time.RFC3339),
		Timezone:           a.Timezone,
		DurationMinutes:    a.DurationMinutes,
		ServiceType:        string(a.ServiceType),
		Title:              a.Title,
		Notes:              a.Notes,
		Price:              a.Price,
		Status:             string(a.Status),
		CancellationReason: a.CancellationReason,
		RescheduledCount:   a.RescheduledCount,
		CreatedAt:          a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          a.UpdatedAt.Format(time.RFC3339),
	}
	if a.PractitionerID != nil {
		s := a.PractitionerID.String()
		resp.PractitionerID = &s
	}
	if a.OriginalScheduledAt != nil {
		s := a.OriginalScheduledAt.Format(time.RFC3339)
		resp.OriginalScheduledAt = &s
	}
	return resp
}

type createAppointmentRequest struct {
	PatientID      string    `json:"patient_id"`
	PractitionerID string    `json:"practitioner_id,omitempty"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Timezone       string    `json:"timezone,omitempty"`
	ServiceType    string    `json:"service_type"`
	Title          string    `json:"title,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	Price          string    `json:"price,omitempty"`
}

// Create books a new appointment.
// POST /appointments
func (h *AppointmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var body createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	patientID, err := uuid.Parse(body.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "patient_id must be a UUID")
		return
	}
	req := appointments.CreateRequest{
		PatientID:   patientID,
		Start:       body.Start.UTC(),
		End:         body.End.UTC(),
		Timezone:    body.Timezone,
		ServiceType: appointments.ServiceType(body.ServiceType),
		Title:       body.Title,
		Notes:       body.Notes,
		Price:       body.Price,
	}
	if body.PractitionerID != "" {
		practitionerID, err := uuid.Parse(body.PractitionerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "practitioner_id must be a UUID")
			return
		}
		req.PractitionerID = &practitionerID
	}

	appt, err := h.service.Create(r.Context(), tenantID, req, userID)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

// Get returns one appointment.
// GET /appointments/{appointmentID}
func (h *AppointmentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}
	appointmentID, ok := parseIDParam(w, r, "appointmentID")
	if !ok {
		return
	}

	appt, err := h.service.Get(r.Context(), tenantID, appointmentID)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

type rescheduleRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Reschedule moves an appointment to a new interval.
// POST /appointments/{appointmentID}/reschedule
func (h *AppointmentsHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	appointmentID, ok := parseIDParam(w, r, "appointmentID")
	if !ok {
		return
	}

	var body rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	appt, err := h.service.Reschedule(r.Context(), tenantID, appointmentID, body.Start.UTC(), body.End.UTC(), userID)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Cancel cancels an appointment. Cancelling an already-cancelled or
// completed appointment reports cancelled=false rather than failing.
// POST /appointments/{appointmentID}/cancel
func (h *AppointmentsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	appointmentID, ok := parseIDParam(w, r, "appointmentID")
	if !ok {
		return
	}

	var body cancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	cancelled, err := h.service.Cancel(r.Context(), tenantID, appointmentID, body.Reason, userID)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled})
}

// Confirm marks a scheduled appointment as confirmed.
// POST /appointments/{appointmentID}/confirm
func (h *AppointmentsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	appointmentID, ok := parseIDParam(w, r, "appointmentID")
	if !ok {
		return
	}

	if err := h.service.Confirm(r.Context(), tenantID, appointmentID, userID); err != nil {
		h.writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"confirmed": true})
}

func (h *AppointmentsHandler) identity(w http.ResponseWriter, r *http.Request) (tenantID, userID uuid.UUID, ok bool) {
	tenantID, ok = tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no tenant in request context")
		return uuid.Nil, uuid.Nil, false
	}
	userID, _ = tenancy.UserIDFromContext(r.Context())
	return tenantID, userID, true
}

func (h *AppointmentsHandler) writeBookingError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch appointments.ReasonOf(err) {
	case appointments.ReasonValidation:
		status = http.StatusBadRequest
	case appointments.ReasonNotFound:
		status = http.StatusNotFound
	case appointments.ReasonConflict:
		conflicts := appointments.ConflictsOf(err)
		payload := map[string]any{
			"error":     "requested interval conflicts with existing appointments",
			"reason":    string(appointments.ReasonConflict),
			"conflicts": make([]AppointmentResponse, 0, len(conflicts)),
		}
		resps := payload["conflicts"].([]AppointmentResponse)
		for i := range conflicts {
			resps = append(resps, toAppointmentResponse(&conflicts[i]))
		}
		payload["conflicts"] = resps
		writeJSON(w, http.StatusConflict, payload)
		return
	case appointments.ReasonSystem:
		h.logger.Error("booking operation failed", "error", err)
	}

	message := "internal error"
	var be *appointments.BookingError
	if appointments.ReasonOf(err) != appointments.ReasonSystem && errors.As(err, &be) {
		message = be.Message
	}
	writeJSON(w, status, map[string]any{
		"error":  message,
		"reason": string(appointments.ReasonOf(err)),
	})
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
