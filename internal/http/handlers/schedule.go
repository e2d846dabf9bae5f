package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cabinethq/scheduling-platform/internal/appointments"
	"github.com/cabinethq/scheduling-platform/internal/schedule"
	"github.com/cabinethq/scheduling-platform/internal/tenancy"
	"github.com/cabinethq/scheduling-platform/pkg/logging"
)

// ScheduleHandler exposes availability probes and schedule reads.
type ScheduleHandler struct {
	reader *schedule.Reader
	logger *logging.Logger
}

// NewScheduleHandler creates a new schedule handler.
func NewScheduleHandler(reader *schedule.Reader, logger *logging.Logger) *ScheduleHandler {
	if reader == nil {
		panic("handlers: schedule reader cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ScheduleHandler{
		reader: reader,
		logger: logger,
	}
}

// AvailabilityResponse reports whether a slot is free and what occupies it
// otherwise.
type AvailabilityResponse struct {
	Available bool                  `json:"available"`
	Conflicts []AppointmentResponse `json:"conflicts,omitempty"`
}

// CheckAvailability probes a candidate interval. The optional exclude
// parameter names an appointment to leave out of the check, for reschedule
// probes.
// GET /schedule/{practitionerID}/availability?start=...&end=...&exclude=...
func (h *ScheduleHandler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no tenant in request context")
		return
	}
	practitionerID, ok := parseIDParam(w, r, "practitionerID")
	if !ok {
		return
	}
	start, ok := parseTimeParam(w, r, "start")
	if !ok {
		return
	}
	end, ok := parseTimeParam(w, r, "end")
	if !ok {
		return
	}
	var excludeID *uuid.UUID
	if raw := r.URL.Query().Get("exclude"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "exclude must be a UUID")
			return
		}
		excludeID = &id
	}

	avail, err := h.reader.CheckAvailability(r.Context(), tenantID, practitionerID, start, end, excludeID)
	if err != nil {
		h.writeScheduleError(w, err)
		return
	}
	resp := AvailabilityResponse{Available: avail.Available}
	for i := range avail.Conflicts {
		resp.Conflicts = append(resp.Conflicts, toAppointmentResponse(&avail.Conflicts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ScheduleResponse is a practitioner's appointment list for a window.
type ScheduleResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

// GetSchedule returns the practitioner's appointments in a window.
// GET /schedule/{practitionerID}?from=...&to=...
// GET /schedule/{practitionerID}?date=2026-03-02&timezone=America/Chicago
func (h *ScheduleHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no tenant in request context")
		return
	}
	practitionerID, ok := parseIDParam(w, r, "practitionerID")
	if !ok {
		return
	}

	var (
		appts []appointments.Appointment
		err   error
	)
	if date := r.URL.Query().Get("date"); date != "" {
		day, perr := time.Parse("2006-01-02", date)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		timezone := r.URL.Query().Get("timezone")
		if timezone == "" {
			timezone = "UTC"
		}
		appts, err = h.reader.GetDaySchedule(r.Context(), tenantID, practitionerID, day, timezone)
	} else {
		from, ok := parseTimeParam(w, r, "from")
		if !ok {
			return
		}
		to, ok := parseTimeParam(w, r, "to")
		if !ok {
			return
		}
		appts, err = h.reader.GetPractitionerSchedule(r.Context(), tenantID, practitionerID, from, to)
	}
	if err != nil {
		h.writeScheduleError(w, err)
		return
	}

	resp := ScheduleResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
	for i := range appts {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ScheduleHandler) writeScheduleError(w http.ResponseWriter, err error) {
	switch appointments.ReasonOf(err) {
	case appointments.ReasonValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	case appointments.ReasonNotFound:
		writeError(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error("schedule read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseTimeParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be an RFC3339 timestamp")
		return time.Time{}, false
	}
	return t.UTC(), true
}
