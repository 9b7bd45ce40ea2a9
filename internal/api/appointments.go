package api

import (
	"net/http"

	"eyeclinic/internal/booking"
	"eyeclinic/internal/metrics"
	"eyeclinic/internal/model"

	"github.com/go-chi/chi/v5"
)

// CreateAppointmentRequest is the body of POST /api/v1/appointments (the
// public booking page) and POST /api/v1/diary/appointments (staff).
type CreateAppointmentRequest struct {
	Date       string        `json:"date"`  // YYYY-MM-DD
	Start      string        `json:"start"` // HH:MM
	Service    string        `json:"service"`
	PatientRef string        `json:"patient_ref,omitempty"`
	Patient    model.Patient `json:"patient"`
	// Source may only restate the route's own source.
	Source string `json:"source,omitempty"`
}

// EditAppointmentRequest is the body of PATCH /api/v1/appointments/{id}.
// Omitted fields stay as they are.
type EditAppointmentRequest struct {
	Date       *string        `json:"date,omitempty"`
	Start      *string        `json:"start,omitempty"`
	Service    *string        `json:"service,omitempty"`
	PatientRef *string        `json:"patient_ref,omitempty"`
	Patient    *model.Patient `json:"patient,omitempty"`
}

// MoveRequest is the body of POST /api/v1/appointments/{id}/move.
type MoveRequest struct {
	Date  string `json:"date"`
	Start string `json:"start"`
}

// StatusRequest is the body of POST /api/v1/appointments/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// POST /api/v1/appointments books on behalf of a patient, so the same-day
// cutoff and lead time always apply.
func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_appointment")
	s.create(w, r, model.SourceOnlinePatient)
}

// POST /api/v1/diary/appointments is the staff diary's booking route.
func (s *HTTPServer) handleStaffCreate(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("staff_create_appointment")
	s.create(w, r, model.SourceStaff)
}

func (s *HTTPServer) create(w http.ResponseWriter, r *http.Request, source model.Source) {
	var req CreateAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Source != "" && model.Source(req.Source) != source {
		writeError(w, http.StatusBadRequest, "source must be "+string(source)+" on this route")
		return
	}
	date, err := parseDateParam("date", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := parseClockParam("start", req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Service == "" {
		writeError(w, http.StatusBadRequest, "service is required")
		return
	}

	a, err := s.booking.Create(r.Context(), booking.CreateRequest{
		Date:       date,
		Start:      start,
		Service:    model.ServiceKind(req.Service),
		PatientRef: req.PatientRef,
		Patient:    req.Patient,
		Source:     source,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("get_appointment")
	a, err := s.booking.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *HTTPServer) handleEdit(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("edit_appointment")
	var req EditAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	edit := booking.EditRequest{Patient: req.Patient, PatientRef: req.PatientRef}
	if req.Date != nil {
		d, err := parseDateParam("date", *req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		edit.Date = &d
	}
	if req.Start != nil {
		c, err := parseClockParam("start", *req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		edit.Start = &c
	}
	if req.Service != nil {
		kind := model.ServiceKind(*req.Service)
		edit.Service = &kind
	}

	a, err := s.booking.Edit(r.Context(), chi.URLParam(r, "id"), edit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("cancel_appointment")
	if err := s.booking.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleMove(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("move_appointment")
	var req MoveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	date, err := parseDateParam("date", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := parseClockParam("start", req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := s.booking.Move(r.Context(), chi.URLParam(r, "id"), date, start)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("appointment_status")
	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	a, err := s.booking.SetStatus(r.Context(), chi.URLParam(r, "id"), model.Status(req.Status))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GET /api/v1/clinic/config
func (s *HTTPServer) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	metrics.IncHTTP("get_config")
	writeJSON(w, http.StatusOK, s.rules.Current())
}

// PATCH /api/v1/clinic/config takes a model.ConfigPatch. Collection members
// are merged element by element.
func (s *HTTPServer) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("patch_config")
	var patch model.ConfigPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cfg, err := s.rules.Apply(r.Context(), patch)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
